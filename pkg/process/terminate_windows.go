//go:build windows

package process

import (
	"os"
	"sync"

	"golang.org/x/sys/windows"
)

// Console control events are process-global; serialize them.
var consoleOperationLock sync.Mutex

// RequestGracefulStop sends CTRL_BREAK_EVENT to the process group created for p.
// If the event cannot be delivered the process is terminated outright.
func RequestGracefulStop(p *os.Process) error {
	consoleOperationLock.Lock()
	err := windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(p.Pid))
	consoleOperationLock.Unlock()
	if err == nil {
		return nil
	}
	return p.Kill()
}

// ForceKill calls TerminateProcess on p.
func ForceKill(p *os.Process) error {
	if err := p.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}
