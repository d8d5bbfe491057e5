// Package monitoring watches the dev servers' ports and announces when they
// start accepting connections. It is informational only: a server that never
// becomes ready is not an error.
package monitoring

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/core-tools/hsu-devrun/pkg/errors"
	"github.com/core-tools/hsu-devrun/pkg/logging"
)

type ReadinessStatus string

const (
	ReadinessStatusUnknown ReadinessStatus = "unknown"
	ReadinessStatusWaiting ReadinessStatus = "waiting"
	ReadinessStatusReady   ReadinessStatus = "ready"
	ReadinessStatusStopped ReadinessStatus = "stopped"
)

const (
	DefaultReadinessInterval = 500 * time.Millisecond
	DefaultReadinessTimeout  = 250 * time.Millisecond
)

type TCPReadinessConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type ReadinessConfig struct {
	// Name labels the announcement, e.g. "frontend".
	Name string `yaml:"name"`
	// URL is what gets announced once the port accepts connections.
	URL string             `yaml:"url,omitempty"`
	TCP TCPReadinessConfig `yaml:"tcp"`

	Interval time.Duration `yaml:"interval,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	// Deadline bounds the whole wait; zero waits until stopped.
	Deadline time.Duration `yaml:"deadline,omitempty"`
}

type ReadinessState struct {
	Status   ReadinessStatus
	Attempts int
	ReadyAt  time.Time
	Message  string
}

// AnnounceFunc is called once when the watched port becomes reachable.
type AnnounceFunc func(name, url string)

type ReadinessWatcher interface {
	Start(ctx context.Context) error
	Stop()
	State() ReadinessState
}

type readinessWatcher struct {
	config   ReadinessConfig
	announce AnnounceFunc
	dial     func(ctx context.Context, network, address string) (net.Conn, error)
	logger   logging.Logger

	state    ReadinessState
	mutex    sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewReadinessWatcher(config ReadinessConfig, announce AnnounceFunc, logger logging.Logger) ReadinessWatcher {
	if config.Interval <= 0 {
		config.Interval = DefaultReadinessInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultReadinessTimeout
		if config.Timeout > config.Interval {
			config.Timeout = config.Interval
		}
	}
	if config.TCP.Address == "" {
		config.TCP.Address = "localhost"
	}
	dialer := &net.Dialer{}
	return &readinessWatcher{
		config:   config,
		announce: announce,
		dial:     dialer.DialContext,
		logger:   logger,
		state:    ReadinessState{Status: ReadinessStatusUnknown},
		stopChan: make(chan struct{}),
	}
}

func (w *readinessWatcher) Start(ctx context.Context) error {
	if err := ValidateReadinessConfig(w.config); err != nil {
		w.logger.Errorf("Readiness configuration validation failed, name: %s, error: %v", w.config.Name, err)
		return errors.NewValidationError("invalid readiness configuration", err).WithContext("name", w.config.Name)
	}

	w.logger.Debugf("Starting readiness watcher, name: %s, address: %s", w.config.Name, w.address())

	w.setStatus(ReadinessStatusWaiting, "")
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop ends the watcher and waits for its goroutine. Safe to call more than once.
func (w *readinessWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
}

func (w *readinessWatcher) State() ReadinessState {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.state
}

func (w *readinessWatcher) loop(ctx context.Context) {
	defer w.wg.Done()

	if w.config.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Deadline)
		defer cancel()
	}

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		if ok, message := w.check(ctx); ok {
			w.markReady(message)
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			w.setStatus(ReadinessStatusStopped, "readiness wait ended: "+ctx.Err().Error())
			w.logger.Debugf("Readiness watcher ended, name: %s, reason: %v", w.config.Name, ctx.Err())
			return
		case <-w.stopChan:
			w.setStatus(ReadinessStatusStopped, "stopped")
			w.logger.Debugf("Readiness watcher stopped, name: %s", w.config.Name)
			return
		}
	}
}

func (w *readinessWatcher) check(ctx context.Context) (bool, string) {
	w.mutex.Lock()
	w.state.Attempts++
	w.mutex.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	address := w.address()
	conn, err := w.dial(dialCtx, "tcp", address)
	if err != nil {
		return false, fmt.Sprintf("TCP connection failed: %v", err)
	}
	conn.Close()

	return true, fmt.Sprintf("TCP connection successful to %s", address)
}

func (w *readinessWatcher) markReady(message string) {
	w.mutex.Lock()
	w.state.Status = ReadinessStatusReady
	w.state.ReadyAt = time.Now()
	w.state.Message = message
	attempts := w.state.Attempts
	w.mutex.Unlock()

	w.logger.Debugf("Readiness check passed, name: %s, attempts: %d", w.config.Name, attempts)
	if w.announce != nil {
		w.announce(w.config.Name, w.config.URL)
	}
}

func (w *readinessWatcher) setStatus(status ReadinessStatus, message string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.state.Status == ReadinessStatusReady {
		return
	}
	w.state.Status = status
	w.state.Message = message
}

func (w *readinessWatcher) address() string {
	return net.JoinHostPort(w.config.TCP.Address, strconv.Itoa(w.config.TCP.Port))
}

// ValidateReadinessConfig validates readiness configuration
func ValidateReadinessConfig(config ReadinessConfig) error {
	if config.Name == "" {
		return errors.NewValidationError("readiness name is required", nil)
	}
	if config.TCP.Port <= 0 || config.TCP.Port > 65535 {
		return errors.NewValidationError("TCP port must be between 1 and 65535", nil)
	}
	if config.Interval < 0 || config.Timeout < 0 || config.Deadline < 0 {
		return errors.NewValidationError("readiness durations cannot be negative", nil)
	}
	if config.Timeout > 0 && config.Interval > 0 && config.Timeout > config.Interval {
		return errors.NewValidationError("readiness timeout must not exceed interval", nil)
	}
	return nil
}
