//go:build !windows && !linux

package database

import "context"

var DefaultServiceCandidates []string

// ConnectServiceManager reports ErrNoServiceManager; on these platforms the
// database is assumed to be managed externally.
func ConnectServiceManager(ctx context.Context) (ServiceManager, error) {
	return nil, ErrNoServiceManager
}
