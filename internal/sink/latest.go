package sink

import (
	"context"
	"sync"

	"github.com/signalsfoundry/gpsfix/model"
)

// Latest remembers the most recent acknowledged fix and how many were
// acknowledged. It backs the health endpoint.
type Latest struct {
	mu    sync.RWMutex
	fix   *model.Fix
	count int
}

func (l *Latest) Name() string { return "latest" }

func (l *Latest) Publish(_ context.Context, fix model.Fix) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fix = &fix
	l.count++
	return nil
}

// Snapshot returns a copy of the last fix, if any, and the fix count.
func (l *Latest) Snapshot() (*model.Fix, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.fix == nil {
		return nil, l.count
	}
	f := *l.fix
	return &f, l.count
}
