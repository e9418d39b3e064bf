package service

import (
	"context"
	"sync"
	"sync/atomic"
)

// SyncGuard admits at most one full sync at a time. The zero value is ready
// to use.
type SyncGuard struct {
	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSyncGuard creates an idle guard.
func NewSyncGuard() *SyncGuard {
	return &SyncGuard{}
}

// TryAcquire moves the guard from idle to running. It reports false when a
// sync already holds it.
func (g *SyncGuard) TryAcquire() bool {
	return g.running.CompareAndSwap(false, true)
}

// Release returns the guard to idle and forgets the cancel function.
func (g *SyncGuard) Release() {
	g.mu.Lock()
	g.cancel = nil
	g.mu.Unlock()
	g.running.Store(false)
}

// InProgress reports whether a sync holds the guard.
func (g *SyncGuard) InProgress() bool {
	return g.running.Load()
}

// setCancel registers the abort function of the running sync.
func (g *SyncGuard) setCancel(cancel context.CancelFunc) {
	g.mu.Lock()
	g.cancel = cancel
	g.mu.Unlock()
}

// Cancel aborts the running sync. It reports false when nothing is running.
func (g *SyncGuard) Cancel() bool {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()

	if cancel == nil || !g.InProgress() {
		return false
	}
	cancel()
	return true
}
