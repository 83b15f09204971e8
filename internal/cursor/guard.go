package cursor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 25 * time.Millisecond

// Guard serializes read-modify-write sequences on shared state: a poll
// cycle's load, read and save, or a configuration rewrite. Within the process
// it is a one-slot semaphore; across processes it holds an advisory file lock.
type Guard struct {
	slot chan struct{}
	file *flock.Flock
}

// NewGuard creates a guard. An empty lockPath restricts it to this process.
func NewGuard(lockPath string) *Guard {
	g := &Guard{slot: make(chan struct{}, 1)}
	if lockPath != "" {
		g.file = flock.New(lockPath)
	}
	return g
}

// Lock blocks until the guard is held or ctx is done. The returned function
// releases it and must be called exactly once.
func (g *Guard) Lock(ctx context.Context) (func(), error) {
	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if g.file == nil {
		return func() { <-g.slot }, nil
	}

	if err := os.MkdirAll(filepath.Dir(g.file.Path()), 0o755); err != nil {
		<-g.slot
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	ok, err := g.file.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		<-g.slot
		return nil, fmt.Errorf("acquire state lock: %w", err)
	}
	if !ok {
		<-g.slot
		return nil, fmt.Errorf("acquire state lock: %s is held", g.file.Path())
	}

	return func() {
		_ = g.file.Unlock()
		<-g.slot
	}, nil
}
