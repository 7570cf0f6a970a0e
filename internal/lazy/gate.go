package lazy

import (
	"context"
	"sync"
)

// Gate is a one-shot activation signal. Waiters block until Open is called;
// after that every Wait returns immediately.
type Gate struct {
	once sync.Once
	mu   sync.Mutex
	ch   chan struct{}
}

func (g *Gate) channel() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch == nil {
		g.ch = make(chan struct{})
	}
	return g.ch
}

// Open fires the signal. It reports whether this call was the one that opened
// the gate; later calls are no-ops.
func (g *Gate) Open() bool {
	opened := false
	g.once.Do(func() {
		close(g.channel())
		opened = true
	})
	return opened
}

// Opened reports whether the gate has fired.
func (g *Gate) Opened() bool {
	select {
	case <-g.channel():
		return true
	default:
		return false
	}
}

// Wait blocks until the gate opens or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.channel():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
