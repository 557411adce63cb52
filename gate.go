package lemonproxy

import (
	"context"
	"sync"
)

// gate is a single-resolution signal. The first wait starts init, every
// waiter observes the same result.
type gate struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newGate() *gate {
	return &gate{done: make(chan struct{})}
}

// wait starts init at most once and blocks until it resolves or ctx is done.
// init keeps running when ctx is cancelled.
func (g *gate) wait(ctx context.Context, init func() error) error {
	g.once.Do(func() {
		go func() {
			g.err = init()
			close(g.done)
		}()
	})

	select {
	case <-g.done:
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// seal resolves the gate with err unless it was started already, then waits
// for it to settle.
func (g *gate) seal(err error) error {
	g.once.Do(func() {
		g.err = err
		close(g.done)
	})

	<-g.done
	return g.err
}

func (g *gate) resolved() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}
