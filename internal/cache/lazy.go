package cache

import (
	"context"
	"sync"
)

// lazyInit runs a store's one-time setup on first use. Only success is
// remembered; a failed attempt, including one cut short by its context, is
// retried by the next caller.
type lazyInit struct {
	mu   sync.Mutex
	done bool
}

func (l *lazyInit) Do(ctx context.Context, fn func(context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return nil
	}
	if err := fn(ctx); err != nil {
		return err
	}
	l.done = true
	return nil
}
