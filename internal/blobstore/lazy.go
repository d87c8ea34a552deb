package blobstore

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Lazy opens a backend handle on first use and caches it for the lifetime of
// the process. Concurrent first callers share a single in-flight open. A failed
// open is not cached, so the next call tries again.
type Lazy[T any] struct {
	open  func(ctx context.Context) (T, error)
	group singleflight.Group

	mu      sync.Mutex
	val     T
	ready   bool
	closed  bool
	closeFn func(T) error
}

func NewLazy[T any](open func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{open: open}
}

// Get returns the cached handle, opening it if needed. Open failures are
// reported as ErrStorageUnavailable.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	if v, ok := l.cached(); ok {
		return v, nil
	}

	v, err, _ := l.group.Do("open", func() (any, error) {
		if v, ok := l.cached(); ok {
			return v, nil
		}
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return nil, fmt.Errorf("store closed")
		}

		v, err := l.open(ctx)
		if err != nil {
			return nil, err
		}

		l.mu.Lock()
		if l.closed {
			// Close ran while the open was in flight.
			closeFn := l.closeFn
			l.mu.Unlock()
			if closeFn != nil {
				if cerr := closeFn(v); cerr != nil {
					return nil, fmt.Errorf("store closed (also failed to close handle: %v)", cerr)
				}
			}
			return nil, fmt.Errorf("store closed")
		}
		l.val, l.ready = v, true
		l.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return v.(T), nil
}

// Close marks the handle closed and passes it to closeFn if it was ever opened.
// A handle whose open is still in flight is passed to closeFn once the open
// completes.
func (l *Lazy[T]) Close(closeFn func(T) error) error {
	l.mu.Lock()
	v, ready := l.val, l.ready
	var zero T
	l.val, l.ready, l.closed = zero, false, true
	l.closeFn = closeFn
	l.mu.Unlock()

	if !ready || closeFn == nil {
		return nil
	}
	return closeFn(v)
}

func (l *Lazy[T]) cached() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.val, l.ready
}
