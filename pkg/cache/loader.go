package cache

import (
	"context"
	"fmt"

	"github.com/c360/smartcache/errors"
)

// GetOrLoad returns the live value for key, or runs load on a miss and
// stores its result. Concurrent callers missing on the same key share a
// single load.
func (s *Store[V]) GetOrLoad(ctx context.Context, key string, load Loader[V]) (V, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}
	return s.Load(ctx, key, load)
}

// Load runs load regardless of what is cached and stores the result.
// Concurrent Load calls for the same key share one execution. The shared
// load keeps the first caller's values and deadline but not its
// cancellation, so a caller that gives up does not fail the others; it
// stops only at that deadline or when the store is closed.
//
// When the value was produced but could not be stored (for example the
// store is full under the reject policy) Load returns both the value and
// the error.
func (s *Store[V]) Load(ctx context.Context, key string, load Loader[V]) (V, error) {
	var zero V
	if load == nil {
		return zero, errors.WrapInvalid(errors.ErrNilFetcher, "cache", "Load", "validate loader")
	}

	ch := s.loads.DoChan(key, func() (any, error) {
		s.mu.Lock()
		s.loadSeq++
		seq := s.loadSeq
		s.inflight[key] = seq
		s.mu.Unlock()

		lctx, cancel := s.loadContext(ctx)
		defer cancel()

		v, err := safeLoad(lctx, load)
		if err != nil {
			s.mu.Lock()
			if s.inflight[key] == seq {
				delete(s.inflight, key)
			}
			s.mu.Unlock()
			return v, err
		}
		stored, err := s.put(key, v, s.cfg.DefaultTTL, seq)
		if err != nil {
			s.logger.Warn("Loaded value not cached", "key", key, "error", err)
			return v, err
		}
		if !stored {
			s.logger.Debug("Superseded load not cached", "key", key)
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		v, _ := res.Val.(V)
		return v, res.Err
	}
}

// Forget detaches any in-flight load for key. The next Load starts a new
// call, and the detached one no longer writes its result to the store.
func (s *Store[V]) Forget(key string) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
	s.loads.Forget(key)
}

// loadContext derives the context a shared load runs under.
func (s *Store[V]) loadContext(ctx context.Context) (context.Context, context.CancelFunc) {
	lctx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if deadline, ok := ctx.Deadline(); ok {
		lctx, cancel = context.WithDeadline(lctx, deadline)
	} else {
		lctx, cancel = context.WithCancel(lctx)
	}
	go func() {
		select {
		case <-s.shutdown:
			cancel()
		case <-lctx.Done():
		}
	}()
	return lctx, cancel
}

// safeLoad converts a panic in load into an error so a shared load never
// takes the process down.
func safeLoad[V any](ctx context.Context, load Loader[V]) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrFetchPanicked, r),
				"cache", "Load", "run loader")
		}
	}()
	return load(ctx)
}
