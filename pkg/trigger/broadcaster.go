package trigger

import (
	"context"
	"sync"
	"time"
)

// Broadcaster fans signals out to every active subscription. Delivery never
// blocks: each subscriber has a one-slot buffer and a signal arriving while
// the slot is full is coalesced into the pending one. Invalidations are the
// exception. They queue behind the slot, one per key, so none is lost.
type Broadcaster struct {
	name string

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch      chan Signal
	wake    chan struct{}
	done    chan struct{}
	backlog []Signal // invalidations waiting for the slot, guarded by Broadcaster.mu
}

// queue adds an invalidation unless one for the same key is already waiting.
func (s *subscriber) queue(sig Signal) bool {
	for _, pending := range s.backlog {
		if pending.Key == sig.Key {
			return false
		}
	}
	s.backlog = append(s.backlog, sig)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// NewBroadcaster creates a Broadcaster identified by name.
func NewBroadcaster(name string) *Broadcaster {
	return &Broadcaster{
		name: name,
		subs: make(map[*subscriber]struct{}),
	}
}

// NewManual returns a Broadcaster meant to be fired by application code.
func NewManual() *Broadcaster {
	return NewBroadcaster("manual")
}

// Name implements Source.
func (b *Broadcaster) Name() string {
	return b.name
}

// Signals implements Source.
func (b *Broadcaster) Signals(ctx context.Context) <-chan Signal {
	sub := &subscriber{
		ch:   make(chan Signal, 1),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go b.serve(ctx, sub)
	return sub.ch
}

// serve drains the invalidation backlog into the slot and owns closing the
// subscriber's channel.
func (b *Broadcaster) serve(ctx context.Context, sub *subscriber) {
	defer func() {
		b.mu.Lock()
		delete(b.subs, sub)
		close(sub.ch)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case <-sub.wake:
		}

		for {
			b.mu.Lock()
			if len(sub.backlog) == 0 {
				b.mu.Unlock()
				break
			}
			sig := sub.backlog[0]
			b.mu.Unlock()

			select {
			case sub.ch <- sig:
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			}

			b.mu.Lock()
			sub.backlog = sub.backlog[1:]
			b.mu.Unlock()
		}
	}
}

// Fire delivers sig to every subscriber. Zero Source and At are filled in.
// It returns the number of subscribers that took the signal rather than
// coalescing it.
func (b *Broadcaster) Fire(sig Signal) int {
	if sig.Source == "" {
		sig.Source = b.name
	}
	if sig.At.IsZero() {
		sig.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for sub := range b.subs {
		select {
		case sub.ch <- sig:
			delivered++
		default:
			if sig.Event == EventInvalidate && sub.queue(sig) {
				delivered++
			}
		}
	}
	return delivered
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Later Signals calls return closed channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.done)
	}
}
