package binding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/smartcache/errors"
	"github.com/c360/smartcache/pkg/cache"
	"github.com/c360/smartcache/pkg/retry"
	"github.com/c360/smartcache/pkg/trigger"
	"github.com/c360/smartcache/pkg/worker"
)

// Fetcher produces the value for a binding's key. Parameters it depends on
// are captured by closure and mirrored in the dependency list.
type Fetcher[V any] func(ctx context.Context) (V, error)

// Revalidation reasons used in logs and metrics.
const (
	ReasonStart        = "start"
	ReasonEnabled      = "enabled"
	ReasonDependencies = "dependencies"
	ReasonRefetch      = "refetch"
	ReasonInvalidate   = "invalidate"
)

// Binding ties one cache key to a fetcher and keeps an observable State.
type Binding[V any] struct {
	id      string
	name    string
	key     string
	store   *cache.Store[V]
	fetcher Fetcher[V]
	opts    options
	metrics *bindingMetrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State[V]
	deps    []any
	enabled bool
	started bool
	closed  bool
	gen     uint64 // bumped by every fetch start, Invalidate and Close
	subs    map[chan State[V]]struct{}
}

// New creates a Binding for key on store. Nothing is fetched until Start.
func New[V any](store *cache.Store[V], key string, fetcher Fetcher[V], opts ...Option) (*Binding[V], error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "binding", "New", "store is required")
	}
	if key == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidKey, "binding", "New", "key is required")
	}
	if fetcher == nil {
		return nil, errors.WrapInvalid(errors.ErrNilFetcher, "binding", "New", "fetcher is required")
	}

	o := options{
		enabled:        true,
		refetchOnFocus: true,
		executor:       goExecutor{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = key
	}
	if o.retry != nil {
		if err := o.retry.Validate(); err != nil {
			return nil, errors.WrapInvalid(err, "binding", "New", "retry config")
		}
	}

	var metrics *bindingMetrics
	if o.metricsReg != nil {
		var err error
		if metrics, err = newBindingMetrics(o.metricsReg, o.name); err != nil {
			return nil, errors.WrapTransient(err, "binding", "New", "metrics registration")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Binding[V]{
		id:      id,
		name:    o.name,
		key:     key,
		store:   store,
		fetcher: fetcher,
		opts:    o,
		metrics: metrics,
		logger:  o.logger.With("component", "binding", "binding", o.name, "key", key),
		ctx:     ctx,
		cancel:  cancel,
		state:   State[V]{Phase: PhaseIdle},
		deps:    o.deps,
		enabled: o.enabled,
		subs:    make(map[chan State[V]]struct{}),
	}, nil
}

// ID returns a unique identifier for this binding instance.
func (b *Binding[V]) ID() string { return b.id }

// Name returns the binding name.
func (b *Binding[V]) Name() string { return b.name }

// Key returns the bound cache key.
func (b *Binding[V]) Key() string { return b.key }

// Start performs the first evaluation and subscribes to triggers. The
// binding is closed when ctx is done. Calling Start again is a no-op.
func (b *Binding[V]) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.ErrBindingClosed
	}
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	enabled := b.enabled
	b.mu.Unlock()

	context.AfterFunc(ctx, b.Close)
	for _, src := range b.opts.triggers {
		go b.listen(src)
	}

	if enabled {
		b.evaluate(false, ReasonStart)
	}
	return nil
}

// SetEnabled turns fetching on or off. Enabling a started binding evaluates
// it immediately.
func (b *Binding[V]) SetEnabled(enabled bool) {
	b.mu.Lock()
	changed := b.enabled != enabled
	b.enabled = enabled
	run := changed && enabled && b.started && !b.closed
	b.mu.Unlock()

	if run {
		b.evaluate(false, ReasonEnabled)
	}
}

// SetDependencies replaces the dependency list. A shallow change forces a
// refetch that bypasses the cache. It reports whether the list changed.
func (b *Binding[V]) SetDependencies(deps ...any) bool {
	b.mu.Lock()
	if depsEqual(b.deps, deps) {
		b.mu.Unlock()
		return false
	}
	b.deps = append([]any(nil), deps...)
	run := b.enabled && b.started && !b.closed
	b.mu.Unlock()

	if run {
		b.evaluate(true, ReasonDependencies)
	}
	return true
}

// Refetch fetches regardless of cache freshness and waits for the result.
// The error is also recorded in State.
func (b *Binding[V]) Refetch(ctx context.Context) error {
	done := b.evaluate(true, ReasonRefetch)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invalidate deletes the cache entry and resets the data synchronously.
// A started, enabled binding then refetches in the background.
func (b *Binding[V]) Invalidate() {
	b.store.Delete(b.key)
	b.store.Forget(b.key)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.gen++
	b.state = State[V]{Phase: PhaseIdle, UpdatedAt: time.Now()}
	b.publishLocked()
	run := b.enabled && b.started
	b.mu.Unlock()

	if run {
		b.evaluate(true, ReasonInvalidate)
	}
}

// ClearCache clears the whole underlying store, not just this key.
func (b *Binding[V]) ClearCache() {
	b.store.Clear()
}

// CacheStats returns the underlying store's statistics.
func (b *Binding[V]) CacheStats() cache.Stats {
	return b.store.Stats()
}

// State returns the current snapshot.
func (b *Binding[V]) State() State[V] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Subscribe returns a channel receiving state snapshots. Only the latest
// undelivered snapshot is kept, so slow readers skip intermediate states.
// The channel is closed by cancel or Close.
func (b *Binding[V]) Subscribe() (<-chan State[V], func()) {
	ch := make(chan State[V], 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	ch <- b.state
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Close tears the binding down. Results of fetches still running are
// discarded. Close is idempotent.
func (b *Binding[V]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.gen++
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()

	b.cancel()
	b.logger.Debug("Binding closed")
}

// evaluate runs one Checking step. Unless force is set a live cache entry
// satisfies it without fetching. The returned channel yields the outcome.
func (b *Binding[V]) evaluate(force bool, reason string) <-chan error {
	done := make(chan error, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		done <- errors.ErrBindingClosed
		return done
	}
	if !b.enabled {
		b.mu.Unlock()
		done <- errors.ErrBindingDisabled
		return done
	}

	if !force {
		b.state.Phase = PhaseChecking
		if v, ok := b.store.Get(b.key); ok {
			b.state = State[V]{Phase: PhaseFresh, Data: v, HasData: true, UpdatedAt: time.Now()}
			b.publishLocked()
			b.mu.Unlock()
			done <- nil
			return done
		}
	} else {
		b.metrics.recordRevalidation(reason)
	}

	b.gen++
	gen := b.gen
	b.state.Phase = PhaseFetching
	b.state.IsLoading = true
	b.state.IsStale = b.state.HasData
	b.publishLocked()
	b.mu.Unlock()

	b.logger.Debug("Fetching", "reason", reason, "force", force)
	if force {
		// A forced fetch must call the fetcher again, not join a call
		// started under older dependencies.
		b.store.Forget(b.key)
	}

	task := func(context.Context) error {
		err := b.fetch(gen)
		done <- err
		return err
	}
	if err := b.opts.executor.Submit(task); err != nil {
		err = errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrResourceExhausted, err),
			"binding", "evaluate", "submit fetch")
		b.settle(gen, *new(V), err)
		done <- err
	}
	return done
}

// fetch loads through the store so concurrent requesters of the key share
// one fetcher call, then applies the outcome if gen is still current.
// Closing the binding abandons the wait but not the shared call.
func (b *Binding[V]) fetch(gen uint64) error {
	ctx := b.ctx
	if b.opts.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.fetchTimeout)
		defer cancel()
	}

	start := time.Now()
	v, err := b.store.Load(ctx, b.key, b.loader())
	if err != nil && errors.Is(err, errors.ErrCapacityExceeded) {
		// The value is good, it just could not be cached.
		b.logger.Warn("Fetched value not cached", "error", err)
		err = nil
	}
	if err != nil {
		err = errors.Wrap(fmt.Errorf("%w: %w", errors.ErrFetchFailed, err), "binding", "fetch", b.key)
	}
	b.metrics.recordFetch(time.Since(start).Seconds(), err)

	b.settle(gen, v, err)
	return err
}

func (b *Binding[V]) loader() cache.Loader[V] {
	fetch := cache.Loader[V](b.fetcher)
	if b.opts.retry == nil {
		return fetch
	}
	cfg := *b.opts.retry
	return func(ctx context.Context) (V, error) {
		return retry.DoWithResult(ctx, cfg, func(ctx context.Context) (V, error) {
			return fetch(ctx)
		})
	}
}

// settle applies a fetch outcome unless the binding moved on.
func (b *Binding[V]) settle(gen uint64, v V, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || gen != b.gen {
		b.logger.Debug("Discarding superseded fetch result")
		return
	}

	b.state.IsLoading = false
	b.state.IsStale = false
	b.state.UpdatedAt = time.Now()
	if err != nil {
		b.state.Phase = PhaseErrored
		b.state.Err = err
		b.logger.Warn("Fetch failed", "error", err)
	} else {
		b.state.Phase = PhaseFresh
		b.state.Data = v
		b.state.HasData = true
		b.state.Err = nil
	}
	b.publishLocked()
}

// publishLocked hands the current state to every subscriber, replacing any
// snapshot they have not read yet.
func (b *Binding[V]) publishLocked() {
	for ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- b.state
	}
}

func (b *Binding[V]) listen(src trigger.Source) {
	for sig := range src.Signals(b.ctx) {
		b.handleSignal(sig)
	}
}

func (b *Binding[V]) handleSignal(sig trigger.Signal) {
	if !sig.Matches(b.key) {
		return
	}
	if sig.Event.IsEnvironment() && !b.opts.refetchOnFocus {
		return
	}

	b.mu.Lock()
	run := b.enabled && b.started && !b.closed
	b.mu.Unlock()
	if !run {
		return
	}

	if sig.Event == trigger.EventInvalidate {
		b.Invalidate()
		return
	}
	b.evaluate(true, string(sig.Event))
}

// NewExecutor creates a bounded fetch executor backed by a worker pool. The
// pool must be started before use.
func NewExecutor(workers, queueSize int, opts ...worker.Option[worker.Task]) (*worker.Pool[worker.Task], error) {
	return worker.NewTaskPool(workers, queueSize, opts...)
}
