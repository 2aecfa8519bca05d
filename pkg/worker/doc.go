// Package worker provides a generic, bounded worker pool.
//
// # Overview
//
// A Pool runs a fixed number of goroutines that take work items from a
// bounded queue. Submit never blocks: when the queue is full it returns
// ErrQueueFull and the item is counted as dropped. Bindings use a task pool
// as their fetch executor so a burst of focus events cannot start an
// unbounded number of concurrent fetches.
//
//	pool, err := worker.NewTaskPool(8, 128,
//		worker.WithMetricsRegistry[worker.Task](registry, "fetch"))
//	if err != nil {
//		return err
//	}
//	if err := pool.Start(ctx); err != nil {
//		return err
//	}
//	defer pool.Stop(5 * time.Second)
//
//	b, err := binding.New(store, key, fetch, binding.WithExecutor(pool))
//
// # Observability
//
// Statistics are always tracked with atomics and returned by Stats().
// WithMetricsRegistry additionally exports them as smartcache_worker_*
// metrics labelled by pool name.
//
// # Failure Handling
//
// A processor error or panic is counted as a failure. Panics are recovered so
// the worker keeps serving the queue.
//
// # Shutdown
//
// Stop closes the queue and waits for queued work to drain, returning
// ErrStopTimeout if that takes longer than the given timeout. Cancelling the
// context passed to Start makes workers exit without draining.
package worker
