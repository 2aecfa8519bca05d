// Package binding keeps a fetched value in sync with a cache entry.
//
// A Binding ties one cache key to a Fetcher. On Start, and whenever it is
// re-enabled or its dependencies change, it serves the key from the store
// if present and otherwise runs the fetcher and stores the result. Forced
// revalidation (Refetch, focus and visibility signals, remote revalidate
// messages) always calls the fetcher and overwrites the entry.
//
//	store, _ := cache.New[[]Product](ctx, cache.DefaultConfig())
//	b, err := binding.New(store, binding.Key("shop", shopID, "products"),
//		func(ctx context.Context) ([]Product, error) { return api.Products(ctx, shopID) },
//		binding.WithDependencies(shopID),
//		binding.WithTriggers(focusHandler),
//	)
//	if err != nil {
//		return err
//	}
//	if err := b.Start(ctx); err != nil {
//		return err
//	}
//	states, cancel := b.Subscribe()
//	defer cancel()
//
// State moves through idle, checking, fetching and then fresh or errored.
// While a revalidation is in flight the last good data stays visible with
// IsStale set. A failed fetch keeps that data and records the error.
//
// Every fetch carries a generation number. A result whose generation has
// been superseded by a later fetch, an Invalidate or Close is dropped, so
// consumers never see data older than what they already observed.
//
// Bindings sharing a store must use distinct keys for distinct fetchers.
// Concurrent loads of the same key are collapsed into one fetcher call.
package binding
