// Package retry provides exponential backoff retry logic for transient failures.
//
// Bindings use it to re-run a failed fetcher when a retry policy is configured,
// and the NATS client uses Quick() while establishing its first connection.
//
// # Usage
//
//	products, err := retry.DoWithResult(ctx, retry.DefaultConfig(),
//		func(ctx context.Context) ([]Product, error) {
//			return backend.ListProducts(ctx, shopID)
//		})
//
// Errors wrapped with NonRetryable stop the loop immediately. RetryIf narrows
// retries further, for example to transient errors only.
//
// # Context Cancellation
//
// Do stops as soon as ctx is cancelled, either between attempts or during the
// backoff delay, and returns an error wrapping ctx.Err().
package retry
