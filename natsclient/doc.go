// Package natsclient manages a core NATS connection for cross-instance
// cache revalidation, with a circuit breaker in front of connection attempts
// and health reporting.
//
// The client moves through Disconnected, Connecting, Connected and
// Reconnecting. After five consecutive failed attempts (configurable with
// WithCircuitBreakerThreshold) it opens the circuit: Connect fails fast with
// ErrCircuitOpen until the backoff elapses, and each further round of
// failures doubles the backoff up to WithMaxBackoff.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("smartcache"),
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(metrics),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	sub, err := client.Subscribe(ctx, "smartcache.revalidate", func(ctx context.Context, data []byte) {
//	    // each message gets its own 30s context
//	})
//	defer sub.Unsubscribe()
//
//	err = client.Publish(ctx, "smartcache.revalidate", payload)
//
// Only core publish/subscribe is used. There are no streams, consumers or
// key-value buckets.
//
// # Testing
//
// NewTestClient starts a nats container through testcontainers-go and
// returns a connected client. It skips under go test -short.
package natsclient
