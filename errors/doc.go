// Package errors provides standardized error handling for smartcache.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid (bad
// input or misuse, do not retry) and Fatal (stop processing). Classification drives
// two decisions in this module: whether the binding's optional retry policy
// re-runs a failed fetch, and how the admin server maps errors to HTTP status codes.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three helpers attach a class while wrapping:
//
//	errors.WrapTransient(err, "binding", "fetch", "load products")
//	errors.WrapInvalid(errors.ErrInvalidKey, "cache", "Set", "validate key")
//	errors.WrapFatal(err, "config", "Load", "read file")
//
// Wrapped errors keep their chain, so errors.Is and errors.As still find the
// sentinel underneath:
//
//	if errors.Is(err, errors.ErrCapacityExceeded) {
//		// store is full and LRU eviction is disabled
//	}
//
// # Standard Error Variables
//
// Cache: ErrInvalidKey, ErrCapacityExceeded, ErrKeyNotFound, ErrCacheClosed.
//
// Binding: ErrFetchFailed, ErrFetchPanicked, ErrBindingClosed, ErrBindingDisabled,
// ErrNilFetcher.
//
// Transport: ErrNoConnection, ErrNotConnected, ErrConnectionLost,
// ErrConnectionTimeout, ErrSubscriptionFailed.
//
// Configuration: ErrInvalidConfig, ErrMissingConfig, ErrConfigNotFound.
//
// # Retry Integration
//
// RetryConfig expresses retry intent in "additional attempts" and converts to the
// retry package's Config with ToRetryConfig. The converted config only retries
// errors that IsTransient accepts.
package errors
