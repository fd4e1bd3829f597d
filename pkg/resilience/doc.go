// Package resilience protects calls to unreliable downstreams with bounded
// retries and a three-state circuit breaker.
//
// The two mechanisms are independent and composable:
//
//   - Retry      — bounded attempts with pluggable backoff; only errors the
//     Classifier reports as retryable trigger another attempt
//   - Breaker    — per-target closed/open/half-open circuit over a StateStore
//   - Executor   — composes both plus a per-attempt timeout
//
// Circuit state is kept in a StateStore rather than process memory so that
// horizontally scaled workers observe the same circuit decisions. Two
// implementations are provided: MemoryStore for tests and single-instance
// deployments, and RedisStore for shared state.
//
// # Usage
//
//	store, _ := resilience.NewRedisStore(redisClient)
//	breaker, _ := resilience.NewBreaker(store)
//	exec, _ := resilience.NewExecutor(breaker,
//	    resilience.WithRetryAttempts(3),
//	    resilience.WithCallTimeout(10*time.Second),
//	)
//
//	err := exec.Do(ctx, "instagram", func(ctx context.Context) error {
//	    return client.Publish(ctx, payload)
//	})
//	if resilience.IsCircuitOpen(err) {
//	    // fail fast, no call was made
//	}
//
// # Error Handling
//
// Wrap known-transient failures with Transient and known-final ones with
// Permanent to steer the DefaultClassifier; or supply a custom Classifier.
package resilience
