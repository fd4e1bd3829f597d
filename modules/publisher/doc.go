// Package publisher executes publish jobs against social platforms.
//
// The Worker is a queue handler for scheduler.PublishTask payloads. Every
// delivery runs the same gauntlet: ledger check (drop duplicates), post row
// re-check (drop orphans and terminal posts), token resolution, then the
// platform call through the resilience executor (retry + circuit breaker).
//
// Outcome mapping is the heart of the package:
//
//   - success: external id and permalink written to the row, ledger marked.
//   - terminal platform rejection (*PublishError, Retryable=false): failure
//     message persisted verbatim, partial external id kept, ledger marked,
//     nil returned so the queue does not retry.
//   - retryable failure or open circuit: error returned, no ledger mark,
//     the queue's backoff schedule owns the next attempt.
//   - terminal credential failure: post failed, ledger marked; the
//     credential manager has already deactivated the account.
//
// Platform adapters implement PlatformPublisher and return *PublishError so
// retryability is decided in one place, by the adapter that saw the
// platform's response.
package publisher
