package resilience

import "errors"

// Domain errors for resilience operations, designed for error wrapping and
// classification.
//
// Error classification strategy:
// - ErrCircuitOpen: fail-fast rejection, the protected call was never made
// - ErrRetriesExhausted: the call was made and failed on every attempt
// - ErrPermanent: the call failed with an error that retrying cannot fix
var (
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrPermanent        = errors.New("permanent failure")
	ErrStoreNil         = errors.New("state store cannot be nil")
	ErrUnknownTarget    = errors.New("unknown circuit breaker target")
)

// IsCircuitOpen checks if an error indicates the circuit breaker rejected the call
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
