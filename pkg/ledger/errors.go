package ledger

import "errors"

var (
	ErrClientNil  = errors.New("redis client cannot be nil")
	ErrInvalidTTL = errors.New("ttl must be positive")
)
