package publisher

import (
	"errors"
	"fmt"
)

// ErrNoPublisherForPlatform is returned when a job names a platform with no
// registered PlatformPublisher. Terminal: a deploy is needed, not a retry.
var ErrNoPublisherForPlatform = errors.New("no publisher registered for platform")

// PublishError is the single error type platform adapters return. Retryable
// tells the worker whether the queue's retry policy should get another
// attempt; Message is persisted verbatim to the post row on terminal
// failures. ExternalPostID carries a partially created platform id, e.g.
// when a container was created but the final publish step was rejected.
type PublishError struct {
	Retryable      bool
	Message        string
	ExternalPostID string
	Err            error
}

func (e *PublishError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Retryable wraps a platform failure worth retrying (rate limit, 5xx, timeout)
func Retryable(message string, err error) *PublishError {
	return &PublishError{Retryable: true, Message: message, Err: err}
}

// Terminal wraps a platform rejection that retrying cannot fix
func Terminal(message string, err error) *PublishError {
	return &PublishError{Retryable: false, Message: message, Err: err}
}
