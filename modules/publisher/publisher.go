package publisher

import (
	"context"

	"github.com/dmitrymomot/postflow/modules/scheduler"
)

// PublishRequest is everything a platform adapter needs for one publish call
type PublishRequest struct {
	AccessToken   string
	Content       string
	MediaURL      *string
	MediaType     *string
	CarouselItems []scheduler.CarouselItem
}

// PublishResult is the platform's acknowledgement of a created post
type PublishResult struct {
	ExternalPostID string
	Permalink      string
}

// PlatformPublisher is the boundary to one social platform's API. Adapters
// return *PublishError so the worker can distinguish retryable platform
// trouble from terminal rejections; any other error type is treated as
// retryable infrastructure failure.
type PlatformPublisher interface {
	// Platform returns the platform name this adapter serves
	Platform() string

	// Publish performs the remote publish call
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
}
