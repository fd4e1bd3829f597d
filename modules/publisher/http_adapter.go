package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrymomot/postflow/modules/scheduler"
)

// HTTPPublisher is a PlatformPublisher that delegates the platform call to
// an HTTP endpoint, typically a per-platform gateway service that owns the
// payload shaping for its platform's API. Retryability is decided from the
// response status: 429 and 5xx are retryable, any other non-2xx is a
// terminal rejection.
type HTTPPublisher struct {
	platform string
	endpoint string
	client   *http.Client
}

// HTTPPublisherOption configures an HTTPPublisher
type HTTPPublisherOption func(*HTTPPublisher)

// WithHTTPClient sets a custom HTTP client, e.g. for proxies or testing
func WithHTTPClient(client *http.Client) HTTPPublisherOption {
	return func(p *HTTPPublisher) {
		if client != nil {
			p.client = client
		}
	}
}

// NewHTTPPublisher creates a publisher that POSTs publish requests to the
// given endpoint.
func NewHTTPPublisher(platform, endpoint string, opts ...HTTPPublisherOption) (*HTTPPublisher, error) {
	if platform == "" {
		return nil, fmt.Errorf("platform cannot be empty")
	}
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	p := &HTTPPublisher{
		platform: platform,
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Platform implements PlatformPublisher
func (p *HTTPPublisher) Platform() string {
	return p.platform
}

// publishPayload is the wire shape sent to the gateway endpoint
type publishPayload struct {
	Content       string                   `json:"content"`
	MediaURL      *string                  `json:"media_url,omitempty"`
	MediaType     *string                  `json:"media_type,omitempty"`
	CarouselItems []scheduler.CarouselItem `json:"carousel_items,omitempty"`
}

// publishResponse is the wire shape expected back on success or rejection
type publishResponse struct {
	ExternalPostID string `json:"external_post_id"`
	Permalink      string `json:"permalink"`
	Error          string `json:"error"`
}

// Publish implements PlatformPublisher. The access token travels in the
// Authorization header, never in the body, so gateway request logs do not
// capture it.
func (p *HTTPPublisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	body, err := json.Marshal(publishPayload{
		Content:       req.Content,
		MediaURL:      req.MediaURL,
		MediaType:     req.MediaType,
		CarouselItems: req.CarouselItems,
	})
	if err != nil {
		return nil, Terminal("failed to encode publish payload", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Terminal("failed to build publish request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, Retryable("publish request failed", err)
	}
	defer resp.Body.Close()

	// Cap the read so a misbehaving gateway cannot exhaust memory
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, Retryable("failed to read publish response", err)
	}

	var parsed publishResponse
	if len(raw) > 0 {
		// A malformed body on an error status still classifies below
		_ = json.Unmarshal(raw, &parsed)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if parsed.ExternalPostID == "" {
			return nil, Retryable(
				fmt.Sprintf("publish succeeded with status %d but response carried no post id", resp.StatusCode), nil)
		}
		return &PublishResult{
			ExternalPostID: parsed.ExternalPostID,
			Permalink:      parsed.Permalink,
		}, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, Retryable(
			fmt.Sprintf("platform returned status %d: %s", resp.StatusCode, errorMessage(parsed, raw)), nil)

	default:
		err := Terminal(
			fmt.Sprintf("platform rejected post with status %d: %s", resp.StatusCode, errorMessage(parsed, raw)), nil)
		// A rejection after partial creation carries the orphaned id so
		// operators can clean it up on the platform side
		err.ExternalPostID = parsed.ExternalPostID
		return nil, err
	}
}

func errorMessage(parsed publishResponse, raw []byte) string {
	if parsed.Error != "" {
		return parsed.Error
	}
	if len(raw) > 256 {
		raw = raw[:256]
	}
	return string(raw)
}
