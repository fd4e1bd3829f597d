package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// PostStatus tracks a post through its lifecycle. A post is inserted as
// pending and becomes scheduled in the same transaction once its publish job
// is enqueued, so a committed pending row means the enqueue never happened.
// Terminal states (success, failed) are written exactly once by the publish
// worker.
type PostStatus string

const (
	PostStatusPending    PostStatus = "pending"
	PostStatusScheduled  PostStatus = "scheduled"
	PostStatusProcessing PostStatus = "processing"
	PostStatusSuccess    PostStatus = "success"
	PostStatusFailed     PostStatus = "failed"
)

// CarouselItem is a single slide of a multi-media post
type CarouselItem struct {
	MediaURL  string `json:"media_url"`
	MediaType string `json:"media_type"`
	Caption   string `json:"caption,omitempty"`
}

// Post is a scheduled publish operation. The row is the source of truth for
// status; the queue task keyed TaskKey(ID) is derived state.
type Post struct {
	ID              uuid.UUID      `json:"id"`
	UserID          uuid.UUID      `json:"user_id"`
	SocialAccountID uuid.UUID      `json:"social_account_id"`
	Platform        string         `json:"platform"`
	Content         string         `json:"content"`
	MediaURL        *string        `json:"media_url,omitempty"`
	MediaType       *string        `json:"media_type,omitempty"`
	CarouselItems   []CarouselItem `json:"carousel_items,omitempty"`
	ScheduledAt     time.Time      `json:"scheduled_at"`
	Status          PostStatus     `json:"status"`
	ExternalPostID  *string        `json:"external_post_id,omitempty"`
	Permalink       *string        `json:"permalink,omitempty"`
	ErrorMessage    *string        `json:"error_message,omitempty"`
	AttemptCount    int            `json:"attempt_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Terminal reports whether the post reached a final state
func (p *Post) Terminal() bool {
	return p.Status == PostStatusSuccess || p.Status == PostStatusFailed
}

// AwaitingPublish reports whether the post is still waiting for its publish
// job to run, i.e. it may be edited or rescheduled.
func (p *Post) AwaitingPublish() bool {
	return p.Status == PostStatusPending || p.Status == PostStatusScheduled
}

// TaskKey returns the queue key for a post's publish job. One post maps to
// at most one live task under this key.
func TaskKey(postID uuid.UUID) string {
	return "post-" + postID.String()
}

// Draft is the input for creating a post
type Draft struct {
	SocialAccountID uuid.UUID
	Platform        string
	Content         string
	MediaURL        *string
	MediaType       *string
	CarouselItems   []CarouselItem
	ScheduledAt     time.Time
}
