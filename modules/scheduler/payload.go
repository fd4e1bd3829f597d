package scheduler

import (
	"encoding/json"

	"github.com/google/uuid"
)

// PublishTask is the queue payload for a publish job. It carries a snapshot
// of the post so the worker can act even when its read races an update; the
// post row remains authoritative for status.
//
// Every field beyond the identifiers is optional and must default safely on
// decode, so payloads enqueued by an older build stay readable after a
// deploy. New fields go into Extras first.
type PublishTask struct {
	PostID          uuid.UUID                  `json:"post_id"`
	UserID          uuid.UUID                  `json:"user_id"`
	SocialAccountID uuid.UUID                  `json:"social_account_id"`
	Platform        string                     `json:"platform"`
	Content         string                     `json:"content,omitempty"`
	MediaURL        *string                    `json:"media_url,omitempty"`
	MediaType       *string                    `json:"media_type,omitempty"`
	CarouselItems   []CarouselItem             `json:"carousel_items,omitempty"`
	Extras          map[string]json.RawMessage `json:"extras,omitempty"`
}

// NewPublishTask snapshots a post into its queue payload
func NewPublishTask(post *Post) PublishTask {
	return PublishTask{
		PostID:          post.ID,
		UserID:          post.UserID,
		SocialAccountID: post.SocialAccountID,
		Platform:        post.Platform,
		Content:         post.Content,
		MediaURL:        post.MediaURL,
		MediaType:       post.MediaType,
		CarouselItems:   post.CarouselItems,
	}
}
