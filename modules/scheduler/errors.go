package scheduler

import "errors"

var (
	// ErrPostNotFound is returned when no post matches the given id
	ErrPostNotFound = errors.New("post not found")

	// ErrNotPostOwner is returned when the caller does not own the post
	ErrNotPostOwner = errors.New("post belongs to another user")

	// ErrScheduledTimeInPast is returned when scheduled_at is not strictly in the future
	ErrScheduledTimeInPast = errors.New("scheduled time must be in the future")

	// ErrEmptyContent is returned when a post has neither content nor media
	ErrEmptyContent = errors.New("post content cannot be empty")

	// ErrPostNotPending is returned when mutating a post that already left the pending state
	ErrPostNotPending = errors.New("post is no longer pending")

	// ErrAccountNotUsable is returned when the social account is missing,
	// owned by another user, or deactivated
	ErrAccountNotUsable = errors.New("social account is not usable")

	// ErrSchedulingFailed is returned when the publish job could not be
	// enqueued after retries; the post row was rolled back
	ErrSchedulingFailed = errors.New("failed to schedule publish job")
)
