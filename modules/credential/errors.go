package credential

import "errors"

var (
	// ErrAccountNotFound is returned when no social account matches the given id
	ErrAccountNotFound = errors.New("social account not found")

	// ErrNotAccountOwner is returned when the account belongs to another user
	ErrNotAccountOwner = errors.New("social account belongs to another user")

	// ErrAccountInactive is returned when the account was disconnected or
	// needs the user to re-authorize
	ErrAccountInactive = errors.New("social account is not active")

	// ErrReauthRequired is returned when the platform revoked the grant;
	// only the user can fix this by reconnecting the account
	ErrReauthRequired = errors.New("account requires re-authorization")

	// ErrRefreshFailed is returned when a token refresh failed for a
	// transient reason; the caller may retry
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrPlatformNotConfigured is returned when no oauth2 config is
	// registered for the account's platform
	ErrPlatformNotConfigured = errors.New("platform oauth2 config not registered")
)
