package credential

import (
	"time"

	"github.com/google/uuid"
)

// AccountStatus tracks whether an account's grant is usable
type AccountStatus string

const (
	AccountStatusActive        AccountStatus = "active"
	AccountStatusDisconnected  AccountStatus = "disconnected"
	AccountStatusReauthNeeded  AccountStatus = "reauth_required"
)

// SocialAccount is a connected platform account. AccessToken and
// RefreshToken hold vault ciphertext at rest; only the Manager sees
// cleartext, and only transiently.
type SocialAccount struct {
	ID           uuid.UUID     `json:"id"`
	UserID       uuid.UUID     `json:"user_id"`
	Platform     string        `json:"platform"`
	Username     string        `json:"username"`
	AccessToken  string        `json:"-"`
	RefreshToken string        `json:"-"`
	ExpiresAt    time.Time     `json:"expires_at"`
	Scopes       []string      `json:"scopes,omitempty"`
	Status       AccountStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Stats summarizes credential health across accounts for the ops surface
type Stats struct {
	Active       int64 `json:"active"`
	ExpiringSoon int64 `json:"expiring_soon"`
	Expired      int64 `json:"expired"`
	Inactive     int64 `json:"inactive"`
}
