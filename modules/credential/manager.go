package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/dmitrymomot/postflow/pkg/resilience"
	"github.com/dmitrymomot/postflow/pkg/vault"
)

// DefaultExpiryBuffer is how long before expiry a token is refreshed when
// the platform does not specify its own buffer.
const DefaultExpiryBuffer = 15 * time.Minute

// PlatformConfig binds a platform name to its oauth2 endpoint and the
// expiry buffer appropriate for that platform's token lifetime.
type PlatformConfig struct {
	OAuth  *oauth2.Config
	Buffer time.Duration
}

// Manager owns the token lifecycle: it hands out valid access tokens,
// refreshing and re-encrypting them when they near expiry. New tokens are
// persisted before they are returned, so a crash after refresh never loses
// the only copy; the worst case is refreshing again from the old token.
type Manager struct {
	repo      AccountRepository
	vault     *vault.Vault
	platforms map[string]PlatformConfig
	logger    *slog.Logger
}

// ManagerOption is a functional option for configuring a Manager
type ManagerOption func(*Manager)

// WithPlatform registers a platform's oauth2 config. A zero buffer falls
// back to DefaultExpiryBuffer.
func WithPlatform(name string, cfg *oauth2.Config, buffer time.Duration) ManagerOption {
	return func(m *Manager) {
		if buffer <= 0 {
			buffer = DefaultExpiryBuffer
		}
		m.platforms[name] = PlatformConfig{OAuth: cfg, Buffer: buffer}
	}
}

// WithManagerLogger sets the logger for the manager
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a token lifecycle manager
func NewManager(repo AccountRepository, v *vault.Vault, opts ...ManagerOption) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("account repository cannot be nil")
	}
	if v == nil {
		return nil, errors.New("vault cannot be nil")
	}

	m := &Manager{
		repo:      repo,
		vault:     v,
		platforms: make(map[string]PlatformConfig),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AccessToken returns a valid cleartext access token for the account,
// refreshing it first when it is inside the platform's expiry buffer.
func (m *Manager) AccessToken(ctx context.Context, accountID uuid.UUID) (string, error) {
	acc, err := m.repo.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if acc.Status != AccountStatusActive {
		if acc.Status == AccountStatusReauthNeeded {
			return "", ErrReauthRequired
		}
		return "", ErrAccountInactive
	}

	buffer := DefaultExpiryBuffer
	if cfg, ok := m.platforms[acc.Platform]; ok {
		buffer = cfg.Buffer
	}

	if time.Now().Add(buffer).Before(acc.ExpiresAt) {
		return m.vault.Decrypt(acc.ID.String(), acc.AccessToken)
	}

	return m.refresh(ctx, acc)
}

// refresh exchanges the refresh token for a new token pair and persists the
// encrypted pair before returning the cleartext access token.
func (m *Manager) refresh(ctx context.Context, acc *SocialAccount) (string, error) {
	cfg, ok := m.platforms[acc.Platform]
	if !ok || cfg.OAuth == nil {
		return "", fmt.Errorf("%w: %s", ErrPlatformNotConfigured, acc.Platform)
	}

	refreshToken, err := m.vault.Decrypt(acc.ID.String(), acc.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	var token *oauth2.Token
	err = resilience.Retry(ctx, func(ctx context.Context) error {
		src := cfg.OAuth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		t, err := src.Token()
		if err != nil {
			if isInvalidGrant(err) {
				return resilience.Permanent(err)
			}
			return resilience.Transient(err)
		}
		token = t
		return nil
	}, resilience.WithMaxAttempts(3), resilience.WithAttemptTimeout(15*time.Second))
	if err != nil {
		if errors.Is(err, resilience.ErrPermanent) {
			return "", m.deactivate(ctx, acc, err)
		}
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	encAccess, err := m.vault.Encrypt(acc.ID.String(), token.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt access token: %w", err)
	}

	// Some platforms rotate the refresh token on every use; keep the old
	// one when the response omits it.
	newRefresh := token.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	encRefresh, err := m.vault.Encrypt(acc.ID.String(), newRefresh)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	if err := m.repo.UpdateTokens(ctx, acc.ID, encAccess, encRefresh, token.Expiry); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	m.logger.InfoContext(ctx, "access token refreshed",
		slog.String("account_id", acc.ID.String()),
		slog.String("platform", acc.Platform),
		slog.Time("expires_at", token.Expiry))

	return token.AccessToken, nil
}

// deactivate marks the account as needing re-authorization. Jobs for this
// account then fail terminally instead of retrying a dead grant.
func (m *Manager) deactivate(ctx context.Context, acc *SocialAccount, cause error) error {
	m.logger.WarnContext(ctx, "platform revoked grant, deactivating account",
		slog.String("account_id", acc.ID.String()),
		slog.String("platform", acc.Platform),
		slog.String("error", cause.Error()))

	if err := m.repo.SetStatus(ctx, acc.ID, AccountStatusReauthNeeded); err != nil {
		m.logger.ErrorContext(ctx, "failed to deactivate account",
			slog.String("account_id", acc.ID.String()),
			slog.String("error", err.Error()))
	}

	return fmt.Errorf("%w: %w", ErrReauthRequired, cause)
}

// isInvalidGrant detects revoked or expired grants in oauth2 error responses
func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode == "invalid_grant" {
		return true
	}
	// Some providers omit the error code and signal revocation by status
	return retrieveErr.Response != nil &&
		(retrieveErr.Response.StatusCode == 400 || retrieveErr.Response.StatusCode == 401) &&
		retrieveErr.ErrorCode != "temporarily_unavailable"
}

// CheckUsable verifies the account exists, belongs to the user, and is
// active. Satisfies the orchestrator's AccountChecker.
func (m *Manager) CheckUsable(ctx context.Context, userID, accountID uuid.UUID) error {
	acc, err := m.repo.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.UserID != userID {
		return ErrNotAccountOwner
	}
	if acc.Status != AccountStatusActive {
		return ErrAccountInactive
	}
	return nil
}

// Deactivate marks an account as needing re-authorization; used by the
// publish worker on terminal credential failures.
func (m *Manager) Deactivate(ctx context.Context, accountID uuid.UUID) error {
	return m.repo.SetStatus(ctx, accountID, AccountStatusReauthNeeded)
}

// Stats returns credential health counts for the ops surface
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.repo.Stats(ctx, DefaultExpiryBuffer)
}
