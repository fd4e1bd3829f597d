package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/postflow/pkg/pg"
)

// AccountRepository defines the storage surface for social accounts
type AccountRepository interface {
	// Get returns an account by id, or ErrAccountNotFound
	Get(ctx context.Context, id uuid.UUID) (*SocialAccount, error)

	// UpdateTokens persists freshly refreshed (already encrypted) tokens
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error

	// SetStatus updates the account status
	SetStatus(ctx context.Context, id uuid.UUID, status AccountStatus) error

	// ListExpiring returns active accounts whose tokens expire before the
	// given time, for the background refresh sweep
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]SocialAccount, error)

	// Stats returns credential health counts
	Stats(ctx context.Context, expiringWithin time.Duration) (Stats, error)
}

// PostgresAccountRepository is the pgx-backed account store
type PostgresAccountRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresAccountRepository creates a repository over the given pool
func NewPostgresAccountRepository(pool *pgxpool.Pool) (*PostgresAccountRepository, error) {
	if pool == nil {
		return nil, errors.New("pgx pool cannot be nil")
	}
	return &PostgresAccountRepository{pool: pool}, nil
}

const accountColumns = `id, user_id, platform, username, access_token,
	refresh_token, expires_at, scopes, status, created_at, updated_at`

func scanAccount(row pgx.Row) (*SocialAccount, error) {
	var acc SocialAccount
	err := row.Scan(&acc.ID, &acc.UserID, &acc.Platform, &acc.Username,
		&acc.AccessToken, &acc.RefreshToken, &acc.ExpiresAt, &acc.Scopes,
		&acc.Status, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// Get implements AccountRepository
func (r *PostgresAccountRepository) Get(ctx context.Context, id uuid.UUID) (*SocialAccount, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM social_accounts WHERE id = $1`, id)
	acc, err := scanAccount(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get social account: %w", err)
	}
	return acc, nil
}

// UpdateTokens implements AccountRepository
func (r *PostgresAccountRepository) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE social_accounts SET
			access_token = $2, refresh_token = $3, expires_at = $4, updated_at = now()
		WHERE id = $1`,
		id, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetStatus implements AccountRepository
func (r *PostgresAccountRepository) SetStatus(ctx context.Context, id uuid.UUID, status AccountStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE social_accounts SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListExpiring implements AccountRepository
func (r *PostgresAccountRepository) ListExpiring(ctx context.Context, before time.Time, limit int) ([]SocialAccount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+accountColumns+` FROM social_accounts
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3`,
		AccountStatusActive, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring accounts: %w", err)
	}
	defer rows.Close()

	var accounts []SocialAccount
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan social account: %w", err)
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

// Stats implements AccountRepository
func (r *PostgresAccountRepository) Stats(ctx context.Context, expiringWithin time.Duration) (Stats, error) {
	var stats Stats
	err := r.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = $1 AND expires_at > now() + $2),
			count(*) FILTER (WHERE status = $1 AND expires_at > now() AND expires_at <= now() + $2),
			count(*) FILTER (WHERE status = $1 AND expires_at <= now()),
			count(*) FILTER (WHERE status <> $1)
		FROM social_accounts`,
		AccountStatusActive, expiringWithin).
		Scan(&stats.Active, &stats.ExpiringSoon, &stats.Expired, &stats.Inactive)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count credentials: %w", err)
	}
	return stats, nil
}

var _ AccountRepository = (*PostgresAccountRepository)(nil)
