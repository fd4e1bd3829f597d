package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/postflow/pkg/pg"
)

// PostRepository defines the storage surface the orchestrator needs.
// Creation goes through a transaction handle so the post row and the
// enqueue outcome commit or roll back together.
type PostRepository interface {
	// BeginCreate opens a transaction for inserting a new post
	BeginCreate(ctx context.Context) (PostTx, error)

	// Get returns a post by id, or ErrPostNotFound
	Get(ctx context.Context, id uuid.UUID) (*Post, error)

	// ListByUser returns a user's posts, newest scheduled first
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Post, error)

	// UpdatePending updates content and schedule of a post still awaiting
	// publish (pending or scheduled). Returns ErrPostNotPending when the
	// worker already picked it up.
	UpdatePending(ctx context.Context, post *Post) error

	// Delete removes a post row, or ErrPostNotFound
	Delete(ctx context.Context, id uuid.UUID) error
}

// PostTx is an in-flight post creation
type PostTx interface {
	Insert(ctx context.Context, post *Post) error

	// MarkScheduled flips the inserted row from pending to scheduled, run
	// after the publish job was enqueued and before commit.
	MarkScheduled(ctx context.Context, id uuid.UUID) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// PostgresPostRepository is the pgx-backed post store. It also carries the
// status write-back methods the publish worker uses, so both modules share
// one implementation over the posts table.
type PostgresPostRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresPostRepository creates a repository over the given pool
func NewPostgresPostRepository(pool *pgxpool.Pool) (*PostgresPostRepository, error) {
	if pool == nil {
		return nil, errors.New("pgx pool cannot be nil")
	}
	return &PostgresPostRepository{pool: pool}, nil
}

const postColumns = `id, user_id, social_account_id, platform, content,
	media_url, media_type, carousel_items, scheduled_at, status,
	external_post_id, permalink, error_message, attempt_count,
	created_at, updated_at`

func scanPost(row pgx.Row) (*Post, error) {
	var (
		post     Post
		carousel []byte
	)
	err := row.Scan(&post.ID, &post.UserID, &post.SocialAccountID, &post.Platform,
		&post.Content, &post.MediaURL, &post.MediaType, &carousel,
		&post.ScheduledAt, &post.Status, &post.ExternalPostID, &post.Permalink,
		&post.ErrorMessage, &post.AttemptCount, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(carousel) > 0 {
		if err := json.Unmarshal(carousel, &post.CarouselItems); err != nil {
			return nil, fmt.Errorf("failed to decode carousel items: %w", err)
		}
	}
	return &post, nil
}

type postgresPostTx struct {
	tx pgx.Tx
}

// BeginCreate implements PostRepository
func (r *PostgresPostRepository) BeginCreate(ctx context.Context) (PostTx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresPostTx{tx: tx}, nil
}

func (t *postgresPostTx) Insert(ctx context.Context, post *Post) error {
	var carousel []byte
	if len(post.CarouselItems) > 0 {
		var err error
		carousel, err = json.Marshal(post.CarouselItems)
		if err != nil {
			return fmt.Errorf("failed to encode carousel items: %w", err)
		}
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO posts (id, user_id, social_account_id, platform, content,
			media_url, media_type, carousel_items, scheduled_at, status,
			attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $11)`,
		post.ID, post.UserID, post.SocialAccountID, post.Platform, post.Content,
		post.MediaURL, post.MediaType, carousel, post.ScheduledAt, post.Status,
		post.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

func (t *postgresPostTx) MarkScheduled(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE posts SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, PostStatusScheduled, PostStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark post scheduled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPostNotFound
	}
	return nil
}

func (t *postgresPostTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresPostTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// Get implements PostRepository
func (r *PostgresPostRepository) Get(ctx context.Context, id uuid.UUID) (*Post, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	post, err := scanPost(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return post, nil
}

// ListByUser implements PostRepository
func (r *PostgresPostRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Post, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+postColumns+` FROM posts
		WHERE user_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, *post)
	}
	return posts, rows.Err()
}

// UpdatePending implements PostRepository. The status filter makes the
// awaiting-publish rule atomic: a post claimed by the worker between read
// and write is simply not updated.
func (r *PostgresPostRepository) UpdatePending(ctx context.Context, post *Post) error {
	var carousel []byte
	if len(post.CarouselItems) > 0 {
		var err error
		carousel, err = json.Marshal(post.CarouselItems)
		if err != nil {
			return fmt.Errorf("failed to encode carousel items: %w", err)
		}
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE posts SET
			content = $2, media_url = $3, media_type = $4, carousel_items = $5,
			scheduled_at = $6, updated_at = now()
		WHERE id = $1 AND status IN ($7, $8)`,
		post.ID, post.Content, post.MediaURL, post.MediaType, carousel,
		post.ScheduledAt, PostStatusPending, PostStatusScheduled)
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, post.ID); err != nil {
			return err
		}
		return ErrPostNotPending
	}
	return nil
}

// Delete implements PostRepository
func (r *PostgresPostRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPostNotFound
	}
	return nil
}

// Status write-back methods used by the publish worker. Terminal states are
// written at most once: the status filters refuse to overwrite a post that
// already reached success or failed.

// SetProcessing moves an awaiting post to processing and counts the attempt
func (r *PostgresPostRepository) SetProcessing(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE posts SET status = $2, attempt_count = attempt_count + 1, updated_at = now()
		WHERE id = $1 AND status IN ($3, $4, $2)`,
		id, PostStatusProcessing, PostStatusPending, PostStatusScheduled)
	if err != nil {
		return fmt.Errorf("failed to mark post processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPostNotFound
	}
	return nil
}

// SetSuccess records the terminal success outcome with platform identifiers
func (r *PostgresPostRepository) SetSuccess(ctx context.Context, id uuid.UUID, externalPostID, permalink string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE posts SET status = $2, external_post_id = $3, permalink = $4,
			error_message = NULL, updated_at = now()
		WHERE id = $1 AND status NOT IN ($2, $5)`,
		id, PostStatusSuccess, externalPostID, permalink, PostStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to mark post success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPostNotFound
	}
	return nil
}

// SetFailed records the terminal failure outcome. A partially created
// external id, when the platform returned one before failing, is kept.
func (r *PostgresPostRepository) SetFailed(ctx context.Context, id uuid.UUID, errorMessage string, externalPostID *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE posts SET status = $2, error_message = $3,
			external_post_id = COALESCE($4, external_post_id), updated_at = now()
		WHERE id = $1 AND status NOT IN ($2, $5)`,
		id, PostStatusFailed, errorMessage, externalPostID, PostStatusSuccess)
	if err != nil {
		return fmt.Errorf("failed to mark post failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPostNotFound
	}
	return nil
}

var _ PostRepository = (*PostgresPostRepository)(nil)
