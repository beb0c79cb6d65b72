package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"connectd/core"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/postgres/schema.sql
var postgresSchema string

const postgresColumns = `id, user_id, provider, provider_user_id, username, display_name,
	access_token, refresh_token, expires_at, connected, disconnect_reason,
	followers, following, posts_or_videos, views, profile_image_url, verified,
	account_created_at, created_at, updated_at`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, conn *core.Connection) (*core.Connection, error) {
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}

	query := `
		INSERT INTO connections (` + postgresColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			provider_user_id   = EXCLUDED.provider_user_id,
			username           = EXCLUDED.username,
			display_name       = EXCLUDED.display_name,
			access_token       = EXCLUDED.access_token,
			refresh_token      = EXCLUDED.refresh_token,
			expires_at         = EXCLUDED.expires_at,
			connected          = EXCLUDED.connected,
			disconnect_reason  = EXCLUDED.disconnect_reason,
			followers          = EXCLUDED.followers,
			following          = EXCLUDED.following,
			posts_or_videos    = EXCLUDED.posts_or_videos,
			views              = EXCLUDED.views,
			profile_image_url  = EXCLUDED.profile_image_url,
			verified           = EXCLUDED.verified,
			account_created_at = EXCLUDED.account_created_at,
			updated_at         = EXCLUDED.updated_at
		RETURNING ` + postgresColumns

	row := r.pool.QueryRow(ctx, query,
		conn.ID,
		conn.UserID,
		string(conn.Provider),
		conn.ProviderUserID,
		conn.Username,
		conn.DisplayName,
		conn.AccessToken,
		conn.RefreshToken,
		conn.ExpiresAt,
		conn.Connected,
		string(conn.DisconnectReason),
		conn.Followers,
		conn.Following,
		conn.PostsOrVideos,
		conn.Views,
		conn.ProfileImageURL,
		conn.Verified,
		conn.AccountCreatedAt,
		conn.CreatedAt,
		conn.UpdatedAt,
	)

	stored, err := scanPostgresConnection(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return nil, fmt.Errorf("%w: %v", core.ErrAlreadyExists, err)
		}
		return nil, fmt.Errorf("failed to upsert connection: %w", err)
	}
	return stored, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (*core.Connection, error) {
	query := `SELECT ` + postgresColumns + ` FROM connections WHERE id = $1`
	return scanPostgresConnection(r.pool.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) FindByUserAndProvider(ctx context.Context, userID uuid.UUID, provider core.Provider) (*core.Connection, error) {
	query := `SELECT ` + postgresColumns + ` FROM connections WHERE user_id = $1 AND provider = $2`
	return scanPostgresConnection(r.pool.QueryRow(ctx, query, userID, string(provider)))
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*core.Connection, error) {
	query := `SELECT ` + postgresColumns + ` FROM connections WHERE user_id = $1 ORDER BY provider`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conns := []*core.Connection{}
	for rows.Next() {
		conn, err := scanPostgresConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}

	return conns, rows.Err()
}

func (r *PostgresRepository) ListConnectedUsers(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT user_id FROM connections WHERE connected ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}

	return users, rows.Err()
}

func (r *PostgresRepository) Disconnect(ctx context.Context, id uuid.UUID, reason core.DisconnectReason, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE connections SET connected = FALSE, disconnect_reason = $1, updated_at = $2 WHERE id = $3`,
		string(reason), at, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, id uuid.UUID, p *core.Profile, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE connections
		SET provider_user_id   = COALESCE(NULLIF($1::text, ''), provider_user_id),
			username           = $2,
			display_name       = $3,
			followers          = $4,
			following          = $5,
			posts_or_videos    = $6,
			views              = $7,
			profile_image_url  = $8,
			verified           = $9,
			account_created_at = $10,
			updated_at         = $11
		WHERE id = $12 AND connected`,
		p.ProviderUserID,
		p.Username,
		p.DisplayName,
		p.Followers,
		p.Following,
		p.PostsOrVideos,
		p.Views,
		p.ProfileImageURL,
		p.Verified,
		p.AccountCreatedAt,
		at,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func scanPostgresConnection(row pgx.Row) (*core.Connection, error) {
	var (
		conn             core.Connection
		provider, reason string
	)

	err := row.Scan(
		&conn.ID,
		&conn.UserID,
		&provider,
		&conn.ProviderUserID,
		&conn.Username,
		&conn.DisplayName,
		&conn.AccessToken,
		&conn.RefreshToken,
		&conn.ExpiresAt,
		&conn.Connected,
		&reason,
		&conn.Followers,
		&conn.Following,
		&conn.PostsOrVideos,
		&conn.Views,
		&conn.ProfileImageURL,
		&conn.Verified,
		&conn.AccountCreatedAt,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	conn.Provider = core.Provider(provider)
	conn.DisconnectReason = core.DisconnectReason(reason)
	return &conn, nil
}

// Truncate removes every connection. Used by tests.
func (r *PostgresRepository) Truncate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `TRUNCATE connections`)
	return err
}
