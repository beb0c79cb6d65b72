package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"connectd/core"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite/schema.sql
var sqliteSchema string

const sqliteColumns = `id, user_id, provider, provider_user_id, username, display_name,
	access_token, refresh_token, expires_at, connected, disconnect_reason,
	followers, following, posts_or_videos, views, profile_image_url, verified,
	account_created_at, created_at, updated_at`

// SQLiteRepository stores connections in a single SQLite file. Timestamps
// are unix milliseconds.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteRepository{db: db}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) initSchema() error {
	_, err := r.db.Exec(sqliteSchema)
	return err
}

func (r *SQLiteRepository) Upsert(ctx context.Context, conn *core.Connection) (*core.Connection, error) {
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}

	query := `
		INSERT INTO connections (` + sqliteColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			provider_user_id   = excluded.provider_user_id,
			username           = excluded.username,
			display_name       = excluded.display_name,
			access_token       = excluded.access_token,
			refresh_token      = excluded.refresh_token,
			expires_at         = excluded.expires_at,
			connected          = excluded.connected,
			disconnect_reason  = excluded.disconnect_reason,
			followers          = excluded.followers,
			following          = excluded.following,
			posts_or_videos    = excluded.posts_or_videos,
			views              = excluded.views,
			profile_image_url  = excluded.profile_image_url,
			verified           = excluded.verified,
			account_created_at = excluded.account_created_at,
			updated_at         = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		conn.ID.String(),
		conn.UserID.String(),
		string(conn.Provider),
		conn.ProviderUserID,
		conn.Username,
		conn.DisplayName,
		conn.AccessToken,
		conn.RefreshToken,
		conn.ExpiresAt.UnixMilli(),
		conn.Connected,
		string(conn.DisconnectReason),
		conn.Followers,
		conn.Following,
		conn.PostsOrVideos,
		conn.Views,
		conn.ProfileImageURL,
		conn.Verified,
		millisOrNil(conn.AccountCreatedAt),
		conn.CreatedAt.UnixMilli(),
		conn.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		// the id belongs to another (user, provider) pair
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("%w: %v", core.ErrAlreadyExists, err)
		}
		return nil, fmt.Errorf("failed to upsert connection: %w", err)
	}

	return r.FindByUserAndProvider(ctx, conn.UserID, conn.Provider)
}

func (r *SQLiteRepository) FindByID(ctx context.Context, id uuid.UUID) (*core.Connection, error) {
	query := `SELECT ` + sqliteColumns + ` FROM connections WHERE id = ?`
	return scanSQLiteConnection(r.db.QueryRowContext(ctx, query, id.String()))
}

func (r *SQLiteRepository) FindByUserAndProvider(ctx context.Context, userID uuid.UUID, provider core.Provider) (*core.Connection, error) {
	query := `SELECT ` + sqliteColumns + ` FROM connections WHERE user_id = ? AND provider = ?`
	return scanSQLiteConnection(r.db.QueryRowContext(ctx, query, userID.String(), string(provider)))
}

func (r *SQLiteRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*core.Connection, error) {
	query := `SELECT ` + sqliteColumns + ` FROM connections WHERE user_id = ? ORDER BY provider`

	rows, err := r.db.QueryContext(ctx, query, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conns := []*core.Connection{}
	for rows.Next() {
		conn, err := scanSQLiteConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return conns, nil
}

func (r *SQLiteRepository) ListConnectedUsers(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT user_id
		FROM connections
		WHERE connected = 1
		ORDER BY user_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", idStr, err)
		}
		users = append(users, id)
	}

	return users, rows.Err()
}

func (r *SQLiteRepository) Disconnect(ctx context.Context, id uuid.UUID, reason core.DisconnectReason, at time.Time) error {
	query := `
		UPDATE connections
		SET connected = 0, disconnect_reason = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, string(reason), at.UnixMilli(), id.String())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return core.ErrNotFound
	}

	return nil
}

func (r *SQLiteRepository) UpdateProfile(ctx context.Context, id uuid.UUID, p *core.Profile, at time.Time) error {
	query := `
		UPDATE connections
		SET provider_user_id   = COALESCE(NULLIF(?, ''), provider_user_id),
			username           = ?,
			display_name       = ?,
			followers          = ?,
			following          = ?,
			posts_or_videos    = ?,
			views              = ?,
			profile_image_url  = ?,
			verified           = ?,
			account_created_at = ?,
			updated_at         = ?
		WHERE id = ? AND connected = 1
	`

	result, err := r.db.ExecContext(ctx, query,
		p.ProviderUserID,
		p.Username,
		p.DisplayName,
		p.Followers,
		p.Following,
		p.PostsOrVideos,
		p.Views,
		p.ProfileImageURL,
		p.Verified,
		millisOrNil(p.AccountCreatedAt),
		at.UnixMilli(),
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return core.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteConnection(row rowScanner) (*core.Connection, error) {
	var (
		conn                           core.Connection
		idStr, userIDStr, provider     string
		reason                         string
		expiresAt, createdAt, updateAt int64
		accountCreatedAt               *int64
	)

	err := row.Scan(
		&idStr,
		&userIDStr,
		&provider,
		&conn.ProviderUserID,
		&conn.Username,
		&conn.DisplayName,
		&conn.AccessToken,
		&conn.RefreshToken,
		&expiresAt,
		&conn.Connected,
		&reason,
		&conn.Followers,
		&conn.Following,
		&conn.PostsOrVideos,
		&conn.Views,
		&conn.ProfileImageURL,
		&conn.Verified,
		&accountCreatedAt,
		&createdAt,
		&updateAt,
	)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if conn.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid connection id %q: %w", idStr, err)
	}
	if conn.UserID, err = uuid.Parse(userIDStr); err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", userIDStr, err)
	}
	conn.Provider = core.Provider(provider)
	conn.DisconnectReason = core.DisconnectReason(reason)
	conn.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	conn.CreatedAt = time.UnixMilli(createdAt).UTC()
	conn.UpdatedAt = time.UnixMilli(updateAt).UTC()
	if accountCreatedAt != nil {
		t := time.UnixMilli(*accountCreatedAt).UTC()
		conn.AccountCreatedAt = &t
	}

	return &conn, nil
}

func millisOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "UNIQUE constraint failed") ||
		strings.Contains(errMsg, "UNIQUE") ||
		strings.Contains(errMsg, "unique")
}
