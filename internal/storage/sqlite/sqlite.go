package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"beacon/internal/ewelink"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage persists the eWeLink credential record. Implements
// ewelink.TokenStorage. Writes go through a single *sql.DB, which
// serializes them, so an interleaved acquisition attempt cannot
// half-write a token set.
type SQLiteStorage struct {
	db    *sql.DB
	appID string
}

// New opens (or creates) the credential database. The credential
// record is keyed by app id.
func New(dbPath, appID string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &SQLiteStorage{
		db:    db,
		appID: appID,
	}

	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return storage, nil
}

// migrate creates the database schema
func (s *SQLiteStorage) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS ewelink_credentials (
			app_id TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			region TEXT NOT NULL,
			obtained_at DATETIME NOT NULL,
			expires_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// GetTokens retrieves the stored token set for the configured app id.
// Returns nil when no credential record exists yet.
func (s *SQLiteStorage) GetTokens(ctx context.Context) (*ewelink.TokenSet, error) {
	var tokens ewelink.TokenSet
	var refreshToken sql.NullString
	var expiresAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, region, obtained_at, expires_at, created_at, updated_at
		FROM ewelink_credentials WHERE app_id = ?
	`, s.appID).Scan(&tokens.AccessToken, &refreshToken, &tokens.Region, &tokens.ObtainedAt, &expiresAt, &tokens.CreatedAt, &tokens.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil // not authenticated yet
	}
	if err != nil {
		return nil, err
	}

	if refreshToken.Valid {
		tokens.RefreshToken = refreshToken.String
	}
	if expiresAt.Valid {
		tokens.ExpiresAt = &expiresAt.Time
	}

	return &tokens, nil
}

// SaveTokens saves or replaces the token set for the configured app id.
func (s *SQLiteStorage) SaveTokens(ctx context.Context, tokens *ewelink.TokenSet) error {
	now := time.Now()
	tokens.UpdatedAt = now

	var expiresAt sql.NullTime
	if tokens.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *tokens.ExpiresAt, Valid: true}
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM ewelink_credentials WHERE app_id = ?)", s.appID).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		_, err = s.db.ExecContext(ctx, `
			UPDATE ewelink_credentials
			SET access_token = ?, refresh_token = ?, region = ?, obtained_at = ?, expires_at = ?, updated_at = ?
			WHERE app_id = ?
		`, tokens.AccessToken, tokens.RefreshToken, string(tokens.Region), tokens.ObtainedAt, expiresAt, tokens.UpdatedAt, s.appID)
	} else {
		tokens.CreatedAt = now
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO ewelink_credentials (app_id, access_token, refresh_token, region, obtained_at, expires_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, s.appID, tokens.AccessToken, tokens.RefreshToken, string(tokens.Region), tokens.ObtainedAt, expiresAt, tokens.CreatedAt, tokens.UpdatedAt)
	}

	return err
}
