package pgxstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	medauth "github.com/avenlock/medauth"
)

// Store is a PostgreSQL-backed user provider for multi-node deployments.
// The pool is injected; connection lifecycle belongs to the caller.
type Store struct {
	pool *pgxpool.Pool
}

var _ medauth.UserProvider = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the schema if absent. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id               TEXT PRIMARY KEY,
			username         TEXT NOT NULL UNIQUE,
			email            TEXT NOT NULL DEFAULT '',
			password_hash    TEXT NOT NULL,
			salt             TEXT NOT NULL,
			role             SMALLINT NOT NULL DEFAULT 0,
			totp_enabled     BOOLEAN NOT NULL DEFAULT FALSE,
			webauthn_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			failed_attempts  INTEGER NOT NULL DEFAULT 0,
			locked_until     TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS totp_records (
			user_id           TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			secret            BYTEA NOT NULL,
			enabled           BOOLEAN NOT NULL DEFAULT FALSE,
			verified          BOOLEAN NOT NULL DEFAULT FALSE,
			last_used_counter BIGINT NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS webauthn_credentials (
			credential_id TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			public_key    BYTEA NOT NULL,
			sign_count    BIGINT NOT NULL DEFAULT 0,
			added_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_webauthn_user ON webauthn_credentials(user_id);

		CREATE TABLE IF NOT EXISTS password_history (
			id         BIGSERIAL PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			hash       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_password_history_user ON password_history(user_id, id DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// CreateUser inserts a new credential record.
func (s *Store) CreateUser(ctx context.Context, user medauth.UserRecord) error {
	var lockedUntil *time.Time
	if !user.LockedUntil.IsZero() {
		lockedUntil = &user.LockedUntil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, email, password_hash, salt, role,
			totp_enabled, webauthn_enabled, failed_attempts, locked_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.UserID, user.Username, user.Email, user.PasswordHash, user.Salt,
		int16(user.Role), user.TOTPEnabled, user.WebAuthnEnabled,
		user.FailedAttempts, lockedUntil,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (medauth.UserRecord, error) {
	return s.getUser(ctx, "username = $1", username)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (medauth.UserRecord, error) {
	return s.getUser(ctx, "id = $1", userID)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (medauth.UserRecord, error) {
	var (
		u           medauth.UserRecord
		role        int16
		lockedUntil *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, salt, role,
			totp_enabled, webauthn_enabled, failed_attempts, locked_until
		FROM users WHERE `+where, arg).Scan(
		&u.UserID, &u.Username, &u.Email, &u.PasswordHash, &u.Salt, &role,
		&u.TOTPEnabled, &u.WebAuthnEnabled, &u.FailedAttempts, &lockedUntil,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return medauth.UserRecord{}, medauth.ErrProviderUserNotFound
		}
		return medauth.UserRecord{}, fmt.Errorf("query user: %w", err)
	}
	u.Role = medauth.Role(role)
	if lockedUntil != nil {
		u.LockedUntil = *lockedUntil
	}
	return u, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`,
		newHash, userID)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return medauth.ErrProviderUserNotFound
	}
	return nil
}

func (s *Store) RecordFailedAttempt(ctx context.Context, userID string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE users SET failed_attempts = failed_attempts + 1, updated_at = now()
		WHERE id = $1
		RETURNING failed_attempts`, userID).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, medauth.ErrProviderUserNotFound
		}
		return 0, fmt.Errorf("record failed attempt: %w", err)
	}
	return attempts, nil
}

func (s *Store) ResetFailedAttempts(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET failed_attempts = 0, locked_until = NULL, updated_at = now()
		WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return medauth.ErrProviderUserNotFound
	}
	return nil
}

func (s *Store) LockAccount(ctx context.Context, userID string, until time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET locked_until = $1, updated_at = now() WHERE id = $2`,
		until, userID)
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return medauth.ErrProviderUserNotFound
	}
	return nil
}

func (s *Store) GetTOTPRecord(ctx context.Context, userID string) (*medauth.TOTPRecord, error) {
	var rec medauth.TOTPRecord
	err := s.pool.QueryRow(ctx, `
		SELECT secret, enabled, verified, last_used_counter
		FROM totp_records WHERE user_id = $1`, userID).Scan(
		&rec.Secret, &rec.Enabled, &rec.Verified, &rec.LastUsedCounter,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query totp record: %w", err)
	}
	return &rec, nil
}

// SetTOTPRecord installs or replaces the sealed secret for a user.
func (s *Store) SetTOTPRecord(ctx context.Context, userID string, rec medauth.TOTPRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO totp_records (user_id, secret, enabled, verified, last_used_counter)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			secret = EXCLUDED.secret,
			enabled = EXCLUDED.enabled,
			verified = EXCLUDED.verified,
			last_used_counter = EXCLUDED.last_used_counter`,
		userID, rec.Secret, rec.Enabled, rec.Verified, rec.LastUsedCounter)
	if err != nil {
		return fmt.Errorf("set totp record: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE users SET totp_enabled = $1, updated_at = now() WHERE id = $2`,
		rec.Enabled, userID)
	if err != nil {
		return fmt.Errorf("update totp flag: %w", err)
	}
	return nil
}

func (s *Store) UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE totp_records SET last_used_counter = $1 WHERE user_id = $2`,
		counter, userID)
	if err != nil {
		return fmt.Errorf("update totp counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return medauth.ErrProviderUserNotFound
	}
	return nil
}

func (s *Store) GetWebAuthnCredentials(ctx context.Context, userID string) ([]medauth.WebAuthnCredential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT credential_id, public_key, sign_count, added_at
		FROM webauthn_credentials WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query webauthn credentials: %w", err)
	}
	defer rows.Close()

	var out []medauth.WebAuthnCredential
	for rows.Next() {
		var cred medauth.WebAuthnCredential
		if err := rows.Scan(&cred.CredentialID, &cred.PublicKey, &cred.SignCount, &cred.AddedAt); err != nil {
			return nil, fmt.Errorf("scan webauthn credential: %w", err)
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

func (s *Store) PasswordHistory(ctx context.Context, userID string, limit int) ([]medauth.PasswordHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, hash, created_at
		FROM password_history WHERE user_id = $1
		ORDER BY id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query password history: %w", err)
	}
	defer rows.Close()

	var out []medauth.PasswordHistoryEntry
	for rows.Next() {
		var entry medauth.PasswordHistoryEntry
		if err := rows.Scan(&entry.UserID, &entry.Hash, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan password history: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) AppendPasswordHistory(ctx context.Context, entry medauth.PasswordHistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO password_history (user_id, hash, created_at)
		VALUES ($1, $2, $3)`,
		entry.UserID, entry.Hash, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append password history: %w", err)
	}
	return nil
}
