package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	medauth "github.com/avenlock/medauth"
)

// CreateUser inserts a new credential record.
func (s *Store) CreateUser(ctx context.Context, user medauth.UserRecord) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, salt, role,
			totp_enabled, webauthn_enabled, failed_attempts, locked_until,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.UserID, user.Username, user.Email, user.PasswordHash, user.Salt,
		int(user.Role), boolToInt(user.TOTPEnabled), boolToInt(user.WebAuthnEnabled),
		user.FailedAttempts, unixOrZero(user.LockedUntil), now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("username %q already exists", user.Username)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (medauth.UserRecord, error) {
	return s.getUser(ctx, "username = ?", username)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (medauth.UserRecord, error) {
	return s.getUser(ctx, "id = ?", userID)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (medauth.UserRecord, error) {
	var (
		u           medauth.UserRecord
		role        int
		totp        int
		webauthn    int
		lockedUntil int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, salt, role,
			totp_enabled, webauthn_enabled, failed_attempts, locked_until
		FROM users WHERE `+where, arg).Scan(
		&u.UserID, &u.Username, &u.Email, &u.PasswordHash, &u.Salt, &role,
		&totp, &webauthn, &u.FailedAttempts, &lockedUntil,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return medauth.UserRecord{}, medauth.ErrProviderUserNotFound
		}
		return medauth.UserRecord{}, fmt.Errorf("query user: %w", err)
	}

	u.Role = medauth.Role(role)
	u.TOTPEnabled = totp != 0
	u.WebAuthnEnabled = webauthn != 0
	if lockedUntil > 0 {
		u.LockedUntil = time.Unix(lockedUntil, 0)
	}
	return u, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		newHash, time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return requireRow(res)
}

func (s *Store) RecordFailedAttempt(ctx context.Context, userID string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE users SET failed_attempts = failed_attempts + 1, updated_at = ?
		WHERE id = ?
		RETURNING failed_attempts`,
		time.Now().Unix(), userID).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, medauth.ErrProviderUserNotFound
		}
		return 0, fmt.Errorf("record failed attempt: %w", err)
	}
	return attempts, nil
}

func (s *Store) ResetFailedAttempts(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET failed_attempts = 0, locked_until = 0, updated_at = ?
		WHERE id = ?`,
		time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}
	return requireRow(res)
}

func (s *Store) LockAccount(ctx context.Context, userID string, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET locked_until = ?, updated_at = ? WHERE id = ?`,
		until.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	return requireRow(res)
}

func (s *Store) GetTOTPRecord(ctx context.Context, userID string) (*medauth.TOTPRecord, error) {
	var (
		rec      medauth.TOTPRecord
		enabled  int
		verified int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT secret, enabled, verified, last_used_counter
		FROM totp_records WHERE user_id = ?`, userID).Scan(
		&rec.Secret, &enabled, &verified, &rec.LastUsedCounter,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query totp record: %w", err)
	}
	rec.Enabled = enabled != 0
	rec.Verified = verified != 0
	return &rec, nil
}

// SetTOTPRecord installs or replaces the sealed secret for a user.
func (s *Store) SetTOTPRecord(ctx context.Context, userID string, rec medauth.TOTPRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO totp_records (user_id, secret, enabled, verified, last_used_counter)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			secret = excluded.secret,
			enabled = excluded.enabled,
			verified = excluded.verified,
			last_used_counter = excluded.last_used_counter`,
		userID, rec.Secret, boolToInt(rec.Enabled), boolToInt(rec.Verified), rec.LastUsedCounter)
	if err != nil {
		return fmt.Errorf("set totp record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE users SET totp_enabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(rec.Enabled), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update totp flag: %w", err)
	}
	return nil
}

func (s *Store) UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE totp_records SET last_used_counter = ? WHERE user_id = ?`,
		counter, userID)
	if err != nil {
		return fmt.Errorf("update totp counter: %w", err)
	}
	return requireRow(res)
}

func (s *Store) GetWebAuthnCredentials(ctx context.Context, userID string) ([]medauth.WebAuthnCredential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT credential_id, public_key, sign_count, added_at
		FROM webauthn_credentials WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query webauthn credentials: %w", err)
	}
	defer rows.Close()

	var out []medauth.WebAuthnCredential
	for rows.Next() {
		var (
			cred    medauth.WebAuthnCredential
			addedAt int64
		)
		if err := rows.Scan(&cred.CredentialID, &cred.PublicKey, &cred.SignCount, &addedAt); err != nil {
			return nil, fmt.Errorf("scan webauthn credential: %w", err)
		}
		cred.AddedAt = time.Unix(addedAt, 0)
		out = append(out, cred)
	}
	return out, rows.Err()
}

// AddWebAuthnCredential registers an authenticator for the user.
func (s *Store) AddWebAuthnCredential(ctx context.Context, userID string, cred medauth.WebAuthnCredential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webauthn_credentials (credential_id, user_id, public_key, sign_count, added_at)
		VALUES (?, ?, ?, ?, ?)`,
		cred.CredentialID, userID, cred.PublicKey, cred.SignCount, cred.AddedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert webauthn credential: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE users SET webauthn_enabled = 1, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update webauthn flag: %w", err)
	}
	return nil
}

func (s *Store) PasswordHistory(ctx context.Context, userID string, limit int) ([]medauth.PasswordHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, hash, created_at
		FROM password_history WHERE user_id = ?
		ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query password history: %w", err)
	}
	defer rows.Close()

	var out []medauth.PasswordHistoryEntry
	for rows.Next() {
		var (
			entry     medauth.PasswordHistoryEntry
			createdAt int64
		)
		if err := rows.Scan(&entry.UserID, &entry.Hash, &createdAt); err != nil {
			return nil, fmt.Errorf("scan password history: %w", err)
		}
		entry.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) AppendPasswordHistory(ctx context.Context, entry medauth.PasswordHistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_history (user_id, hash, created_at)
		VALUES (?, ?, ?)`,
		entry.UserID, entry.Hash, entry.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("append password history: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return medauth.ErrProviderUserNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
