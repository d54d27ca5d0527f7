// Package pgstore provides a PostgreSQL-backed [authcore.UserStore] built on
// pgx connection pools. Apply [Schema] (or equivalent migrations) before use.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	authcore "github.com/finwise/authcore"
	"github.com/finwise/authcore/password"
)

// Schema is the DDL this store expects. Ship it through your migration tool;
// it is exported here so tests and prototypes can apply it directly.
const Schema = `
CREATE TABLE IF NOT EXISTS authcore_users (
	user_id           TEXT PRIMARY KEY,
	identifier        TEXT NOT NULL UNIQUE,
	algorithm         TEXT NOT NULL,
	credential_digest TEXT NOT NULL,
	role              TEXT NOT NULL DEFAULT '',
	status            SMALLINT NOT NULL DEFAULT 0,
	totp_enabled      BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS authcore_totp (
	user_id           TEXT PRIMARY KEY REFERENCES authcore_users(user_id) ON DELETE CASCADE,
	secret            BYTEA NOT NULL,
	enabled           BOOLEAN NOT NULL DEFAULT FALSE,
	verified          BOOLEAN NOT NULL DEFAULT FALSE,
	last_used_counter BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS authcore_backup_codes (
	user_id   TEXT NOT NULL REFERENCES authcore_users(user_id) ON DELETE CASCADE,
	code_hash BYTEA NOT NULL,
	PRIMARY KEY (user_id, code_hash)
);
`

// Store implements [authcore.UserStore] on a pgx pool.
type Store struct {
	db *pgxpool.Pool
}

// NewStore wraps an existing pool. The caller keeps ownership of the pool
// and is responsible for closing it.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Connect builds a pool with conservative limits, pings it, and wraps it in
// a Store. Close the store when done.
func Connect(ctx context.Context, url string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &Store{db: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.db.Close()
}

// CreateUser inserts a new account row.
func (s *Store) CreateUser(ctx context.Context, u authcore.UserRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO authcore_users (user_id, identifier, algorithm, credential_digest, role, status, totp_enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.UserID, u.Identifier, string(u.Algorithm), u.CredentialDigest, u.Role, int16(u.Status), u.TOTPEnabled,
	)
	return err
}

func (s *Store) GetUserByIdentifier(ctx context.Context, identifier string) (authcore.UserRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT user_id, identifier, algorithm, credential_digest, role, status, totp_enabled
		 FROM authcore_users WHERE identifier = $1`,
		identifier)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (authcore.UserRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT user_id, identifier, algorithm, credential_digest, role, status, totp_enabled
		 FROM authcore_users WHERE user_id = $1`,
		userID)
	return scanUser(row)
}

func scanUser(row pgx.Row) (authcore.UserRecord, error) {
	var (
		u      authcore.UserRecord
		alg    string
		status int16
	)
	err := row.Scan(&u.UserID, &u.Identifier, &alg, &u.CredentialDigest, &u.Role, &status, &u.TOTPEnabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authcore.UserRecord{}, authcore.ErrUserNotFound
		}
		return authcore.UserRecord{}, err
	}
	u.Algorithm = password.Algorithm(alg)
	u.Status = authcore.AccountStatus(status)
	return u, nil
}

func (s *Store) UpdateCredential(ctx context.Context, userID string, alg password.Algorithm, digest string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE authcore_users SET algorithm = $2, credential_digest = $3 WHERE user_id = $1`,
		userID, string(alg), digest)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *Store) GetTOTP(ctx context.Context, userID string) (*authcore.TOTPRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT secret, enabled, verified, last_used_counter
		 FROM authcore_totp WHERE user_id = $1`,
		userID)

	var rec authcore.TOTPRecord
	err := row.Scan(&rec.Secret, &rec.Enabled, &rec.Verified, &rec.LastUsedCounter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// EnableTOTP stores a fresh pending secret, replacing any previous one.
// Verification state is reset: the new secret must be activated with a live
// code before the account requires MFA.
func (s *Store) EnableTOTP(ctx context.Context, userID string, secret []byte) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO authcore_totp (user_id, secret, enabled, verified, last_used_counter)
		 VALUES ($1, $2, TRUE, FALSE, 0)
		 ON CONFLICT (user_id) DO UPDATE
		 SET secret = EXCLUDED.secret, enabled = TRUE, verified = FALSE, last_used_counter = 0`,
		userID, secret)
	return err
}

func (s *Store) MarkTOTPVerified(ctx context.Context, userID string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE authcore_totp SET verified = TRUE WHERE user_id = $1 AND enabled`, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return authcore.ErrTOTPNotConfigured
		}
		_, err = tx.Exec(ctx,
			`UPDATE authcore_users SET totp_enabled = TRUE WHERE user_id = $1`, userID)
		return err
	})
}

func (s *Store) DisableTOTP(ctx context.Context, userID string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM authcore_totp WHERE user_id = $1`, userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE authcore_users SET totp_enabled = FALSE WHERE user_id = $1`, userID)
		return err
	})
}

// UpdateTOTPLastUsedCounter advances the replay high-water mark. The guard
// in the WHERE clause keeps a slow writer from moving it backwards.
func (s *Store) UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE authcore_totp SET last_used_counter = $2
		 WHERE user_id = $1 AND last_used_counter < $2`,
		userID, counter)
	return err
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, codes []authcore.BackupCodeRecord) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM authcore_backup_codes WHERE user_id = $1`, userID); err != nil {
			return err
		}
		for _, code := range codes {
			if _, err := tx.Exec(ctx,
				`INSERT INTO authcore_backup_codes (user_id, code_hash) VALUES ($1, $2)`,
				userID, code.Hash[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM authcore_backup_codes WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// ConsumeBackupCode deletes the matching row. The DELETE is the atomicity
// guarantee: with two concurrent calls only one sees RowsAffected == 1.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, codeHash [32]byte) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM authcore_backup_codes WHERE user_id = $1 AND code_hash = $2`,
		userID, codeHash[:])
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
