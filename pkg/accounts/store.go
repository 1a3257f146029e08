// Package accounts provides the Postgres-backed credit accounts and
// usage audit trail.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Account is one user's credit account.
type Account struct {
	UserID  string
	Plan    string // free, basic, premium, unlimited
	Credits int
}

// UsageRecord is one append-only audit entry.
type UsageRecord struct {
	UserID     string
	ProviderID string
	TokensUsed int
	Timestamp  time.Time
}

// ErrNotFound is returned when a user has no account row.
var ErrNotFound = errors.New("account not found")

// Store provides Postgres-backed account storage.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new account store and verifies the connection.
func NewStore(ctx context.Context, pgURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, pgURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Init creates the accounts and usage tables if they don't exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS credit_accounts (
			user_id    TEXT PRIMARY KEY,
			plan       TEXT NOT NULL DEFAULT 'free',
			credits    INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create accounts table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS usage_records (
			id          BIGSERIAL PRIMARY KEY,
			user_id     TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			tokens_used INTEGER NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create usage table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_usage_user
		ON usage_records (user_id, created_at)
	`)
	if err != nil {
		return fmt.Errorf("create usage index: %w", err)
	}

	slog.Info("account store initialized")
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// GetAccount fetches a user's account, or ErrNotFound.
func (s *Store) GetAccount(ctx context.Context, userID string) (*Account, error) {
	var a Account
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, plan, credits FROM credit_accounts WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.Plan, &a.Credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}
	return &a, nil
}

// UpsertAccount creates or replaces an account row.
func (s *Store) UpsertAccount(ctx context.Context, a Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credit_accounts (user_id, plan, credits, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE
		SET plan = EXCLUDED.plan,
			credits = EXCLUDED.credits,
			updated_at = now()
	`, a.UserID, a.Plan, a.Credits)
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", a.UserID, err)
	}
	return nil
}

// DecrementCredit deducts exactly one credit. The guard keeps balances
// non-negative even under concurrent requests.
func (s *Store) DecrementCredit(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE credit_accounts
		SET credits = credits - 1, updated_at = now()
		WHERE user_id = $1 AND credits > 0
	`, userID)
	if err != nil {
		return fmt.Errorf("decrement credit %s: %w", userID, err)
	}
	return nil
}

// Record appends one usage record.
func (s *Store) Record(ctx context.Context, rec UsageRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_records (user_id, provider_id, tokens_used, created_at)
		VALUES ($1, $2, $3, $4)
	`, rec.UserID, rec.ProviderID, rec.TokensUsed, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("record usage %s: %w", rec.UserID, err)
	}
	return nil
}

// UsageCount returns how many records a user has accumulated.
func (s *Store) UsageCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM usage_records WHERE user_id = $1", userID,
	).Scan(&count)
	return count, err
}
