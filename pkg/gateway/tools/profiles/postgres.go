package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlMedicationProfiles = `
CREATE TABLE IF NOT EXISTS medication_profiles (
    user_id     TEXT        PRIMARY KEY,
    medications JSONB       NOT NULL DEFAULT '[]'::jsonb,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the slice of pgxpool.Pool the store uses. Tests substitute a fake.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Store = (*PGStore)(nil)

// PGStore is a PostgreSQL-backed Store.
type PGStore struct {
	db   DB
	pool *pgxpool.Pool
}

// NewPGStore connects to the database at dsn, verifies the connection, and
// ensures the medication_profiles table exists.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("profile store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile store: ping: %w", err)
	}
	s := &PGStore{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPGStoreWithDB wraps an existing connection without migrating.
func NewPGStoreWithDB(db DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, ddlMedicationProfiles); err != nil {
		return fmt.Errorf("profile store: migrate: %w", err)
	}
	return nil
}

func (s *PGStore) Medications(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT medications FROM medication_profiles WHERE user_id = $1`,
		userID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile store: query %q: %w", userID, err)
	}
	var meds []string
	if err := json.Unmarshal(raw, &meds); err != nil {
		return nil, fmt.Errorf("profile store: decode medications for %q: %w", userID, err)
	}
	return normalizeMedications(meds), nil
}

func (s *PGStore) SetMedications(ctx context.Context, userID string, medications []string) error {
	userID = strings.TrimSpace(userID)
	encoded, err := json.Marshal(normalizeMedications(medications))
	if err != nil {
		return fmt.Errorf("profile store: encode medications for %q: %w", userID, err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO medication_profiles (user_id, medications, updated_at)
		 VALUES ($1, $2::jsonb, now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET medications = EXCLUDED.medications, updated_at = now()`,
		userID, string(encoded),
	)
	if err != nil {
		return fmt.Errorf("profile store: upsert %q: %w", userID, err)
	}
	return nil
}

// Close releases the connection pool when the store owns one.
func (s *PGStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
