package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rickgao/spot-tv/internal/credentials"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS spot_tv_state (
	device_id  TEXT PRIMARY KEY,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const (
	selectStateSQL = `SELECT state FROM spot_tv_state WHERE device_id = $1`

	selectStateForUpdateSQL = `SELECT state FROM spot_tv_state WHERE device_id = $1 FOR UPDATE`

	upsertStateSQL = `
INSERT INTO spot_tv_state (device_id, state, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (device_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`

	insertPlaceholderSQL = `
INSERT INTO spot_tv_state (device_id, state) VALUES ($1, '{}'::jsonb)
ON CONFLICT (device_id) DO NOTHING`
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ DB = (*pgxpool.Pool)(nil)

// CredentialStore persists credential state in PostgreSQL.
type CredentialStore struct {
	db       DB
	deviceID string
}

var _ credentials.Store = (*CredentialStore)(nil)

// NewCredentialStore creates a store for deviceID.
func NewCredentialStore(db DB, deviceID string) *CredentialStore {
	return &CredentialStore{db: db, deviceID: deviceID}
}

// EnsureSchema creates the state table if it does not exist.
func (s *CredentialStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create state table: %w", err)
	}
	return nil
}

// Load reads the device's state. A missing row yields the zero State.
func (s *CredentialStore) Load(ctx context.Context) (credentials.State, error) {
	return scanState(s.db.QueryRow(ctx, selectStateSQL, s.deviceID))
}

// Update locks the device's row, applies fn and writes the result in one
// transaction.
func (s *CredentialStore) Update(ctx context.Context, fn func(*credentials.State)) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Make sure a row exists so FOR UPDATE has something to lock.
	if _, err := tx.Exec(ctx, insertPlaceholderSQL, s.deviceID); err != nil {
		return fmt.Errorf("insert state row: %w", err)
	}

	state, err := scanState(tx.QueryRow(ctx, selectStateForUpdateSQL, s.deviceID))
	if err != nil {
		return err
	}

	fn(&state)
	state.Version = credentials.StateVersion
	state.SavedAt = time.Now().UTC()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if _, err := tx.Exec(ctx, upsertStateSQL, s.deviceID, data, state.SavedAt); err != nil {
		return fmt.Errorf("write state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Clear deletes the device's row.
func (s *CredentialStore) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM spot_tv_state WHERE device_id = $1`, s.deviceID); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

func scanState(row pgx.Row) (credentials.State, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return credentials.State{}, nil
		}
		return credentials.State{}, fmt.Errorf("query state: %w", err)
	}

	var state credentials.State
	if err := json.Unmarshal(data, &state); err != nil {
		return credentials.State{}, fmt.Errorf("parse state: %w", err)
	}
	return state, nil
}
