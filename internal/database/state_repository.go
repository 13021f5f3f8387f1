package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openbank/ledger/internal/models"
)

// StateRepository stores each ledger as a single JSON row keyed by ledger id.
type StateRepository struct {
	db     *sql.DB
	driver string
}

func NewStateRepository(db *sql.DB, driver string) *StateRepository {
	return &StateRepository{db: db, driver: driver}
}

const createStateTable = `CREATE TABLE IF NOT EXISTS ledger_state (
	ledger_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// EnsureSchema creates the state table if it does not exist.
func (r *StateRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createStateTable); err != nil {
		return fmt.Errorf("create ledger_state: %w", err)
	}
	return nil
}

func (r *StateRepository) upsertQuery() string {
	if r.driver == DriverPostgres {
		return `INSERT INTO ledger_state (ledger_id, state, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT (ledger_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`
	}
	return `INSERT INTO ledger_state (ledger_id, state, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (ledger_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`
}

func (r *StateRepository) selectQuery() string {
	if r.driver == DriverPostgres {
		return `SELECT state FROM ledger_state WHERE ledger_id = $1`
	}
	return `SELECT state FROM ledger_state WHERE ledger_id = ?`
}

// Save replaces the stored state of the ledger.
func (r *StateRepository) Save(ctx context.Context, state *models.LedgerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode ledger state: %w", err)
	}

	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, r.upsertQuery(), state.LedgerID, string(data), updatedAt); err != nil {
		return fmt.Errorf("save ledger state %s: %w", state.LedgerID, err)
	}
	return nil
}

// Load returns the stored state of the ledger, or nil if none was saved.
func (r *StateRepository) Load(ctx context.Context, ledgerID string) (*models.LedgerState, error) {
	var data string
	err := r.db.QueryRowContext(ctx, r.selectQuery(), ledgerID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger state %s: %w", ledgerID, err)
	}

	var state models.LedgerState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("decode ledger state %s: %w", ledgerID, err)
	}
	return &state, nil
}
