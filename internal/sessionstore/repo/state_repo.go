package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// StateRepo is the postgres-backed sessionstore.Store.
type StateRepo struct {
	db *sqlx.DB
}

func NewStateRepo(db *sqlx.DB) *StateRepo {
	return &StateRepo{db: db}
}

// EnsureTable creates the client_state table if not exists (idempotent).
func (r *StateRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS client_state (
  scope TEXT NOT NULL,
  key TEXT NOT NULL,
  value TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (scope, key)
);
CREATE INDEX IF NOT EXISTS idx_client_state_updated_at ON client_state(updated_at);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *StateRepo) Get(ctx context.Context, scope, key string) ([]byte, bool, error) {
	var v string
	err := r.db.GetContext(ctx, &v, `SELECT value FROM client_state WHERE scope=$1 AND key=$2`, scope, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(v), true, nil
}

// Set upserts; the last write for a (scope, key) wins.
func (r *StateRepo) Set(ctx context.Context, scope, key string, value []byte) error {
	const q = `INSERT INTO client_state (scope, key, value, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (scope, key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`
	_, err := r.db.ExecContext(ctx, q, scope, key, string(value))
	return err
}

func (r *StateRepo) Clear(ctx context.Context, scope, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM client_state WHERE scope=$1 AND key=$2`, scope, key)
	return err
}

// Purge removes entries under scopes with the given prefix not written since before.
func (r *StateRepo) Purge(ctx context.Context, prefix string, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM client_state WHERE scope LIKE $1 AND updated_at < $2`, prefix+"%", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
