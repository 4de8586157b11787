package persist

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// KV is the durable slot the gateway writes snapshots into. Get reports
// absence via the bool, not an error.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// PostgresKV stores slots in the board_snapshots table.
type PostgresKV struct {
	db *sql.DB
}

// NewPostgresKV wraps an open connection pool.
func NewPostgresKV(db *sql.DB) *PostgresKV {
	return &PostgresKV{db: db}
}

// Get reads a slot.
func (k *PostgresKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := k.db.QueryRowContext(ctx,
		`SELECT data FROM board_snapshots WHERE slot = $1`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set overwrites a slot entirely.
func (k *PostgresKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := k.db.ExecContext(ctx, `
		INSERT INTO board_snapshots (slot, data, saved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (slot) DO UPDATE SET data = EXCLUDED.data, saved_at = EXCLUDED.saved_at
	`, key, value, time.Now().UTC())
	return err
}

// Delete removes a slot. Missing slots are not an error.
func (k *PostgresKV) Delete(ctx context.Context, key string) error {
	_, err := k.db.ExecContext(ctx, `DELETE FROM board_snapshots WHERE slot = $1`, key)
	return err
}

// MemoryKV is the in-process fallback used when no database is reachable,
// and by tests.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryKV creates an empty in-memory slot store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Get reads a slot.
func (k *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// Set overwrites a slot.
func (k *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	k.data[key] = cp
	return nil
}

// Delete removes a slot.
func (k *MemoryKV) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, key)
	return nil
}
