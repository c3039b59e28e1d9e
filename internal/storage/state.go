package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/runger/xt/internal/history"
)

// Compile-time check that SQLiteStore can back the history store.
var _ history.KV = (*SQLiteStore)(nil)

// Get decodes the JSON value stored under key into dst.
// It reports false when the key does not exist.
func (s *SQLiteStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT value_json FROM state WHERE key = ?
	`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read state %q: %w", key, err)
	}
	if dst == nil {
		return true, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return true, fmt.Errorf("failed to decode state %q: %w", key, err)
	}
	return true, nil
}

// Update stores value under key, replacing any previous value.
func (s *SQLiteStore) Update(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode state %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO state (key, value_json, updated_at_unix_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at_unix_ms = excluded.updated_at_unix_ms
	`, key, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write state %q: %w", key, err)
	}
	return nil
}

// Keys returns all keys starting with prefix, sorted.
func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM state WHERE substr(key, 1, ?) = ? ORDER BY key
	`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list state keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan state key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// HistoryCommands returns the command names that have a history entry.
func (s *SQLiteStore) HistoryCommands(ctx context.Context) ([]string, error) {
	prefix := history.Key("")
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	cmds := make([]string, 0, len(keys))
	for _, k := range keys {
		cmds = append(cmds, strings.TrimPrefix(k, prefix))
	}
	return cmds, nil
}
