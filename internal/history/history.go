// Package history keeps a per-command list of previously executed argument
// strings, most recent first.
package history

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// DefaultLimit is the maximum number of entries kept per command.
const DefaultLimit = 20

// keyPrefix namespaces history entries in the backing KV store.
const keyPrefix = "history."

// KV is the persistence capability the store is backed by.
// Get reports false when the key has never been written.
type KV interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Update(ctx context.Context, key string, value any) error
}

// Store is the command history store. The backing KV is shared by every
// session in the process; writes are last-write-wins.
type Store struct {
	kv     KV
	limit  int
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLimit overrides DefaultLimit. Values <= 0 are ignored.
func WithLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithLogger sets the logger used to report KV failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a history store over kv.
func New(kv KV, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		limit:  DefaultLimit,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the KV key used for cmd.
func Key(cmd string) string {
	return keyPrefix + strings.TrimSpace(cmd)
}

// Limit returns the per-command capacity.
func (s *Store) Limit() int {
	return s.limit
}

// Get returns the history for cmd, most recent first.
// The result is never nil.
func (s *Store) Get(cmd string) []string {
	var items []string
	ok, err := s.kv.Get(context.Background(), Key(cmd), &items)
	if err != nil {
		s.logger.Warn("history read failed", "command", cmd, "error", err)
		return []string{}
	}
	if !ok || items == nil {
		return []string{}
	}
	return items
}

// Update moves value to the front of cmd's history.
// It is a no-op when value is already the most recent entry.
func (s *Store) Update(cmd, value string) error {
	items := s.Get(cmd)
	if len(items) > 0 && items[0] == value {
		return nil
	}

	next := make([]string, 0, len(items)+1)
	next = append(next, value)
	for _, item := range items {
		if item != value {
			next = append(next, item)
		}
	}
	if len(next) > s.limit {
		next = next[:s.limit]
	}
	return s.kv.Update(context.Background(), Key(cmd), next)
}

// Clear removes all history for cmd.
func (s *Store) Clear(cmd string) error {
	return s.kv.Update(context.Background(), Key(cmd), []string{})
}

// MemoryKV is an in-process KV. Values are stored as given; Get copies
// string slices into dst.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string][]string
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]string)}
}

// Get implements KV. Only *[]string destinations are supported.
func (m *MemoryKV) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, ok := m.data[key]
	if !ok {
		return false, nil
	}
	if p, isSlice := dst.(*[]string); isSlice {
		*p = append([]string(nil), items...)
	}
	return true, nil
}

// Update implements KV. Only []string values are supported.
func (m *MemoryKV) Update(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, _ := value.([]string)
	m.data[key] = append([]string(nil), items...)
	return nil
}
