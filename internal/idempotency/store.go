package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store tracks payment ids that have already been fulfilled. Membership
// is checked before a transfer and the id is added only after the
// transfer confirms, so a crash mid-flight leaves the payment eligible
// for a safe retry. The check and the add are two separate operations:
// concurrent deliveries of the same id can both pass Has before either
// Add lands. Closing that race needs a conditional write in a shared
// store (see PostgresStore), not process-local locking.
type Store interface {
	Has(ctx context.Context, paymentID string) (bool, error)
	Add(ctx context.Context, paymentID string) error
}

// MemoryStore is the process-lifetime set the handler ships with by
// default. Best effort only: restarts lose it.
type MemoryStore struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]time.Time)}
}

func (m *MemoryStore) Has(_ context.Context, paymentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.seen[paymentID]
	return ok, nil
}

func (m *MemoryStore) Add(_ context.Context, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[paymentID] = time.Now().UTC()
	return nil
}

// FileStore persists the processed set to disk. Suitable for local dev;
// single process only.
type FileStore struct {
	path string
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		seen: make(map[string]time.Time),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.seen)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.seen, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, blob, 0o600)
}

func (f *FileStore) Has(_ context.Context, paymentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seen[paymentID]
	return ok, nil
}

func (f *FileStore) Add(_ context.Context, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[paymentID] = time.Now().UTC()
	return f.persist()
}
