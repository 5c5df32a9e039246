package journal

import (
	"context"
	"encoding/json"
	"sync"

	"submission-sync/internal/models"
)

const snapshotVersion = 1

// Snapshot is the persisted shape of the journal.
type Snapshot struct {
	Version int                       `json:"version"`
	Records []models.SubmissionRecord `json:"records"`
}

// Backend persists complete journal snapshots. Save must either fully
// replace the previous snapshot or leave it untouched.
type Backend interface {
	// Load returns nil, nil when nothing has been persisted yet.
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Close() error
}

// MemoryBackend keeps the serialized snapshot in memory.
type MemoryBackend struct {
	mu      sync.Mutex
	data    []byte
	saveErr error
	saves   int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load(context.Context) (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(b.data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (b *MemoryBackend) Save(_ context.Context, snap *Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	b.data = data
	b.saves++
	return nil
}

func (b *MemoryBackend) Close() error { return nil }

// FailSaves makes every following Save return err until called with nil.
func (b *MemoryBackend) FailSaves(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saveErr = err
}

// Saves reports how many snapshots were written.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}
