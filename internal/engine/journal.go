package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/afyawatch/fieldsync/internal/store"
)

// journalKey is the store key holding the serialized drain history.
const journalKey = "sync/journal"

// Entry records the outcome of one drain.
type Entry struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Trigger   string        `json:"trigger"` // connectivity, manual
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Pending   int           `json:"pending"`
}

// Journal keeps a bounded history of drain results in the store.
//
// Unlike queue items, entries are operational telemetry: the oldest are
// dropped once the bound is reached.
type Journal struct {
	store *store.Store
	size  int
	mu    sync.Mutex
}

// NewJournal creates a journal keeping at most size entries.
func NewJournal(st *store.Store, size int) *Journal {
	if size <= 0 {
		size = 50
	}
	return &Journal{store: st, size: size}
}

// Append records a drain result, evicting the oldest entry when full.
func (j *Journal) Append(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.load()
	if err != nil {
		return err
	}

	entries = append(entries, entry)
	if len(entries) > j.size {
		entries = entries[len(entries)-j.size:]
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode journal: %w", err)
	}
	if err := j.store.Put(journalKey, data); err != nil {
		return fmt.Errorf("failed to save journal: %w", err)
	}
	return nil
}

// Entries returns the recorded history, oldest first.
func (j *Journal) Entries() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.load()
}

func (j *Journal) load() ([]Entry, error) {
	data, err := j.store.Get(journalKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load journal: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode journal: %w", err)
	}
	return entries, nil
}
