// Package queue implements the durable submission queue.
//
// The queue owns the persisted collection of submission items. Items are
// stored as one JSON array under a single store key; every mutating
// operation reads the full collection, applies the change, and writes the
// full collection back. The queue-level API is the unit of atomicity seen
// by the rest of the system.
//
// Queue sizes are expected to be tens of items per device, so the
// whole-collection cycle is deliberately simple rather than indexed.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afyawatch/fieldsync/internal/store"
)

// collectionKey is the store key holding the serialized item collection.
const collectionKey = "sync/queue"

// ReportType identifies the kind of submission and determines the remote
// destination. The set is closed; unknown types fail at upload time.
type ReportType string

const (
	TypeDiseaseReport ReportType = "disease_report"
	TypeWaterQuality  ReportType = "water_quality"
	TypeFeedback      ReportType = "feedback"
)

// Valid reports whether t is one of the known report types.
func (t ReportType) Valid() bool {
	switch t {
	case TypeDiseaseReport, TypeWaterQuality, TypeFeedback:
		return true
	}
	return false
}

// Status represents the sync state of a queue item.
type Status string

const (
	// StatusPending means the item is waiting for its next upload attempt.
	StatusPending Status = "pending"
	// StatusSyncing means an upload attempt is in flight.
	StatusSyncing Status = "syncing"
	// StatusSynced means the remote acknowledged the item. Terminal;
	// synced items are purged after each drain.
	StatusSynced Status = "synced"
	// StatusFailed means the item exhausted its attempts. Terminal until
	// an operator resets it.
	StatusFailed Status = "failed"
)

// Item is one durable submission attempt.
//
// LocalID is generated once at creation and doubles as the idempotency
// key sent to the remote store.
type Item struct {
	LocalID     string         `json:"local_id"`
	Type        ReportType     `json:"type"`
	Payload     map[string]any `json:"payload"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	Attempts    int            `json:"attempts"`
	LastAttempt *time.Time     `json:"last_attempt,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Patch is a partial update applied to an item. Nil fields are left
// untouched.
type Patch struct {
	Status      *Status
	Attempts    *int
	LastAttempt *time.Time
	Error       *string
}

// Queue provides domain operations over the durable store.
//
// Every mutation runs its read-modify-write cycle inside a store write
// transaction, so an enqueue cannot interleave with a drain's status
// updates even when they come from different processes sharing the
// database file (the daemon and a one-shot CLI command). The internal
// mutex additionally keeps in-process callers deterministic.
type Queue struct {
	store  *store.Store
	logger *log.Logger
	mu     sync.Mutex
}

// New creates a Queue over the given store.
//
// If logger is nil, a default logger writing to stderr is used.
func New(st *store.Store, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{
		store:  st,
		logger: logger,
	}
}

// decode parses a stored collection. A missing key is an empty queue,
// not an error.
func decode(data []byte, err error) ([]Item, error) {
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode queue: %w", err)
	}
	return items, nil
}

// load reads the full collection from the store.
func (q *Queue) load() ([]Item, error) {
	return decode(q.store.Get(collectionKey))
}

// mutate runs fn over the collection inside a store write transaction,
// making the whole read-modify-write cycle atomic against every other
// writer of the database file. fn returns the collection to persist, or
// nil to leave the store untouched.
func (q *Queue) mutate(fn func(items []Item) ([]Item, error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.Update(func(tx *store.Tx) error {
		items, err := decode(tx.Get(collectionKey))
		if err != nil {
			return err
		}

		out, err := fn(items)
		if err != nil || out == nil {
			return err
		}

		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("failed to encode queue: %w", err)
		}
		if err := tx.Put(collectionKey, data); err != nil {
			return fmt.Errorf("failed to save queue: %w", err)
		}
		return nil
	})
}

// Enqueue appends a new pending item and returns its generated localId.
func (q *Queue) Enqueue(typ ReportType, payload map[string]any) (string, error) {
	return q.EnqueueWithID(uuid.New().String(), typ, payload)
}

// EnqueueWithID appends a new pending item under the given id.
//
// If an item with that id already exists, this is a no-op returning the
// existing id: duplicate producer-side insertions never create a second
// stored item.
func (q *Queue) EnqueueWithID(id string, typ ReportType, payload map[string]any) (string, error) {
	exists := false
	err := q.mutate(func(items []Item) ([]Item, error) {
		for _, item := range items {
			if item.LocalID == id {
				exists = true
				return nil, nil
			}
		}
		return append(items, Item{
			LocalID:   id,
			Type:      typ,
			Payload:   payload,
			Status:    StatusPending,
			CreatedAt: time.Now().UTC(),
			Attempts:  0,
		}), nil
	})
	if err != nil {
		return "", err
	}

	if exists {
		q.logger.Printf("Enqueue short-circuit: %s already queued", id)
	} else {
		q.logger.Printf("Enqueued %s item %s", typ, id)
	}
	return id, nil
}

// UpdateItem merges a patch into the item with the given id.
// Unknown ids are a no-op. Unpatched fields are preserved.
func (q *Queue) UpdateItem(id string, patch Patch) error {
	return q.mutate(func(items []Item) ([]Item, error) {
		for i := range items {
			if items[i].LocalID != id {
				continue
			}
			if patch.Status != nil {
				items[i].Status = *patch.Status
			}
			if patch.Attempts != nil {
				items[i].Attempts = *patch.Attempts
			}
			if patch.LastAttempt != nil {
				items[i].LastAttempt = patch.LastAttempt
			}
			if patch.Error != nil {
				items[i].Error = *patch.Error
			}
			return items, nil
		}
		return nil, nil
	})
}

// GetPendingItems returns the retry-eligible items in insertion order:
// pending items, plus failed items with fewer than maxAttempts attempts.
// Insertion order is the processing order; there is no priority
// reordering.
func (q *Queue) GetPendingItems(maxAttempts int) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load()
	if err != nil {
		return nil, err
	}

	var eligible []Item
	for _, item := range items {
		if retryEligible(item, maxAttempts) {
			eligible = append(eligible, item)
		}
	}
	return eligible, nil
}

// retryEligible reports whether item would be picked up by the next drain.
func retryEligible(item Item, maxAttempts int) bool {
	if item.Status == StatusPending {
		return true
	}
	return item.Status == StatusFailed && item.Attempts < maxAttempts
}

// GetAll returns every item currently in the store.
func (q *Queue) GetAll() ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// RemoveSynced deletes every synced item from the store. Non-reversible;
// synced items are not kept as history.
func (q *Queue) RemoveSynced() error {
	removed := 0
	err := q.mutate(func(items []Item) ([]Item, error) {
		kept := items[:0]
		for _, item := range items {
			if item.Status == StatusSynced {
				removed++
				continue
			}
			kept = append(kept, item)
		}
		if removed == 0 {
			return nil, nil
		}
		return kept, nil
	})
	if err != nil {
		return err
	}

	if removed > 0 {
		q.logger.Printf("Purged %d synced items", removed)
	}
	return nil
}

// PendingCount returns the number of retry-eligible items, using the same
// predicate as GetPendingItems.
func (q *Queue) PendingCount(maxAttempts int) (int, error) {
	items, err := q.GetPendingItems(maxAttempts)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// RetryFailed resets every failed item to pending with zero attempts.
//
// This is the manual operator path for permanently failed items; the
// drain loop never resets attempts on its own.
func (q *Queue) RetryFailed() (int, error) {
	count := 0
	err := q.mutate(func(items []Item) ([]Item, error) {
		for i := range items {
			if items[i].Status != StatusFailed {
				continue
			}
			items[i].Status = StatusPending
			items[i].Attempts = 0
			items[i].Error = ""
			count++
		}
		if count == 0 {
			return nil, nil
		}
		return items, nil
	})
	if err != nil {
		return 0, err
	}

	if count > 0 {
		q.logger.Printf("Reset %d failed items for retry", count)
	}
	return count, nil
}

// RecoverStale resets items persisted as syncing back to pending.
//
// An item is only ever syncing while a drain has it in flight; finding
// one outside a drain means a previous process crashed mid-upload. Left
// alone such items are invisible to every drain forever. Call at
// process startup, before any drain can run.
func (q *Queue) RecoverStale() (int, error) {
	count := 0
	err := q.mutate(func(items []Item) ([]Item, error) {
		for i := range items {
			if items[i].Status != StatusSyncing {
				continue
			}
			items[i].Status = StatusPending
			count++
		}
		if count == 0 {
			return nil, nil
		}
		return items, nil
	})
	if err != nil {
		return 0, err
	}

	if count > 0 {
		q.logger.Printf("Recovered %d items stuck syncing from a previous run", count)
	}
	return count, nil
}
