// Package engine orchestrates drains of the submission queue.
//
// A drain pulls the retry-eligible items, uploads each one sequentially
// with exponential backoff, updates item statuses, purges synced items,
// and publishes the new pending count to subscribers. Drains are
// mutually exclusive: the isSyncing guard is the only concurrency
// primitive, and it exists to keep two drains from interleaving their
// read-modify-write cycles on the shared store.
//
// Items are processed strictly in insertion order. Sequential processing
// keeps a simple total order for backoff timing and keeps the store's
// whole-collection cycles free of races without item-level locks.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afyawatch/fieldsync/internal/queue"
	"github.com/afyawatch/fieldsync/internal/uploader"
)

// Config holds engine configuration.
type Config struct {
	// MaxAttempts is the retry ceiling. An item whose attempt count
	// reaches this value is frozen as failed.
	MaxAttempts int

	// BaseDelay is the backoff base. The pre-attempt delay for an item
	// is BaseDelay × 2^attempts, and zero on its very first attempt.
	BaseDelay time.Duration

	// Logger for engine activity.
	Logger *log.Logger

	// Journal records drain results when non-nil.
	Journal *Journal

	// OnDrain is invoked after every completed drain when non-nil.
	OnDrain func(Entry)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Logger:      log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Result reports how much work a drain performed.
type Result struct {
	Synced int
	Failed int
}

// SubmitResult reports how a submission was handled.
type SubmitResult struct {
	// Queued is true when the submission was stored for a later drain
	// rather than delivered directly.
	Queued bool

	// LocalID is the queued item's id. Empty for direct deliveries.
	LocalID string
}

// Monitor is the connectivity trigger attached to the engine.
type Monitor interface {
	Start() error
	Stop() error
	Online() bool
}

// Engine drives the offline submission pipeline.
//
// Construct one per process and thread it through explicitly; the
// engine's transient state (guard, subscribers) is in-memory only and
// resets to idle on restart.
type Engine struct {
	queue    *queue.Queue
	uploader uploader.Uploader
	config   Config

	monitor Monitor
	onDrain func(Entry)

	guardMu   sync.Mutex
	isSyncing bool

	subMu       sync.Mutex
	subscribers map[int]func(int)
	nextSubID   int
}

// New creates an Engine over the given queue and uploader.
// If config is nil, defaults are used. The config is copied; the caller's
// struct is never retained or modified.
func New(q *queue.Queue, up uploader.Uploader, config *Config) *Engine {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	return &Engine{
		queue:       q,
		uploader:    up,
		config:      cfg,
		onDrain:     cfg.OnDrain,
		subscribers: make(map[int]func(int)),
	}
}

// SetMonitor attaches a connectivity monitor. The monitor's callback
// should be OnOnline. Must be called before Start.
func (e *Engine) SetMonitor(m Monitor) {
	e.monitor = m
}

// SetOnDrain registers the drain-completion callback, replacing any set
// through Config. Like SetMonitor, call before Start.
func (e *Engine) SetOnDrain(fn func(Entry)) {
	e.onDrain = fn
}

// Start attaches the connectivity monitor. Idempotent: the monitor's
// own Start is a no-op when already attached.
func (e *Engine) Start() error {
	if e.monitor == nil {
		return nil
	}
	return e.monitor.Start()
}

// Stop detaches the connectivity monitor and cancels any pending
// debounce. An in-flight drain runs to completion.
func (e *Engine) Stop() error {
	if e.monitor == nil {
		return nil
	}
	return e.monitor.Stop()
}

// OnOnline is the monitor callback. It drains in the background so the
// monitor's event loop is never blocked by uploads.
func (e *Engine) OnOnline() {
	go func() {
		if _, err := e.syncAll(context.Background(), "connectivity"); err != nil {
			e.config.Logger.Printf("Drain failed: %v", err)
		}
	}()
}

// TriggerSync runs a manual drain, sharing the mutual-exclusion guard
// with the connectivity-triggered path.
func (e *Engine) TriggerSync(ctx context.Context) (Result, error) {
	return e.syncAll(ctx, "manual")
}

// SyncAll drains every retry-eligible item.
//
// If a drain is already running, it returns immediately reporting zero
// work done. A single item's failure never aborts the batch.
func (e *Engine) SyncAll(ctx context.Context) (Result, error) {
	return e.syncAll(ctx, "manual")
}

func (e *Engine) syncAll(ctx context.Context, trigger string) (Result, error) {
	e.guardMu.Lock()
	if e.isSyncing {
		e.guardMu.Unlock()
		e.config.Logger.Println("Drain already in progress, skipping")
		return Result{}, nil
	}
	e.isSyncing = true
	e.guardMu.Unlock()

	defer func() {
		e.guardMu.Lock()
		e.isSyncing = false
		e.guardMu.Unlock()
	}()

	start := time.Now()

	items, err := e.queue.GetPendingItems(e.config.MaxAttempts)
	if err != nil {
		// Abort this drain cleanly; queued items are untouched.
		return Result{}, fmt.Errorf("drain aborted: %w", err)
	}
	if len(items) == 0 {
		return Result{}, nil
	}

	e.config.Logger.Printf("Draining %d items (%s)", len(items), trigger)

	var result Result
	for _, item := range items {
		if ctx.Err() != nil {
			e.config.Logger.Printf("Drain cancelled after %d items", result.Synced+result.Failed)
			break
		}
		e.processItem(ctx, item, &result)
	}

	if err := e.queue.RemoveSynced(); err != nil {
		e.config.Logger.Printf("Failed to purge synced items: %v", err)
	}

	pending := e.notifySubscribers()

	entry := Entry{
		StartedAt: start.UTC(),
		Duration:  time.Since(start),
		Trigger:   trigger,
		Synced:    result.Synced,
		Failed:    result.Failed,
		Pending:   pending,
	}
	if e.config.Journal != nil {
		if err := e.config.Journal.Append(entry); err != nil {
			e.config.Logger.Printf("Failed to record drain: %v", err)
		}
	}
	if e.onDrain != nil {
		e.onDrain(entry)
	}

	e.config.Logger.Printf("Drain complete: %d synced, %d failed, %d pending",
		result.Synced, result.Failed, pending)
	return result, nil
}

// processItem uploads one item and records the outcome on it.
func (e *Engine) processItem(ctx context.Context, item queue.Item, result *Result) {
	syncing := queue.StatusSyncing
	if err := e.queue.UpdateItem(item.LocalID, queue.Patch{Status: &syncing}); err != nil {
		e.config.Logger.Printf("Failed to mark %s syncing: %v", item.LocalID, err)
		return
	}

	if delay := backoffDelay(e.config.BaseDelay, item.Attempts); delay > 0 {
		e.config.Logger.Printf("Backing off %v before retrying %s (attempt %d)",
			delay, item.LocalID, item.Attempts+1)
		if !sleep(ctx, delay) {
			// Cancelled mid-backoff: leave the item eligible for the
			// next drain.
			pending := queue.StatusPending
			_ = e.queue.UpdateItem(item.LocalID, queue.Patch{Status: &pending})
			return
		}
	}

	now := time.Now().UTC()
	uploadErr := e.uploader.Upload(ctx, item.Type, item.LocalID, item.Payload)

	if uploadErr == nil {
		synced := queue.StatusSynced
		if err := e.queue.UpdateItem(item.LocalID, queue.Patch{
			Status:      &synced,
			LastAttempt: &now,
		}); err != nil {
			e.config.Logger.Printf("Failed to mark %s synced: %v", item.LocalID, err)
			return
		}
		result.Synced++
		return
	}

	attempts := item.Attempts + 1
	status := queue.StatusPending
	if attempts >= e.config.MaxAttempts {
		status = queue.StatusFailed
		e.config.Logger.Printf("Item %s failed permanently after %d attempts: %v",
			item.LocalID, attempts, uploadErr)
	} else {
		e.config.Logger.Printf("Item %s failed (attempt %d/%d): %v",
			item.LocalID, attempts, e.config.MaxAttempts, uploadErr)
	}

	errMsg := uploadErr.Error()
	if err := e.queue.UpdateItem(item.LocalID, queue.Patch{
		Status:      &status,
		Attempts:    &attempts,
		LastAttempt: &now,
		Error:       &errMsg,
	}); err != nil {
		e.config.Logger.Printf("Failed to record failure on %s: %v", item.LocalID, err)
	}
	result.Failed++
}

// Submit is the producer-side entry point.
//
// When online, it performs a direct upsert with a fresh idempotency key
// and returns {Queued: false}. When offline, or when the direct upload
// fails, the submission is enqueued under that same key, so whichever
// write eventually lands first wins the destination's unique constraint
// and the other collapses to a no-op.
func (e *Engine) Submit(ctx context.Context, typ queue.ReportType, payload map[string]any) (SubmitResult, error) {
	return e.SubmitWithKey(ctx, uuid.New().String(), typ, payload)
}

// SubmitWithKey submits under a caller-held idempotency key.
//
// Forms keep the key from their first submit and reuse it on resubmit,
// so an impatient double-tap racing a queued drain still collapses to
// one remote row.
func (e *Engine) SubmitWithKey(ctx context.Context, localID string, typ queue.ReportType, payload map[string]any) (SubmitResult, error) {
	if e.online() {
		if err := e.uploader.Upload(ctx, typ, localID, payload); err == nil {
			return SubmitResult{Queued: false}, nil
		} else {
			e.config.Logger.Printf("Direct submit failed, queueing: %v", err)
		}
	}

	id, err := e.queue.EnqueueWithID(localID, typ, payload)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to queue submission: %w", err)
	}
	return SubmitResult{Queued: true, LocalID: id}, nil
}

// online reports the monitor's current view, defaulting to offline when
// no monitor is attached (queue-first is the safe path).
func (e *Engine) online() bool {
	if e.monitor == nil {
		return false
	}
	return e.monitor.Online()
}

// PendingCount returns the number of retry-eligible items.
func (e *Engine) PendingCount() (int, error) {
	return e.queue.PendingCount(e.config.MaxAttempts)
}

// Subscribe registers fn to receive pending-count updates after every
// completed drain. The current count is delivered immediately. The
// returned function unsubscribes.
func (e *Engine) Subscribe(fn func(pending int)) func() {
	e.subMu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = fn
	e.subMu.Unlock()

	if count, err := e.PendingCount(); err == nil {
		fn(count)
	}

	return func() {
		e.subMu.Lock()
		delete(e.subscribers, id)
		e.subMu.Unlock()
	}
}

// notifySubscribers pushes the current pending count to all subscribers
// and returns it.
func (e *Engine) notifySubscribers() int {
	count, err := e.PendingCount()
	if err != nil {
		e.config.Logger.Printf("Failed to compute pending count: %v", err)
		return 0
	}

	e.subMu.Lock()
	fns := make([]func(int), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()

	for _, fn := range fns {
		fn(count)
	}
	return count
}

// backoffDelay computes base × 2^attempts, zero for a first attempt.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	return base * time.Duration(1<<uint(attempts))
}

// sleep waits for d or until ctx is cancelled. Returns false on cancel.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
