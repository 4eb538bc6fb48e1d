// Package orchestrator owns the sync lifecycle: startup hydration,
// debounced scheduling of push cycles, retry with backoff, and the
// idle/syncing/error/offline state machine surfaced to callers.
//
// The orchestrator is wired once at the composition root and shared; all
// of its mutable state (pending change list, debounce timer, in-progress
// flag) is guarded by one mutex, and cycles are strictly sequential: a
// request to start while a cycle is running is a no-op, so this process
// never races itself on the remote object. Concurrent pushes from a
// different device are an accepted race, mitigated by merge-on-pull.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/convosync/convosync/internal/blob"
	"github.com/convosync/convosync/internal/merge"
	"github.com/convosync/convosync/internal/model"
	"github.com/convosync/convosync/internal/store"
)

// Config holds orchestrator tuning knobs.
type Config struct {
	// DebounceInterval is how long to wait after the latest local change
	// before starting a cycle, batching bursty writes.
	DebounceInterval time.Duration

	// ChangeThreshold short-circuits the debounce: once this many changes
	// are pending and MinSyncInterval has elapsed since the last
	// completed cycle, a cycle starts immediately.
	ChangeThreshold int

	// MinSyncInterval is the minimum spacing between threshold-triggered
	// cycles.
	MinSyncInterval time.Duration

	// MaxAttempts is the number of attempts per triggered sync.
	MaxAttempts int

	// RetryBackoff is the linear backoff base: attempt n waits
	// n * RetryBackoff before the next try.
	RetryBackoff time.Duration

	// OwnerTag stamps pushed snapshots and must match on pull.
	OwnerTag string

	// DeviceID optionally tags pushed snapshots with this device.
	DeviceID string

	// Logger for orchestrator activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 30 * time.Second,
		ChangeThreshold:  5,
		MinSyncInterval:  60 * time.Second,
		MaxAttempts:      3,
		RetryBackoff:     5 * time.Second,
		OwnerTag:         model.DefaultOwnerTag,
		Logger:           log.New(os.Stderr, "[orchestrator] ", log.LstdFlags),
	}
}

// Events receives orchestrator notifications. Implementations must not
// block; the dashboard bridge is the intended consumer. All methods may
// be called from multiple goroutines.
type Events interface {
	// StateChanged fires on every sync state transition.
	StateChanged(state model.SyncState)

	// CycleCompleted fires after a successful cycle with the merge
	// report and the number of conversations pushed.
	CycleCompleted(report merge.Report, pushed int, duration time.Duration)
}

// pendingChange records one local mutation awaiting push.
type pendingChange struct {
	ConversationID string
	At             int64
}

// Orchestrator coordinates the local store and the remote blob client.
type Orchestrator struct {
	store  *store.Store
	client blob.Client
	cfg    *Config
	events Events
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	status       model.SyncStatus
	lastSyncAt   int64 // epoch ms, persisted
	lastError    string
	pending      []pendingChange
	debounce     *time.Timer
	syncing      bool
	lastCycleEnd time.Time
}

// New creates an orchestrator. events may be nil. Call Hydrate before
// normal operation and Close on shutdown.
func New(st *store.Store, client blob.Client, cfg *Config, events Events) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[orchestrator] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:  st,
		client: client,
		cfg:    cfg,
		events: events,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		status: model.StatusIdle,
	}
}

// Hydrate runs the startup sequence: load the persisted last sync time,
// and if a credential is present, pull and merge remote state, then
// schedule a push when local changes predate the merge. An unauthenticated
// client leaves the orchestrator idle without error.
func (o *Orchestrator) Hydrate(ctx context.Context) error {
	lastSyncAt, err := o.store.LoadLastSyncAt(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync state: %w", err)
	}
	o.mu.Lock()
	o.lastSyncAt = lastSyncAt
	o.mu.Unlock()

	if !o.client.IsAuthenticated() {
		o.logger.Printf("Not authenticated, staying idle")
		return nil
	}

	o.logger.Printf("Hydrating from remote")
	snap, err := o.client.Pull(ctx)
	if err != nil {
		o.recordFailure(err)
		return fmt.Errorf("hydration pull failed: %w", err)
	}

	report := o.store.MergeSnapshot(ctx, snap.Conversations)
	o.logger.Printf("Hydration merge: %d added, %d updated, %d unchanged, %d failed",
		report.Added, report.Updated, report.Unchanged, report.Failed)

	unsynced, err := o.store.ListUnsynced(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unsynced conversations: %w", err)
	}
	if len(unsynced) > 0 {
		o.logger.Printf("%d conversations pending push after hydration, scheduling sync", len(unsynced))
		o.mu.Lock()
		o.armDebounceLocked()
		o.mu.Unlock()
	}
	return nil
}

// RecordChange notes a local mutation to the given conversation and
// (re)arms the debounce timer. When the pending count crosses the
// threshold and the minimum interval since the last completed cycle has
// elapsed, a cycle starts immediately instead.
//
// Local writes never fail because of sync trouble; this method has no
// error to return.
func (o *Orchestrator) RecordChange(conversationID string) {
	o.mu.Lock()
	o.pending = append(o.pending, pendingChange{
		ConversationID: conversationID,
		At:             model.NowMillis(),
	})
	count := len(o.pending)

	if count >= o.cfg.ChangeThreshold && o.intervalElapsedLocked() {
		o.stopDebounceLocked()
		o.mu.Unlock()
		o.logger.Printf("Change threshold reached (%d pending), syncing now", count)
		o.startCycleAsync()
		return
	}

	o.armDebounceLocked()
	o.mu.Unlock()
}

// ForceSync runs a cycle immediately, cancelling any pending debounce
// timer. Returns false without doing anything when a cycle is already in
// progress. The cycle runs in the calling goroutine.
func (o *Orchestrator) ForceSync(ctx context.Context) bool {
	o.mu.Lock()
	o.stopDebounceLocked()
	if o.syncing {
		o.mu.Unlock()
		o.logger.Printf("Sync already in progress, ignoring forced sync")
		return false
	}
	state := o.beginCycleLocked()
	o.mu.Unlock()
	o.notifyState(state)

	o.runCycle(ctx)
	return true
}

// State returns a snapshot of the current sync state.
func (o *Orchestrator) State() model.SyncState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

// Login validates and stores the credential, then re-runs hydration so
// the device immediately converges with the remote.
func (o *Orchestrator) Login(ctx context.Context, credential string) error {
	if err := o.client.Login(ctx, credential); err != nil {
		return err
	}
	return o.Hydrate(ctx)
}

// Logout clears the credential, cancels any pending debounce, discards
// pending changes and resets the state to idle with no last sync.
func (o *Orchestrator) Logout(ctx context.Context) error {
	o.mu.Lock()
	o.stopDebounceLocked()
	o.pending = nil
	o.status = model.StatusIdle
	o.lastError = ""
	o.lastSyncAt = 0
	state := o.stateLocked()
	o.mu.Unlock()

	if err := o.store.SaveLastSyncAt(ctx, 0); err != nil {
		o.logger.Printf("WARNING: failed to reset persisted sync time: %v", err)
	}
	if err := o.client.Logout(); err != nil {
		return err
	}
	o.notifyState(state)
	o.logger.Printf("Logged out, sync state reset")
	return nil
}

// IsLoggedIn reports whether a credential is loaded.
func (o *Orchestrator) IsLoggedIn() bool {
	return o.client.IsAuthenticated()
}

// Close cancels timers and waits for any in-flight cycle to finish.
// A cycle is never cancelled mid-flight; it runs to completion, success
// or final retry failure.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.stopDebounceLocked()
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
}

// armDebounceLocked (re)starts the debounce timer. Caller holds mu.
func (o *Orchestrator) armDebounceLocked() {
	if o.debounce != nil {
		o.debounce.Stop()
	}
	o.debounce = time.AfterFunc(o.cfg.DebounceInterval, func() {
		o.logger.Printf("Debounce elapsed, syncing")
		o.startCycleAsync()
	})
}

// stopDebounceLocked cancels the pending debounce timer. Caller holds mu.
func (o *Orchestrator) stopDebounceLocked() {
	if o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
}

// intervalElapsedLocked reports whether MinSyncInterval has passed since
// the last completed cycle. A never-synced orchestrator counts as
// elapsed. Caller holds mu.
func (o *Orchestrator) intervalElapsedLocked() bool {
	if o.lastCycleEnd.IsZero() {
		return true
	}
	return time.Since(o.lastCycleEnd) >= o.cfg.MinSyncInterval
}

// startCycleAsync starts a cycle in its own goroutine unless one is
// already running or the orchestrator is shutting down. When a cycle is
// in flight the trigger is not lost: the debounce is re-armed so the
// pending work is rescheduled after the current cycle finishes.
func (o *Orchestrator) startCycleAsync() {
	o.mu.Lock()
	if o.syncing {
		if len(o.pending) > 0 {
			o.armDebounceLocked()
		}
		o.mu.Unlock()
		return
	}
	select {
	case <-o.ctx.Done():
		o.mu.Unlock()
		return
	default:
	}
	state := o.beginCycleLocked()
	o.mu.Unlock()
	o.notifyState(state)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runCycle(o.ctx)
	}()
}

// beginCycleLocked marks the cycle in progress and returns the state to
// notify. Caller holds mu and must deliver the notification after
// releasing it, before any terminal notification can be produced.
func (o *Orchestrator) beginCycleLocked() model.SyncState {
	o.syncing = true
	o.status = model.StatusSyncing
	return o.stateLocked()
}

// stateLocked builds a state snapshot. Caller holds mu.
func (o *Orchestrator) stateLocked() model.SyncState {
	return model.SyncState{
		Status:         o.status,
		LastSyncAt:     o.lastSyncAt,
		PendingChanges: len(o.pending),
		LastError:      o.lastError,
	}
}

func (o *Orchestrator) notifyState(state model.SyncState) {
	if o.events != nil {
		o.events.StateChanged(state)
	}
}
