package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/convosync/convosync/internal/blob"
	"github.com/convosync/convosync/internal/merge"
	"github.com/convosync/convosync/internal/model"
)

// runCycle executes one triggered sync with retries. The caller must have
// already marked the cycle in progress via beginCycleLocked.
//
// Retry policy: up to MaxAttempts attempts with linear backoff
// (attempt * RetryBackoff) between them, all within the same syncing
// state. A network classification moves the orchestrator offline instead
// of consuming retries; offline means "wait for the next external
// trigger", not "retry immediately". Auth, parse and missing-credential
// failures stop retrying at once. Pending changes and unsynced flags
// survive every failure path, so a later trigger retries the same work
// and a failed cycle never loses data.
func (o *Orchestrator) runCycle(ctx context.Context) {
	start := time.Now()

	// Changes recorded from here on belong to the next cycle; only the
	// ones already pending are cleared on success.
	o.mu.Lock()
	mark := len(o.pending)
	o.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * o.cfg.RetryBackoff
			if hint := blob.RetryAfterOf(lastErr); hint > backoff {
				backoff = hint
			}
			o.logger.Printf("Retrying sync in %v (attempt %d/%d)", backoff, attempt, o.cfg.MaxAttempts)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				o.finishFailure(fmt.Errorf("sync cancelled: %w", ctx.Err()), model.StatusOffline)
				return
			}
		}

		report, pushed, err := o.performSyncCycle(ctx)
		if err == nil {
			o.finishSuccess(mark, report, pushed, time.Since(start))
			return
		}
		lastErr = err

		switch blob.KindOf(err) {
		case blob.KindNetwork:
			o.logger.Printf("Network failure during sync: %v", err)
			o.finishFailure(err, model.StatusOffline)
			return
		case blob.KindAuth, blob.KindParse, blob.KindConfigMissing:
			o.logger.Printf("Non-retryable failure during sync: %v", err)
			o.finishFailure(err, model.StatusError)
			return
		default:
			o.logger.Printf("Sync attempt %d/%d failed: %v", attempt, o.cfg.MaxAttempts, err)
		}
	}

	o.logger.Printf("Sync failed after %d attempts: %v", o.cfg.MaxAttempts, lastErr)
	o.finishFailure(lastErr, model.StatusError)
}

// performSyncCycle runs one attempt: pull, merge, export, push, mark
// synced. Rate-limit and network failures abort before any partial push.
// A parse failure aborts before the merge, so malformed remote data can
// never corrupt the local store.
func (o *Orchestrator) performSyncCycle(ctx context.Context) (merge.Report, int, error) {
	snap, err := o.client.Pull(ctx)
	if err != nil {
		return merge.Report{}, 0, err
	}

	report := o.store.MergeSnapshot(ctx, snap.Conversations)

	// Re-read fresh at push time; nothing holds a conversation copy
	// across the pull suspension point.
	export, err := o.store.ExportAll(ctx)
	if err != nil {
		return report, 0, err
	}

	out := model.NewSnapshot(o.cfg.OwnerTag, o.cfg.DeviceID, export)
	if err := o.client.Push(ctx, out); err != nil {
		return report, 0, err
	}

	ids := make([]string, len(export))
	for i := range export {
		ids[i] = export[i].ID
	}
	if err := o.store.MarkSynced(ctx, ids); err != nil {
		return report, 0, err
	}
	return report, len(export), nil
}

// finishSuccess clears the changes this cycle covered, persists the sync
// time and returns to idle.
func (o *Orchestrator) finishSuccess(mark int, report merge.Report, pushed int, elapsed time.Duration) {
	now := model.NowMillis()

	o.mu.Lock()
	if mark > len(o.pending) {
		mark = len(o.pending)
	}
	o.pending = o.pending[mark:]
	o.syncing = false
	o.status = model.StatusIdle
	o.lastError = ""
	o.lastSyncAt = now
	o.lastCycleEnd = time.Now()
	o.rearmIfPendingLocked()
	state := o.stateLocked()
	o.mu.Unlock()

	if err := o.store.SaveLastSyncAt(context.Background(), now); err != nil {
		o.logger.Printf("WARNING: failed to persist sync time: %v", err)
	}

	o.logger.Printf("Sync complete in %v: pushed %d conversations (merge: %d added, %d updated, %d unchanged)",
		elapsed.Round(time.Millisecond), pushed, report.Added, report.Updated, report.Unchanged)

	o.notifyState(state)
	if o.events != nil {
		o.events.CycleCompleted(report, pushed, elapsed)
	}
}

// finishFailure records the terminal outcome of a failed cycle. Pending
// changes are kept so the next trigger retries the same work.
func (o *Orchestrator) finishFailure(err error, status model.SyncStatus) {
	o.mu.Lock()
	o.syncing = false
	o.status = status
	o.lastError = err.Error()
	o.lastCycleEnd = time.Now()
	o.rearmIfPendingLocked()
	state := o.stateLocked()
	o.mu.Unlock()

	o.notifyState(state)
}

// rearmIfPendingLocked re-arms the debounce when changes recorded during
// the finished cycle are still pending. Their original trigger may have
// fired (and no-opped) mid-cycle; without a fresh timer they would sit
// unpushed until an unrelated later change. Caller holds mu.
func (o *Orchestrator) rearmIfPendingLocked() {
	if len(o.pending) == 0 {
		return
	}
	select {
	case <-o.ctx.Done():
	default:
		o.armDebounceLocked()
	}
}

// recordFailure surfaces a non-cycle failure (hydration) in the sync
// state without touching the pending list.
func (o *Orchestrator) recordFailure(err error) {
	status := model.StatusError
	if blob.IsKind(err, blob.KindNetwork) {
		status = model.StatusOffline
	}
	o.mu.Lock()
	o.status = status
	o.lastError = err.Error()
	state := o.stateLocked()
	o.mu.Unlock()
	o.notifyState(state)
}
