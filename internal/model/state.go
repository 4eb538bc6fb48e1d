package model

// SyncStatus is the orchestrator's externally visible state.
type SyncStatus string

const (
	// StatusIdle means no cycle is running and the last outcome was clean.
	StatusIdle SyncStatus = "idle"
	// StatusSyncing means a cycle is in progress.
	StatusSyncing SyncStatus = "syncing"
	// StatusError means the last cycle exhausted retries on a non-network error.
	StatusError SyncStatus = "error"
	// StatusOffline means the last cycle hit a network failure; the
	// orchestrator waits for the next external trigger rather than retrying.
	StatusOffline SyncStatus = "offline"
)

// SyncState is the small diagnostic record surfaced to UI callers.
//
// Only LastSyncAt survives a process restart (persisted in the store's
// meta table); status, pending count and last error reset to defaults.
type SyncState struct {
	Status SyncStatus `json:"status"`

	// LastSyncAt is epoch milliseconds of the last completed cycle,
	// 0 when no sync has ever completed.
	LastSyncAt int64 `json:"lastSyncAt,omitempty"`

	// PendingChanges counts recorded-but-unpushed local changes.
	PendingChanges int `json:"pendingChanges"`

	// LastError is the most recent terminal error text, empty when none.
	LastError string `json:"lastError,omitempty"`
}
