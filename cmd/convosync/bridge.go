package main

import (
	"sync"
	"time"

	"github.com/convosync/convosync/internal/merge"
	"github.com/convosync/convosync/internal/model"
	"github.com/convosync/convosync/internal/orchestrator"
)

// lateBridge lets the orchestrator be constructed before the dashboard
// handler exists. Events arriving before set() are dropped; the
// dashboard sends current state on connect anyway.
type lateBridge struct {
	mu     sync.Mutex
	target orchestrator.Events
}

func (b *lateBridge) set(target orchestrator.Events) {
	b.mu.Lock()
	b.target = target
	b.mu.Unlock()
}

func (b *lateBridge) get() orchestrator.Events {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target
}

// StateChanged implements orchestrator.Events.
func (b *lateBridge) StateChanged(state model.SyncState) {
	if t := b.get(); t != nil {
		t.StateChanged(state)
	}
}

// CycleCompleted implements orchestrator.Events.
func (b *lateBridge) CycleCompleted(report merge.Report, pushed int, duration time.Duration) {
	if t := b.get(); t != nil {
		t.CycleCompleted(report, pushed, duration)
	}
}
