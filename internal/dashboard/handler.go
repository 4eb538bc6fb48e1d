package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/convosync/convosync/internal/merge"
	"github.com/convosync/convosync/internal/model"
)

// Handler bridges orchestrator events to the WebSocket server. It
// implements the orchestrator's Events interface.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates an event handler connected to a dashboard server.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// StateChanged broadcasts a sync state transition.
func (h *Handler) StateChanged(state model.SyncState) {
	data, err := json.Marshal(state)
	if err != nil {
		h.logger.Printf("Failed to marshal state: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeStateChange,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// CycleCompleted broadcasts a finished sync cycle.
func (h *Handler) CycleCompleted(report merge.Report, pushed int, duration time.Duration) {
	data, err := json.Marshal(SyncCompleteData{
		Added:      report.Added,
		Updated:    report.Updated,
		Unchanged:  report.Unchanged,
		Failed:     report.Failed,
		Pushed:     pushed,
		Duration:   duration,
		DurationMS: duration.Milliseconds(),
	})
	if err != nil {
		h.logger.Printf("Failed to marshal sync report: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeSyncComplete,
		Timestamp: time.Now(),
		Data:      data,
	})
}
