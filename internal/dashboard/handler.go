package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/afyawatch/fieldsync/internal/engine"
)

// Handler bridges engine events to dashboard broadcasts.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates an event handler connected to a dashboard server.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		logger: logger,
	}
}

// OnPendingCount handles pending-count updates from the engine's
// subscription stream.
func (h *Handler) OnPendingCount(pending int) {
	data, err := json.Marshal(PendingCountData{Pending: pending})
	if err != nil {
		h.logger.Printf("Failed to marshal pending count: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypePendingCount,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// OnDrainComplete handles drain results from the engine.
func (h *Handler) OnDrainComplete(entry engine.Entry) {
	data, err := json.Marshal(DrainCompleteData{
		Trigger:  entry.Trigger,
		Synced:   entry.Synced,
		Failed:   entry.Failed,
		Pending:  entry.Pending,
		Duration: entry.Duration,
	})
	if err != nil {
		h.logger.Printf("Failed to marshal drain result: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeDrainComplete,
		Timestamp: time.Now(),
		Data:      data,
	})
}
