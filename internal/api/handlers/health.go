// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/door-panel-bridge/runtime/internal/bridge"
	"github.com/door-panel-bridge/runtime/internal/stream"
	"github.com/door-panel-bridge/runtime/internal/websocket"
)

// HealthResponse is the health check body.
type HealthResponse struct {
	Status          string `json:"status"`
	StreamState     string `json:"stream_state"`
	DoorsKnown      int    `json:"doors_known"`
	ArchiveAttached bool   `json:"archive_attached"`
}

// HealthCheck reports whether the runtime is live and its push stream
// is up.
func HealthCheck(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamStatus := b.StreamStatus()

		status := "healthy"
		if streamStatus.State != stream.StateRunning {
			status = "degraded"
		}

		response := HealthResponse{
			Status:          status,
			StreamState:     streamStatus.State.String(),
			DoorsKnown:      len(b.DoorIDs()),
			ArchiveAttached: b.Archive() != nil,
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(response)
	}
}

// StatusResponse is the runtime status body.
type StatusResponse struct {
	Stream     stream.Status `json:"stream"`
	DoorsKnown int           `json:"doors_known"`
	WSClients  int           `json:"ws_clients"`
}

// Status reports the push connection counters and consumer counts.
func Status(b *bridge.Bridge, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := StatusResponse{
			Stream:     b.StreamStatus(),
			DoorsKnown: len(b.DoorIDs()),
		}
		if hub != nil {
			response.WSClients = hub.ClientCount()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}
