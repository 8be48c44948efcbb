// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"github.com/gorilla/mux"

	"github.com/door-panel-bridge/runtime/internal/api/handlers"
	"github.com/door-panel-bridge/runtime/internal/api/middleware"
	"github.com/door-panel-bridge/runtime/internal/bridge"
	"github.com/door-panel-bridge/runtime/internal/websocket"
)

// NewRouter wires the REST and WebSocket surface over the runtime.
func NewRouter(b *bridge.Bridge, hub *websocket.Hub) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	api := r.PathPrefix("/api").Subrouter()

	// Health and status
	api.HandleFunc("/health", handlers.HealthCheck(b)).Methods("GET")
	api.HandleFunc("/status", handlers.Status(b, hub)).Methods("GET")

	// WebSocket consumer stream
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(hub)).Methods("GET")

	// Doors and event history
	api.HandleFunc("/doors", handlers.ListDoors(b)).Methods("GET")
	api.HandleFunc("/doors/rediscover", handlers.Rediscover(b)).Methods("POST")
	api.HandleFunc("/doors/{id}", handlers.GetDoor(b)).Methods("GET")
	api.HandleFunc("/doors/{id}/events", handlers.DoorEvents(b)).Methods("GET")
	api.HandleFunc("/events/latest", handlers.LatestEvents(b)).Methods("GET")

	// Door commands
	api.HandleFunc("/commands/override", handlers.OverrideDoors(b)).Methods("POST")
	api.HandleFunc("/commands/resume", handlers.ResumeDoors(b)).Methods("POST")
	api.HandleFunc("/commands/pulse", handlers.PulseDoors(b)).Methods("POST")
	api.HandleFunc("/commands/update-panels", handlers.UpdatePanels(b)).Methods("POST")

	// Temporary codes
	api.HandleFunc("/doors/{id}/temp-codes", handlers.ListTempCodes(b)).Methods("GET")
	api.HandleFunc("/doors/{id}/temp-codes", handlers.CreateTempCode(b)).Methods("POST")
	api.HandleFunc("/doors/{id}/temp-codes", handlers.UpdateTempCode(b)).Methods("PUT")
	api.HandleFunc("/doors/{id}/temp-codes", handlers.DeleteTempCodes(b)).Methods("DELETE")
	api.HandleFunc("/doors/{id}/temp-codes/{code}", handlers.DeleteTempCode(b)).Methods("DELETE")

	// One-time-run schedules
	api.HandleFunc("/doors/{id}/otr", handlers.ListOTRSchedules(b)).Methods("GET")
	api.HandleFunc("/doors/{id}/otr", handlers.DeleteDoorOTRSchedules(b)).Methods("DELETE")
	api.HandleFunc("/otr", handlers.CreateOTRSchedule(b)).Methods("POST")
	api.HandleFunc("/otr/{id}", handlers.DeleteOTRSchedule(b)).Methods("DELETE")

	// Action plans
	api.HandleFunc("/plans", handlers.ListPlans(b)).Methods("GET")
	api.HandleFunc("/plans/execute", handlers.ExecutePlan(b)).Methods("POST")

	return r
}
