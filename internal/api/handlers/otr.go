package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/door-panel-bridge/runtime/internal/api/middleware"
	"github.com/door-panel-bridge/runtime/internal/bridge"
	"github.com/door-panel-bridge/runtime/internal/panel"
)

// ListOTRSchedules returns the cached one-time-run schedules for one
// door.
func ListOTRSchedules(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := doorID(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid door id")
			return
		}
		schedules := b.Caches().OTRSchedules(id)
		if schedules == nil {
			schedules = []panel.OTRSchedule{}
		}
		writeJSON(w, http.StatusOK, schedules)
	}
}

// otrRequest is the body of a schedule creation.
type otrRequest struct {
	DoorIDs     []int     `json:"door_ids"`
	Mode        string    `json:"mode"`
	Start       time.Time `json:"start"`
	Stop        time.Time `json:"stop"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
}

// CreateOTRSchedule stores a scheduled override on the panel.
func CreateOTRSchedule(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req otrRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid request body")
			return
		}
		mode, ok := panel.ParseMode(req.Mode)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "unknown mode")
			return
		}

		id, err := b.CreateOTRSchedule(r.Context(), req.DoorIDs, mode, req.Start, req.Stop, req.Name, req.Description)
		if err != nil {
			middleware.WritePanelError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]int{"id": id})
	}
}

// DeleteOTRSchedule removes one stored schedule.
func DeleteOTRSchedule(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheduleID, err := strconv.Atoi(mux.Vars(r)["id"])
		if err != nil || scheduleID <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid schedule id")
			return
		}
		doorID, _ := strconv.Atoi(r.URL.Query().Get("door_id"))

		if err := b.DeleteOTRSchedule(r.Context(), scheduleID, doorID); err != nil {
			middleware.WritePanelError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteDoorOTRSchedules clears every stored schedule on one door.
func DeleteDoorOTRSchedules(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := doorID(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid door id")
			return
		}
		deleted, errs := b.DeleteDoorOTRSchedules(r.Context(), id)
		resp := map[string]any{"deleted": deleted}
		if len(errs) > 0 {
			msgs := make([]string, len(errs))
			for i, e := range errs {
				msgs[i] = e.Error()
			}
			resp["errors"] = msgs
		}
		status := http.StatusOK
		if len(errs) > 0 {
			status = http.StatusMultiStatus
		}
		writeJSON(w, status, resp)
	}
}
