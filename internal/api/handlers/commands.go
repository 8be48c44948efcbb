package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/door-panel-bridge/runtime/internal/api/middleware"
	"github.com/door-panel-bridge/runtime/internal/bridge"
	"github.com/door-panel-bridge/runtime/internal/panel"
)

// commandRequest is the body of every multi-door command.
type commandRequest struct {
	DoorIDs []int      `json:"door_ids"`
	Mode    string     `json:"mode,omitempty"`
	Type    string     `json:"type,omitempty"`
	Minutes int        `json:"minutes,omitempty"`
	Until   *time.Time `json:"until,omitempty"`
}

// commandResponse reports the per-door outcome of a command.
type commandResponse struct {
	Succeeded []int          `json:"succeeded"`
	Failed    map[int]string `json:"failed,omitempty"`
}

func toResponse(result panel.CommandResult) commandResponse {
	resp := commandResponse{Succeeded: result.Succeeded()}
	if resp.Succeeded == nil {
		resp.Succeeded = []int{}
	}
	failed := result.Failed()
	if len(failed) > 0 {
		resp.Failed = make(map[int]string, len(failed))
		for id, err := range failed {
			resp.Failed[id] = err.Error()
		}
	}
	return resp
}

func decodeCommand(w http.ResponseWriter, r *http.Request) (commandRequest, bool) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid request body")
		return req, false
	}
	if len(req.DoorIDs) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "door_ids must not be empty")
		return req, false
	}
	return req, true
}

func commandStatus(resp commandResponse) int {
	if len(resp.Failed) == 0 {
		return http.StatusOK
	}
	if len(resp.Succeeded) == 0 {
		return http.StatusBadGateway
	}
	// Partial success
	return http.StatusMultiStatus
}

// OverrideDoors applies an override to the requested doors.
func OverrideDoors(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeCommand(w, r)
		if !ok {
			return
		}

		mode, ok := panel.ParseMode(req.Mode)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "unknown mode")
			return
		}

		overrideType := panel.OverrideTimed
		switch req.Type {
		case "", "Time":
		case "Resume":
			overrideType = panel.OverrideUntilDone
		case "Schedule":
			overrideType = panel.OverrideSchedule
		default:
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "unknown override type")
			return
		}

		result := b.Override(r.Context(), req.DoorIDs, panel.OverrideRequest{
			Type:    overrideType,
			Mode:    mode,
			Minutes: req.Minutes,
			Until:   req.Until,
		})
		resp := toResponse(result)
		writeJSON(w, commandStatus(resp), resp)
	}
}

// ResumeDoors returns the requested doors to their schedules.
func ResumeDoors(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeCommand(w, r)
		if !ok {
			return
		}
		resp := toResponse(b.Resume(r.Context(), req.DoorIDs))
		writeJSON(w, commandStatus(resp), resp)
	}
}

// PulseDoors momentarily releases the requested doors.
func PulseDoors(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeCommand(w, r)
		if !ok {
			return
		}
		resp := toResponse(b.Pulse(r.Context(), req.DoorIDs))
		writeJSON(w, commandStatus(resp), resp)
	}
}

// UpdatePanels pushes pending configuration to the hardware.
func UpdatePanels(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := b.UpdatePanels(r.Context()); err != nil {
			middleware.WritePanelError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// planRequest is the body of a plan execution.
type planRequest struct {
	PlanID      int               `json:"plan_id"`
	LogLevel    string            `json:"log_level,omitempty"`
	SessionVars map[string]string `json:"session_vars,omitempty"`
}

// ExecutePlan runs an action plan on the panel.
func ExecutePlan(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req planRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid request body")
			return
		}
		if req.PlanID <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "plan_id required")
			return
		}
		if err := b.ExecutePlan(r.Context(), req.PlanID, req.LogLevel, req.SessionVars); err != nil {
			middleware.WritePanelError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// ListPlans returns the panel's action plans.
func ListPlans(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plans, err := b.Client().ListActionPlans(r.Context())
		if err != nil {
			middleware.WritePanelError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, plans)
	}
}
