package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/door-panel-bridge/runtime/internal/api/middleware"
	"github.com/door-panel-bridge/runtime/internal/bridge"
	"github.com/door-panel-bridge/runtime/internal/panel"
)

// ListTempCodes returns the cached temporary codes for one door.
func ListTempCodes(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := doorID(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid door id")
			return
		}
		codes := b.Caches().TempCodes(id)
		if codes == nil {
			codes = []panel.TempCode{}
		}
		writeJSON(w, http.StatusOK, codes)
	}
}

// tempCodeRequest is the body of a temp-code create or update.
type tempCodeRequest struct {
	CodeName string     `json:"code_name"`
	Code     string     `json:"code,omitempty"`
	Digits   int        `json:"digits,omitempty"`
	UserID   int        `json:"user_id,omitempty"`
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
}

// CreateTempCode creates a temporary code on one door. An empty code
// asks the bridge to generate a random one.
func CreateTempCode(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := doorID(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid door id")
			return
		}
		var req tempCodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid request body")
			return
		}
		if req.CodeName == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "code_name required")
			return
		}

		code := req.Code
		if code == "" {
			digits := req.Digits
			if digits == 0 {
				digits = 6
			}
			generated, err := panel.GenerateCode(digits)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, err.Error())
				return
			}
			code = generated
		}

		created, err := b.CreateTempCode(r.Context(), id, req.CodeName, code, req.Start, req.End)
		if err != nil {
			middleware.WritePanelError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// UpdateTempCode adjusts a code's validity window. The PIN itself never
// changes through this endpoint.
func UpdateTempCode(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := doorID(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid door id")
			return
		}
		var req tempCodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid request body")
			return
		}
		if req.UserID <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "user_id required")
			return
		}
		if err := b.UpdateTempCode(r.Context(), id, req.UserID, req.Start, req.End); err != nil {
			middleware.WritePanelError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteTempCodes removes codes from one door: every code matching the
// name query parameter, or all of them when no name is given.
func DeleteTempCodes(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := doorID(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid door id")
			return
		}

		var deleted int
		var errs []error
		if name := r.URL.Query().Get("name"); name != "" {
			deleted, errs = b.DeleteTempCodeByName(r.Context(), id, name)
		} else {
			deleted, errs = b.ClearTempCodes(r.Context(), id)
		}

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

// DeleteTempCode removes a temporary code from one door.
func DeleteTempCode(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := doorID(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid door id")
			return
		}
		code := mux.Vars(r)["code"]
		if code == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "code required")
			return
		}
		if err := b.DeleteTempCode(r.Context(), id, code); err != nil {
			middleware.WritePanelError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
