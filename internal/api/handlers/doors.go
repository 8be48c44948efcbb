package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/door-panel-bridge/runtime/internal/api/middleware"
	"github.com/door-panel-bridge/runtime/internal/bridge"
)

// doorID pulls the {id} route variable.
func doorID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	return id, err == nil && id > 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ListDoors returns the mirrored state of every door.
func ListDoors(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doors := b.Store().Doors()
		sort.Slice(doors, func(i, j int) bool { return doors[i].ID < doors[j].ID })
		writeJSON(w, http.StatusOK, doors)
	}
}

// GetDoor returns one door's mirrored state.
func GetDoor(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := doorID(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid door id")
			return
		}
		door, found := b.Store().Door(id)
		if !found {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "unknown door")
			return
		}
		writeJSON(w, http.StatusOK, door)
	}
}

// DoorEvents returns the archived event history for one door.
func DoorEvents(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := doorID(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid door id")
			return
		}
		if b.Archive() == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "event archive disabled")
			return
		}

		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}

		records, err := b.Archive().Recent(r.Context(), id, limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternal, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

// LatestEvents returns the newest archived event for each door.
func LatestEvents(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if b.Archive() == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "event archive disabled")
			return
		}
		records, err := b.Archive().Latest(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternal, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

// Rediscover re-fetches the partition's doors and routing maps.
func Rediscover(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := b.Discover(r.Context()); err != nil {
			middleware.WritePanelError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"doors": len(b.DoorIDs())})
	}
}
