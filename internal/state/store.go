package state

import (
	"log"
	"sync"
	"time"

	"github.com/door-panel-bridge/runtime/internal/event"
	"github.com/door-panel-bridge/runtime/internal/panel"
)

// LockState is the physical lock position as far as the panel reports
// it.
type LockState string

const (
	LockStateUnknown  LockState = "unknown"
	LockStateLocked   LockState = "locked"
	LockStateUnlocked LockState = "unlocked"
)

// LogEntry is the most recent log-bearing event seen for a door.
type LogEntry struct {
	Actor   string    `json:"actor,omitempty"`
	Message string    `json:"message,omitempty"`
	Kind    string    `json:"kind,omitempty"`
	At      time.Time `json:"at,omitempty"`
}

// OverrideState describes the override currently applied to a door, as
// far as it is known. Panel-side overrides observed through the stream
// carry only the mode; locally-issued commands fill in the rest.
type OverrideState struct {
	Type    panel.OverrideType `json:"type,omitempty"`
	Mode    panel.Mode         `json:"mode,omitempty"`
	Minutes int                `json:"minutes,omitempty"`
	Until   *time.Time         `json:"until,omitempty"`
}

// DoorState is the full mirrored state of one door.
type DoorState struct {
	ID          int            `json:"id"`
	Name        string         `json:"name"`
	PartitionID int            `json:"partitionId"`
	LockState   LockState      `json:"lockState"`
	Overridden  bool           `json:"overridden"`
	ReaderMode  panel.Mode     `json:"readerMode,omitempty"`
	Override    *OverrideState `json:"override,omitempty"`
	LastLog     LogEntry       `json:"lastLog"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// doorEntry guards one door's state. Events for different doors mutate
// independently; events for the same door serialize on the entry lock.
type doorEntry struct {
	mu         sync.Mutex
	state      DoorState
	lastPushAt time.Time
}

// Store is the live mirror of all doors in the partition.
type Store struct {
	dispatcher *Dispatcher

	mu    sync.RWMutex
	doors map[int]*doorEntry
}

// NewStore creates a store publishing changes through dispatcher.
func NewStore(dispatcher *Dispatcher) *Store {
	return &Store{
		dispatcher: dispatcher,
		doors:      make(map[int]*doorEntry),
	}
}

// SeedDoors registers the discovered doors. Already-known doors keep
// their live state and only refresh identity fields.
func (s *Store) SeedDoors(doors []panel.Door) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range doors {
		if e, ok := s.doors[d.ID]; ok {
			e.mu.Lock()
			e.state.Name = d.Name
			e.state.PartitionID = d.PartitionID
			e.mu.Unlock()
			continue
		}
		s.doors[d.ID] = &doorEntry{state: DoorState{
			ID:          d.ID,
			Name:        d.Name,
			PartitionID: d.PartitionID,
			LockState:   LockStateUnknown,
		}}
	}
}

// Door returns a copy of one door's state.
func (s *Store) Door(id int) (DoorState, bool) {
	s.mu.RLock()
	e, ok := s.doors[id]
	s.mu.RUnlock()
	if !ok {
		return DoorState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// SeedLastLog backfills a door's last log entry, typically from the
// archive at startup. A log already set by a live event wins; nothing
// is published.
func (s *Store) SeedLastLog(doorID int, entry LogEntry) {
	s.mu.RLock()
	e, ok := s.doors[doorID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.LastLog.At.IsZero() {
		e.state.LastLog = entry
	}
}

// Doors returns copies of every door's state.
func (s *Store) Doors() []DoorState {
	s.mu.RLock()
	entries := make([]*doorEntry, 0, len(s.doors))
	for _, e := range s.doors {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]DoorState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.state)
		e.mu.Unlock()
	}
	return out
}

// Apply folds one canonical event into the mirror and publishes the
// resulting state when anything changed. Status-only events older than
// the newest applied push event for the door are dropped, whatever
// their source, so an out-of-order frame never regresses newer state.
// Log-bearing events are always folded; they carry history, not state.
func (s *Store) Apply(evt event.Event) {
	s.mu.RLock()
	e, ok := s.doors[evt.DoorID]
	s.mu.RUnlock()
	if !ok {
		log.Printf("[state] event for unknown door %d dropped", evt.DoorID)
		return
	}

	e.mu.Lock()
	if evt.Kind == event.KindDoorState && !e.lastPushAt.IsZero() && evt.At.Before(e.lastPushAt) {
		e.mu.Unlock()
		log.Printf("[state] %s status for door %d at %s superseded by push at %s, dropped",
			evt.Source, evt.DoorID, evt.At.Format(time.RFC3339), e.lastPushAt.Format(time.RFC3339))
		return
	}
	if evt.Source == event.SourcePush && evt.At.After(e.lastPushAt) {
		e.lastPushAt = evt.At
	}

	changed := fold(&e.state, evt)
	state := e.state
	e.mu.Unlock()

	if changed {
		s.dispatcher.Publish(Change{DoorID: evt.DoorID, State: state})
	}
}

// fold mutates state in place and reports whether anything changed.
func fold(state *DoorState, evt event.Event) bool {
	changed := false

	if evt.Unlocked != nil {
		next := LockStateLocked
		if *evt.Unlocked {
			next = LockStateUnlocked
		}
		if state.LockState != next {
			state.LockState = next
			changed = true
		}
	}
	if evt.Overridden != nil && state.Overridden != *evt.Overridden {
		state.Overridden = *evt.Overridden
		changed = true
	}
	if evt.Mode != nil && state.ReaderMode != *evt.Mode {
		state.ReaderMode = *evt.Mode
		changed = true
	}

	// An observed override keeps at least its mode; a resume or a
	// not-overridden status clears the whole record.
	if state.Overridden {
		if evt.Overridden != nil && *evt.Overridden && evt.Mode != nil {
			if state.Override == nil || state.Override.Mode != *evt.Mode {
				state.Override = &OverrideState{Mode: *evt.Mode}
				changed = true
			}
		}
	} else if state.Override != nil {
		state.Override = nil
		changed = true
	}

	// Pure status traffic never touches the door log; access, plan and
	// OTR events always do.
	if evt.Kind.CarriesActor() {
		state.LastLog = LogEntry{
			Actor:   evt.Actor,
			Message: evt.Message,
			Kind:    evt.Kind.String(),
			At:      evt.At,
		}
		changed = true
	} else if evt.Message != "" && !evt.At.Before(state.LastLog.At) {
		// Override and resume messages carry context worth keeping,
		// but must not displace a known actor.
		state.LastLog.Message = evt.Message
		state.LastLog.Kind = evt.Kind.String()
		state.LastLog.At = evt.At
		changed = true
	}

	if changed {
		state.UpdatedAt = evt.At
	}
	return changed
}

// ApplyCommandResult optimistically folds a successful command into the
// mirror so callers see the expected state before the panel confirms
// it. The next push or snapshot corrects any divergence.
func (s *Store) ApplyCommandResult(doorIDs []int, mutate func(*DoorState)) {
	now := time.Now().UTC()
	for _, id := range doorIDs {
		s.mu.RLock()
		e, ok := s.doors[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		e.mu.Lock()
		mutate(&e.state)
		e.state.UpdatedAt = now
		state := e.state
		e.mu.Unlock()
		s.dispatcher.Publish(Change{DoorID: id, State: state})
	}
}
