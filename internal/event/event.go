// Package event defines the canonical door event model and the
// normalization of raw panel payloads into it.
package event

import (
	"time"

	"github.com/door-panel-bridge/runtime/internal/panel"
)

// Source tells the store whether an event came from the push stream or a
// periodic snapshot; snapshots must never regress newer push state.
type Source int

const (
	SourcePush Source = iota
	SourceSnapshot
)

func (s Source) String() string {
	if s == SourceSnapshot {
		return "snapshot"
	}
	return "push"
}

// Kind classifies a canonical event.
type Kind int

const (
	// KindDoorState is a pure lock/unlock or mode status change; it
	// never carries an actor.
	KindDoorState Kind = iota
	// KindOverrideChanged reports an override applied or altered,
	// whether issued through this runtime or directly on the panel.
	KindOverrideChanged
	// KindScheduleResumed reports a door returning to its schedule.
	KindScheduleResumed
	// KindAccessGranted and KindAccessDenied are credential decisions.
	KindAccessGranted
	KindAccessDenied
	// KindPlanExecuted is an action-plan execution notice.
	KindPlanExecuted
	// KindOTRActivated is a one-time-run schedule firing.
	KindOTRActivated
)

func (k Kind) String() string {
	switch k {
	case KindDoorState:
		return "door_state"
	case KindOverrideChanged:
		return "override_changed"
	case KindScheduleResumed:
		return "schedule_resumed"
	case KindAccessGranted:
		return "access_granted"
	case KindAccessDenied:
		return "access_denied"
	case KindPlanExecuted:
		return "plan_executed"
	case KindOTRActivated:
		return "otr_activated"
	}
	return "unknown"
}

// CarriesActor reports whether this kind updates the door log's actor.
func (k Kind) CarriesActor() bool {
	switch k {
	case KindAccessGranted, KindAccessDenied, KindPlanExecuted, KindOTRActivated:
		return true
	}
	return false
}

// Event is one canonical state change for one door. Optional fields are
// pointers; nil means "no change". Timestamps are the panel's UTC
// reference; conversion to local time is a presentation concern.
type Event struct {
	DoorID int
	Kind   Kind
	Source Source
	At     time.Time

	Unlocked   *bool
	Overridden *bool
	Mode       *panel.Mode

	// Actor and Message feed the door log; Actor only for kinds that
	// carry one.
	Actor   string
	Message string
}

// DoorStatus is a decoded door status payload with dialect differences
// already normalized away.
type DoorStatus struct {
	// StatusID routes push frames; snapshots set DoorID directly.
	StatusID string
	DoorID   int
	Source   Source
	At       time.Time

	Strike     *bool
	Opener     *bool
	Overridden *bool
	TimeZone   *int
}

// Unlocked derives the lock state from the strike/opener relays; nil
// when the payload carried neither.
func (s DoorStatus) Unlocked() *bool {
	if s.Strike == nil && s.Opener == nil {
		return nil
	}
	u := (s.Strike != nil && *s.Strike) || (s.Opener != nil && *s.Opener)
	return &u
}

// Notification is a decoded notification payload (access logs, plan
// chatter, override messages), dialect-normalized.
type Notification struct {
	Type       string // upper-cased NotificationType
	SourceType string // "Door", "Reader", ...
	SourceID   int
	SourceName string
	Message    string
	UserID     int
	At         time.Time
}
