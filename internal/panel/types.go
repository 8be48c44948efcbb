package panel

import (
	"encoding/json"
	"strings"
	"time"
)

// Partition is a logical grouping of doors and readers on the panel.
type Partition struct {
	ID   int    `json:"Id"`
	Name string `json:"Name"`
}

// Door is the panel's door record as returned by the doors listing.
// The status fields are kept raw because their encodings differ between
// backend dialects; the event package decodes them.
type Door struct {
	ID          int    `json:"Id"`
	Name        string `json:"Name"`
	PartitionID int    `json:"PartitionId"`

	Strike     json.RawMessage `json:"Strike,omitempty"`
	Opener     json.RawMessage `json:"Opener,omitempty"`
	Overridden json.RawMessage `json:"Overridden,omitempty"`
	TimeZone   json.RawMessage `json:"TimeZone,omitempty"`
}

// Reader is a credential reader attached to a door.
type Reader struct {
	ID     int    `json:"Id"`
	Name   string `json:"Name"`
	DoorID int    `json:"DoorId"`
}

// ActionPlan is a panel-side plan; Contents is only present on the
// detail endpoint.
type ActionPlan struct {
	ID           int    `json:"Id"`
	Name         string `json:"Name"`
	PlanType     string `json:"PlanType"`
	PartitionID  int    `json:"PartitionId"`
	Description  string `json:"Description"`
	HighSecurity bool   `json:"HighSecurity"`
	Contents     string `json:"Contents,omitempty"`
}

// TempCode is a time-bounded PIN credential scoped to one door.
type TempCode struct {
	DoorID    int        `json:"door_id"`
	CodeName  string     `json:"code_name"`
	Code      string     `json:"code"`
	UserID    int        `json:"user_id"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// OTRSchedule is a one-time-run override stored on the panel.
type OTRSchedule struct {
	ID       int       `json:"id"`
	DoorID   int       `json:"door_id"`
	Name     string    `json:"name"`
	Mode     string    `json:"mode"`
	StartUTC time.Time `json:"start_utc"`
	StopUTC  time.Time `json:"stop_utc"`
}

// OverrideType selects the duration policy of an override.
type OverrideType string

const (
	OverrideTimed     OverrideType = "Time"
	OverrideUntilDone OverrideType = "Resume"
	OverrideSchedule  OverrideType = "Schedule"
)

// Mode is a reader access mode token as the panel API names them.
type Mode string

const (
	ModeLockdown          Mode = "Lockdown"
	ModeCard              Mode = "Card"
	ModePin               Mode = "Pin"
	ModeCardOrPin         Mode = "CardOrPin"
	ModeCardAndPin        Mode = "CardAndPin"
	ModeUnlock            Mode = "Unlock"
	ModeFirstCredentialIn Mode = "FirstCredentialIn"
	ModeDualCredential    Mode = "DualCredential"
)

// modeIndex maps API tokens to the controller timeZone index.
var modeIndex = map[Mode]int{
	ModeLockdown:          0,
	ModeCard:              1,
	ModePin:               2,
	ModeCardOrPin:         3,
	ModeCardAndPin:        4,
	ModeUnlock:            5,
	ModeFirstCredentialIn: 6,
	ModeDualCredential:    7,
}

// modeAlias maps tokens to the exact strings some panel versions expect
// for the two special modes.
var modeAlias = map[Mode]string{
	ModeFirstCredentialIn: "UnlockWithFirstCardIn",
	ModeDualCredential:    "DualCard",
}

// WireToken returns the token string to send to the panel for a mode.
func (m Mode) WireToken() string {
	if alias, ok := modeAlias[m]; ok {
		return alias
	}
	return string(m)
}

// Index returns the controller timeZone index for a mode, or -1.
func (m Mode) Index() int {
	if idx, ok := modeIndex[m]; ok {
		return idx
	}
	return -1
}

// ParseMode resolves a mode name, accepting canonical tokens and the
// wire aliases case-insensitively.
func ParseMode(s string) (Mode, bool) {
	for m := range modeIndex {
		if strings.EqualFold(s, string(m)) || strings.EqualFold(s, m.WireToken()) {
			return m, true
		}
	}
	return "", false
}

// ModeFromIndex resolves a controller timeZone index back to a token.
// Index 8 is an alternate lockdown value seen on some panels.
func ModeFromIndex(idx int) (Mode, bool) {
	for m, i := range modeIndex {
		if i == idx {
			return m, true
		}
	}
	if idx == 8 {
		return ModeLockdown, true
	}
	return "", false
}

// TargetResult is the outcome of one target of a multi-target command.
type TargetResult struct {
	DoorID int   `json:"door_id"`
	Err    error `json:"-"`
}

// CommandResult aggregates per-target outcomes; a failure on one target
// never aborts the others.
type CommandResult struct {
	Results []TargetResult
}

// Succeeded returns the door IDs that completed without error.
func (r CommandResult) Succeeded() []int {
	var ids []int
	for _, tr := range r.Results {
		if tr.Err == nil {
			ids = append(ids, tr.DoorID)
		}
	}
	return ids
}

// Failed returns the per-door errors, keyed by door ID.
func (r CommandResult) Failed() map[int]error {
	failed := make(map[int]error)
	for _, tr := range r.Results {
		if tr.Err != nil {
			failed[tr.DoorID] = tr.Err
		}
	}
	return failed
}

// Ok reports whether every target succeeded.
func (r CommandResult) Ok() bool {
	for _, tr := range r.Results {
		if tr.Err != nil {
			return false
		}
	}
	return true
}
