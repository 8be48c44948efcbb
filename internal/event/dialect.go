package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/door-panel-bridge/runtime/internal/panel"
)

// Dialect identifies which of the two known backend payload variants a
// connection speaks. It is classified once per connection, from the
// first door status payload, and fixed for the connection's lifetime.
//
// ProtectorNET encodes booleans as JSON booleans and the reader mode as
// a numeric timeZone index. Odyssey encodes booleans as strings
// ("True"/"False"), the reader mode as a mode name, and timestamps with
// a zone offset instead of the panel's bare UTC form.
type Dialect int

const (
	DialectUnknown Dialect = iota
	DialectProtectorNET
	DialectOdyssey
)

func (d Dialect) String() string {
	switch d {
	case DialectProtectorNET:
		return "ProtectorNET"
	case DialectOdyssey:
		return "Odyssey"
	}
	return "unknown"
}

// rawStatus is a door status frame before dialect normalization.
type rawStatus struct {
	StatusType string          `json:"statusType"`
	StatusID   string          `json:"statusId"`
	Strike     json.RawMessage `json:"strike"`
	Opener     json.RawMessage `json:"opener"`
	Overridden json.RawMessage `json:"overridden"`
	TimeZone   json.RawMessage `json:"timeZone"`
	Timestamp  string          `json:"timestamp"`
}

// DetectDialect classifies a raw door status payload. Payloads whose
// overridden/strike fields are JSON strings are Odyssey; JSON booleans
// (or numbers for timeZone) are ProtectorNET. Unknown when the payload
// carries none of the discriminating fields.
func DetectDialect(payload []byte) Dialect {
	var raw rawStatus
	if err := json.Unmarshal(payload, &raw); err != nil {
		return DialectUnknown
	}
	for _, field := range []json.RawMessage{raw.Overridden, raw.Strike, raw.Opener} {
		if len(field) == 0 || string(field) == "null" {
			continue
		}
		if field[0] == '"' {
			return DialectOdyssey
		}
		return DialectProtectorNET
	}
	if len(raw.TimeZone) > 0 && string(raw.TimeZone) != "null" {
		if raw.TimeZone[0] == '"' {
			return DialectOdyssey
		}
		return DialectProtectorNET
	}
	return DialectUnknown
}

// DecodeStatus normalizes a raw door status payload for the given
// dialect. The returned status carries the push source and the frame's
// timestamp when present, else now.
func DecodeStatus(payload []byte, d Dialect, now time.Time) (DoorStatus, error) {
	var raw rawStatus
	if err := json.Unmarshal(payload, &raw); err != nil {
		return DoorStatus{}, fmt.Errorf("decoding status frame: %w", err)
	}
	if raw.StatusType != "" && raw.StatusType != "Door" {
		return DoorStatus{}, fmt.Errorf("not a door status: %s", raw.StatusType)
	}

	status := DoorStatus{
		StatusID: raw.StatusID,
		Source:   SourcePush,
		At:       now,
	}
	if t := decodeTime(raw.Timestamp, d); t != nil {
		status.At = *t
	}

	status.Strike = decodeBool(raw.Strike, d)
	status.Opener = decodeBool(raw.Opener, d)
	status.Overridden = decodeBool(raw.Overridden, d)
	status.TimeZone = decodeTimeZone(raw.TimeZone, d)
	return status, nil
}

// decodeBool handles both dialects' boolean encodings; nil when absent.
func decodeBool(raw json.RawMessage, d Dialect) *bool {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if d != DialectOdyssey {
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return &b
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		b := strings.EqualFold(s, "true")
		return &b
	}
	return nil
}

// decodeTimeZone handles the numeric index (ProtectorNET) and the mode
// name (Odyssey) encodings; nil when absent or unrecognized.
func decodeTimeZone(raw json.RawMessage, d Dialect) *int {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if d != DialectOdyssey {
		var idx int
		if err := json.Unmarshal(raw, &idx); err == nil {
			return &idx
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	if idx, err := strconv.Atoi(s); err == nil {
		return &idx
	}
	if mode, ok := modeFromName(s); ok {
		idx := mode.Index()
		return &idx
	}
	return nil
}

// decodeTime parses the panel's bare-UTC form and the Odyssey offset
// form. All results are normalized to UTC.
func decodeTime(s string, d Dialect) *time.Time {
	if s == "" {
		return nil
	}
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// DecodeSnapshot converts one door record from a periodic doors listing
// into a snapshot-sourced status, using the connection's dialect for the
// raw status fields.
func DecodeSnapshot(door panel.Door, d Dialect, fetchedAt time.Time) DoorStatus {
	return DoorStatus{
		DoorID:     door.ID,
		Source:     SourceSnapshot,
		At:         fetchedAt,
		Strike:     decodeBool(door.Strike, d),
		Opener:     decodeBool(door.Opener, d),
		Overridden: decodeBool(door.Overridden, d),
		TimeZone:   decodeTimeZone(door.TimeZone, d),
	}
}

// modeFromName resolves a mode token (including the wire aliases) back
// to the canonical token, case-insensitively.
func modeFromName(s string) (panel.Mode, bool) {
	for _, m := range []panel.Mode{
		panel.ModeLockdown, panel.ModeCard, panel.ModePin, panel.ModeCardOrPin,
		panel.ModeCardAndPin, panel.ModeUnlock, panel.ModeFirstCredentialIn, panel.ModeDualCredential,
	} {
		if strings.EqualFold(s, string(m)) || strings.EqualFold(s, m.WireToken()) {
			return m, true
		}
	}
	return "", false
}
