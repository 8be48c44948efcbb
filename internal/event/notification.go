package event

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// rawNotification is a notification record as both dialects send it.
// SourceId and UserId arrive as numbers or strings depending on the
// dialect.
type rawNotification struct {
	NotificationType string          `json:"NotificationType"`
	SourceType       string          `json:"SourceType"`
	SourceID         json.RawMessage `json:"SourceId"`
	SourceName       string          `json:"SourceName"`
	Message          string          `json:"Message"`
	UserID           json.RawMessage `json:"UserId"`
	Timestamp        string          `json:"Timestamp"`
}

// DecodeNotification parses one notification record.
func DecodeNotification(payload []byte, d Dialect, now time.Time) (Notification, error) {
	var raw rawNotification
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Notification{}, err
	}

	note := Notification{
		Type:       strings.ToUpper(strings.TrimSpace(raw.NotificationType)),
		SourceType: strings.TrimSpace(raw.SourceType),
		SourceID:   decodeID(raw.SourceID),
		SourceName: strings.TrimSpace(raw.SourceName),
		Message:    strings.TrimSpace(raw.Message),
		UserID:     decodeID(raw.UserID),
		At:         now.UTC(),
	}
	if raw.Timestamp != "" {
		if ts := decodeTime(raw.Timestamp, d); ts != nil {
			note.At = *ts
		}
	}
	return note, nil
}

// decodeID accepts a numeric or string-encoded integer identifier.
func decodeID(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return 0
}
