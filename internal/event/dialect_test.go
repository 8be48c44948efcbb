package event_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door-panel-bridge/runtime/internal/event"
	"github.com/door-panel-bridge/runtime/internal/panel"
)

const protectorFrame = `{
	"statusType": "Door",
	"statusId": "panel-7::door-3",
	"strike": true,
	"opener": false,
	"overridden": true,
	"timeZone": 5,
	"timestamp": "2026-08-30T10:15:00Z"
}`

const odysseyFrame = `{
	"statusType": "Door",
	"statusId": "panel-7::door-3",
	"strike": "False",
	"opener": "False",
	"overridden": "False",
	"timeZone": "CardOrPin",
	"timestamp": "2026-08-30T12:15:00+02:00"
}`

func TestDetectDialect(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    event.Dialect
	}{
		{"json_booleans", protectorFrame, event.DialectProtectorNET},
		{"string_booleans", odysseyFrame, event.DialectOdyssey},
		{"numeric_timezone_only", `{"timeZone": 3}`, event.DialectProtectorNET},
		{"string_timezone_only", `{"timeZone": "Card"}`, event.DialectOdyssey},
		{"no_discriminators", `{"statusType": "Door", "statusId": "x"}`, event.DialectUnknown},
		{"garbage", `not json`, event.DialectUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, event.DetectDialect([]byte(tt.payload)))
		})
	}
}

func TestDecodeStatus_ProtectorNET(t *testing.T) {
	now := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)
	status, err := event.DecodeStatus([]byte(protectorFrame), event.DialectProtectorNET, now)
	require.NoError(t, err)

	assert.Equal(t, "panel-7::door-3", status.StatusID)
	assert.Equal(t, event.SourcePush, status.Source)
	assert.Equal(t, time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC), status.At)

	require.NotNil(t, status.Strike)
	assert.True(t, *status.Strike)
	require.NotNil(t, status.Overridden)
	assert.True(t, *status.Overridden)
	require.NotNil(t, status.TimeZone)
	assert.Equal(t, 5, *status.TimeZone)

	unlocked := status.Unlocked()
	require.NotNil(t, unlocked)
	assert.True(t, *unlocked, "an active strike means unlocked")
}

func TestDecodeStatus_Odyssey(t *testing.T) {
	now := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)
	status, err := event.DecodeStatus([]byte(odysseyFrame), event.DialectOdyssey, now)
	require.NoError(t, err)

	// Offset timestamps normalize to UTC.
	assert.Equal(t, time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC), status.At)

	require.NotNil(t, status.Strike)
	assert.False(t, *status.Strike)
	require.NotNil(t, status.Overridden)
	assert.False(t, *status.Overridden)
	require.NotNil(t, status.TimeZone)
	assert.Equal(t, panel.ModeCardOrPin.Index(), *status.TimeZone)

	unlocked := status.Unlocked()
	require.NotNil(t, unlocked)
	assert.False(t, *unlocked)
}

func TestDecodeStatus_MissingFieldsStayNil(t *testing.T) {
	now := time.Now().UTC()
	status, err := event.DecodeStatus([]byte(`{"statusType":"Door","statusId":"p::d"}`), event.DialectProtectorNET, now)
	require.NoError(t, err)

	assert.Nil(t, status.Strike)
	assert.Nil(t, status.Overridden)
	assert.Nil(t, status.TimeZone)
	assert.Nil(t, status.Unlocked())
	assert.Equal(t, now, status.At, "frames without a timestamp take the receive time")
}

func TestDecodeStatus_RejectsNonDoor(t *testing.T) {
	_, err := event.DecodeStatus([]byte(`{"statusType":"Input","statusId":"p::i"}`), event.DialectProtectorNET, time.Now())
	require.Error(t, err)
}

func TestDecodeStatus_OdysseyAliasModeName(t *testing.T) {
	frame := `{"statusType":"Door","statusId":"p::d","timeZone":"UnlockWithFirstCardIn"}`
	status, err := event.DecodeStatus([]byte(frame), event.DialectOdyssey, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, status.TimeZone)
	assert.Equal(t, panel.ModeFirstCredentialIn.Index(), *status.TimeZone)
}

func TestDecodeSnapshot(t *testing.T) {
	door := panel.Door{
		ID:         3,
		Name:       "Lobby",
		Strike:     []byte(`false`),
		Opener:     []byte(`true`),
		Overridden: []byte(`false`),
		TimeZone:   []byte(`1`),
	}
	fetchedAt := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	status := event.DecodeSnapshot(door, event.DialectProtectorNET, fetchedAt)
	assert.Equal(t, 3, status.DoorID)
	assert.Equal(t, event.SourceSnapshot, status.Source)
	assert.Equal(t, fetchedAt, status.At)

	unlocked := status.Unlocked()
	require.NotNil(t, unlocked)
	assert.True(t, *unlocked, "an active opener also means unlocked")
	require.NotNil(t, status.TimeZone)
	assert.Equal(t, 1, *status.TimeZone)
}

func TestDecodeNotification(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	payload := `{
		"NotificationType": "access_granted",
		"SourceType": "Reader",
		"SourceId": 42,
		"SourceName": "Lobby Reader",
		"Message": "Access granted to Dana Flores at Lobby",
		"UserId": 9
	}`
	note, err := event.DecodeNotification([]byte(payload), event.DialectProtectorNET, now)
	require.NoError(t, err)
	assert.Equal(t, "ACCESS_GRANTED", note.Type)
	assert.Equal(t, "Reader", note.SourceType)
	assert.Equal(t, 42, note.SourceID)
	assert.Equal(t, 9, note.UserID)
	assert.Equal(t, now, note.At)

	// String-encoded identifiers decode the same way.
	odyssey := `{"NotificationType":"ACCESS_DENIED","SourceType":"Door","SourceId":"17","Message":"Access denied"}`
	note, err = event.DecodeNotification([]byte(odyssey), event.DialectOdyssey, now)
	require.NoError(t, err)
	assert.Equal(t, 17, note.SourceID)
}
