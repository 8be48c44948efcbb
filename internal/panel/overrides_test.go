package panel_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door-panel-bridge/runtime/internal/panel"
)

func TestMinutesUntil(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		until   time.Time
		want    int
		wantErr bool
	}{
		{"thirty_minutes_out", now.Add(30 * time.Minute), 30, false},
		{"rounds_up_partial_minute", now.Add(90 * time.Second), 2, false},
		{"sub_minute_rounds_to_one", now.Add(10 * time.Second), 1, false},
		{"exactly_now", now, 0, true},
		{"in_the_past", now.Add(-time.Hour), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := panel.MinutesUntil(tt.until, now)
			if tt.wantErr {
				require.Error(t, err)
				var valErr *panel.ValidationError
				assert.ErrorAs(t, err, &valErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// commandFake records OverrideDoor posts and fails selected doors.
type commandFake struct {
	mu       sync.Mutex
	bodies   []map[string]any
	failDoor int
}

func (f *commandFake) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth" {
			http.SetCookie(w, &http.Cookie{Name: "ss-id", Value: "tok"})
			w.WriteHeader(http.StatusOK)
			return
		}

		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.bodies = append(f.bodies, body)
		f.mu.Unlock()

		if ids, ok := body["DoorIds"].([]any); ok && len(ids) == 1 {
			if int(ids[0].(float64)) == f.failDoor {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"Message":"controller offline"}`))
				return
			}
		}
		w.Write([]byte(`{}`))
	})
}

func TestOverrideDoors_PerDoorIndependence(t *testing.T) {
	fake := &commandFake{failDoor: 2}
	session, _ := newTestSession(t, fake.handler())
	client := panel.NewClient(session, 1, 5)

	result := client.OverrideDoors(context.Background(), []int{1, 2, 3}, panel.OverrideRequest{
		Type:    panel.OverrideTimed,
		Mode:    panel.ModeUnlock,
		Minutes: 10,
	})

	assert.False(t, result.Ok())
	assert.Equal(t, []int{1, 3}, result.Succeeded())

	failed := result.Failed()
	require.Len(t, failed, 1)
	require.Contains(t, failed, 2)

	var rej *panel.RemoteRejection
	assert.ErrorAs(t, failed[2], &rej)

	// One HTTP call per door, each carrying a single door id.
	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.bodies, 3)
	for _, body := range fake.bodies {
		ids := body["DoorIds"].([]any)
		assert.Len(t, ids, 1)
		assert.Equal(t, "Unlock", body["TimeZoneMode"])
		assert.Equal(t, float64(10), body["Minutes"])
		assert.Equal(t, float64(5), body["ModeIndex"])
	}
}

func TestOverrideDoors_ModeAliases(t *testing.T) {
	fake := &commandFake{}
	session, _ := newTestSession(t, fake.handler())
	client := panel.NewClient(session, 1, 5)

	result := client.OverrideDoors(context.Background(), []int{7}, panel.OverrideRequest{
		Type: panel.OverrideUntilDone,
		Mode: panel.ModeFirstCredentialIn,
	})
	require.True(t, result.Ok())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.bodies, 1)
	body := fake.bodies[0]
	assert.Equal(t, "UnlockWithFirstCardIn", body["TimeZoneMode"])
	assert.Equal(t, float64(6), body["TimeZoneModeIndex"])
	_, hasMinutes := body["Minutes"]
	assert.False(t, hasMinutes, "non-timed overrides never send minutes")
}

func TestResumeAndPulse_PerDoorCalls(t *testing.T) {
	fake := &commandFake{}
	session, _ := newTestSession(t, fake.handler())
	client := panel.NewClient(session, 1, 5)

	resume := client.ResumeDoors(context.Background(), []int{4, 5})
	require.True(t, resume.Ok())

	pulse := client.PulseDoors(context.Background(), []int{4})
	require.True(t, pulse.Ok())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.bodies, 3)
}
