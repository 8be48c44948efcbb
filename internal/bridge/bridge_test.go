package bridge_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door-panel-bridge/runtime/internal/bridge"
	"github.com/door-panel-bridge/runtime/internal/config"
	"github.com/door-panel-bridge/runtime/internal/panel"
)

// fakePanel serves the discovery and command endpoints one bridge needs.
type fakePanel struct {
	t *testing.T

	mu        sync.Mutex
	overrides []map[string]any
}

func (p *fakePanel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth":
		http.SetCookie(w, &http.Cookie{Name: "ss-id", Value: "tok"})
	case "/api/doors":
		w.Write([]byte(`{"Results": [{"Id": 3, "Name": "Lobby", "PartitionId": 2}]}`))
	case "/api/system/overview/System":
		w.Write([]byte(`{"Status": {"Type": "System", "Nodes": [
			{"Type": "Door", "Id": 3, "Name": "Lobby", "StatusId": "panel-7::door-3", "Nodes": [
				{"Type": "Reader", "Id": 30, "Name": "Lobby In"}
			]}
		]}}`))
	case "/api/Readers/AvailableReaders":
		w.Write([]byte(`{"Results": []}`))
	case "/api/PanelCommands/OverrideDoor":
		var body map[string]any
		require.NoError(p.t, json.NewDecoder(r.Body).Decode(&body))
		p.mu.Lock()
		p.overrides = append(p.overrides, body)
		p.mu.Unlock()
		w.Write([]byte(`{}`))
	default:
		p.t.Errorf("unexpected path %s", r.URL.Path)
	}
}

func newTestBridge(t *testing.T) (*bridge.Bridge, *fakePanel) {
	t.Helper()
	fake := &fakePanel{t: t}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		PanelURL:               srv.URL,
		Username:               "svc",
		Password:               "secret",
		PartitionID:            2,
		DefaultOverrideMinutes: 5,
		HTTPTimeout:            5 * time.Second,
	}
	b := bridge.New(cfg, nil)
	require.NoError(t, b.Client().Session().Connect(context.Background()))
	require.NoError(t, b.Discover(context.Background()))
	return b, fake
}

func TestOverride_RecordsResolvedMinutes(t *testing.T) {
	b, fake := newTestBridge(t)

	until := time.Now().UTC().Add(30 * time.Minute)
	result := b.Override(context.Background(), []int{3}, panel.OverrideRequest{
		Type:  panel.OverrideTimed,
		Mode:  panel.ModeUnlock,
		Until: &until,
	})
	require.True(t, result.Ok())

	fake.mu.Lock()
	require.Len(t, fake.overrides, 1)
	sent := fake.overrides[0]
	fake.mu.Unlock()
	assert.Equal(t, float64(30), sent["Minutes"])

	door, ok := b.Store().Door(3)
	require.True(t, ok)
	require.NotNil(t, door.Override)
	assert.Equal(t, 30, door.Override.Minutes, "record must carry the minutes the panel was told")
	require.NotNil(t, door.Override.Until)
	assert.True(t, door.Override.Until.Equal(until))
	assert.Equal(t, panel.OverrideTimed, door.Override.Type)
	assert.Equal(t, panel.ModeUnlock, door.Override.Mode)
}

func TestOverride_FallbackMinutesRecorded(t *testing.T) {
	b, fake := newTestBridge(t)

	// A target in the past falls back to the configured default.
	until := time.Now().UTC().Add(-time.Minute)
	result := b.Override(context.Background(), []int{3}, panel.OverrideRequest{
		Type:  panel.OverrideTimed,
		Mode:  panel.ModeLockdown,
		Until: &until,
	})
	require.True(t, result.Ok())

	fake.mu.Lock()
	require.Len(t, fake.overrides, 1)
	sent := fake.overrides[0]
	fake.mu.Unlock()
	assert.Equal(t, float64(5), sent["Minutes"])

	door, _ := b.Store().Door(3)
	require.NotNil(t, door.Override)
	assert.Equal(t, 5, door.Override.Minutes)
}
