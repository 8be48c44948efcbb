package stream_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door-panel-bridge/runtime/internal/event"
	"github.com/door-panel-bridge/runtime/internal/panel"
	"github.com/door-panel-bridge/runtime/internal/stream"
)

const recordSeparator = "\x1e"

// fakeHub stands in for the panel's SignalR endpoint: cookie auth,
// negotiate, websocket upgrade, handshake, then scripted push frames.
type fakeHub struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu         sync.Mutex
	subscribed []string
	conn       *websocket.Conn
	ready      chan *websocket.Conn
}

func newFakeHub(t *testing.T) *fakeHub {
	return &fakeHub{t: t, ready: make(chan *websocket.Conn, 4)}
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth":
		http.SetCookie(w, &http.Cookie{Name: "ss-id", Value: "hub-tok"})
	case "/rt/notificationHub/negotiate":
		assert.Equal(h.t, http.MethodPost, r.Method)
		assert.Equal(h.t, "1", r.URL.Query().Get("negotiateVersion"))
		assert.Contains(h.t, r.Header.Get("Cookie"), "ss-id=hub-tok")
		json.NewEncoder(w).Encode(map[string]string{"connectionToken": "conn-1"})
	case "/rt/notificationHub":
		assert.Equal(h.t, "conn-1", r.URL.Query().Get("id"))
		assert.Contains(h.t, r.Header.Get("Cookie"), "ss-id=hub-tok")
		conn, err := h.upgrader.Upgrade(w, r, nil)
		require.NoError(h.t, err)
		h.serve(conn)
	default:
		h.t.Errorf("unexpected path %s", r.URL.Path)
	}
}

// serve consumes the handshake and both invocations, records the
// subscribed panels, then signals the test to start pushing.
func (h *fakeHub) serve(conn *websocket.Conn) {
	for i := 0; i < 3; i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		for _, frame := range strings.Split(string(data), recordSeparator) {
			if frame == "" {
				continue
			}
			var msg struct {
				Protocol  string            `json:"protocol"`
				Target    string            `json:"target"`
				Arguments []json.RawMessage `json:"arguments"`
			}
			require.NoError(h.t, json.Unmarshal([]byte(frame), &msg))
			if msg.Target == "subscribeToStatus" {
				var panels []string
				require.NoError(h.t, json.Unmarshal(msg.Arguments[0], &panels))
				h.mu.Lock()
				h.subscribed = panels
				h.mu.Unlock()
			}
		}
	}
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
	h.ready <- conn

	// Keep reading so client pings do not back up; exit on close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *fakeHub) push(frame string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn.WriteMessage(websocket.TextMessage, []byte(frame+recordSeparator))
}

func newStreamClient(t *testing.T, hub *fakeHub, handler stream.Handler) *stream.Client {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	session := panel.NewSession(panel.Credentials{
		BaseURL:  srv.URL,
		Username: "svc",
		Password: "secret",
	}, 5*time.Second, false)
	require.NoError(t, session.Connect(context.Background()))

	normalizer := event.NewNormalizer(nil)
	normalizer.SetMaps(&panel.SystemMaps{
		DoorByStatusID: map[string]int{"panel-7::door-3": 3},
		DoorByReaderID: map[int]int{42: 3},
		DoorNames:      map[int]string{3: "Lobby"},
	}, map[int]bool{3: true})

	return stream.NewClient(session, normalizer, handler, false)
}

func TestClient_SubscribesAndDeliversStatus(t *testing.T) {
	events := make(chan event.Event, 16)
	hub := newFakeHub(t)
	client := newStreamClient(t, hub, func(evs []event.Event) {
		for _, ev := range evs {
			events <- ev
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()

	select {
	case <-hub.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("hub never saw the subscription")
	}
	hub.mu.Lock()
	subscribed := hub.subscribed
	hub.mu.Unlock()
	assert.Equal(t, []string{"panel-7"}, subscribed)
	assert.Equal(t, stream.StateRunning, client.State())

	statusFrame := `{"type":1,"target":"status","arguments":[` +
		`{"statusType":"Door","statusId":"panel-7::door-3","strike":true,"opener":false,"overridden":true,"timeZone":5,"timestamp":"2026-08-30T10:00:00Z"}]}`
	require.NoError(t, hub.push(statusFrame))

	select {
	case ev := <-events:
		assert.Equal(t, 3, ev.DoorID)
		assert.Equal(t, event.SourcePush, ev.Source)
		require.NotNil(t, ev.Unlocked)
		assert.True(t, *ev.Unlocked)
		require.NotNil(t, ev.Overridden)
		assert.True(t, *ev.Overridden)
	case <-time.After(5 * time.Second):
		t.Fatal("status frame never reached the handler")
	}
	assert.Equal(t, event.DialectProtectorNET, client.Dialect())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop on cancel")
	}
	assert.Equal(t, stream.StateStopped, client.State())
}

func TestClient_DeliversNotificationBatch(t *testing.T) {
	events := make(chan event.Event, 16)
	hub := newFakeHub(t)
	client := newStreamClient(t, hub, func(evs []event.Event) {
		for _, ev := range evs {
			events <- ev
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	select {
	case <-hub.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("hub never saw the subscription")
	}

	// Status first so the connection has a dialect, then a batched
	// notification routed through the reader map.
	require.NoError(t, hub.push(`{"type":1,"target":"status","arguments":[`+
		`{"statusType":"Door","statusId":"panel-7::door-3","strike":false,"opener":false,"overridden":false,"timeZone":1,"timestamp":"2026-08-30T10:00:00Z"}]}`))
	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("priming status never arrived")
	}

	noteFrame := `{"type":1,"target":"notification","arguments":[[` +
		`{"NotificationType":"ACCESS_GRANTED","SourceType":"Reader","SourceId":42,"SourceName":"Lobby In",` +
		`"Message":"Access granted to Dana Flores at Lobby In","UserId":7,"Timestamp":"2026-08-30T10:01:00Z"}]]}`
	require.NoError(t, hub.push(noteFrame))

	select {
	case ev := <-events:
		assert.Equal(t, 3, ev.DoorID)
		assert.Equal(t, event.KindAccessGranted, ev.Kind)
		assert.Equal(t, "Dana Flores", ev.Actor)
	case <-time.After(5 * time.Second):
		t.Fatal("notification never reached the handler")
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	if testing.Short() {
		t.Skip("reconnect test waits out real backoff intervals")
	}

	hub := newFakeHub(t)
	client := newStreamClient(t, hub, func([]event.Event) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	var first *websocket.Conn
	select {
	case first = <-hub.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("initial connection never subscribed")
	}
	first.Close()

	// The first reconnect happens after the base backoff plus jitter.
	var second *websocket.Conn
	select {
	case second = <-hub.ready:
	case <-time.After(15 * time.Second):
		t.Fatal("client never reconnected")
	}
	second.Close()

	// Backoff resets after a successful subscription, so the second
	// reconnect takes the base interval again, not a doubled one.
	start := time.Now()
	select {
	case <-hub.ready:
	case <-time.After(15 * time.Second):
		t.Fatal("client never reconnected a second time")
	}
	assert.Less(t, time.Since(start), 9*time.Second)

	require.Eventually(t, func() bool {
		return client.State() == stream.StateRunning
	}, 2*time.Second, 50*time.Millisecond)
}

func TestClient_IgnoresNonDoorStatus(t *testing.T) {
	events := make(chan event.Event, 16)
	hub := newFakeHub(t)
	client := newStreamClient(t, hub, func(evs []event.Event) {
		for _, ev := range evs {
			events <- ev
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	select {
	case <-hub.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("hub never saw the subscription")
	}

	require.NoError(t, hub.push(`{"type":1,"target":"status","arguments":[`+
		`{"statusType":"Panel","statusId":"panel-7","online":true}]}`))
	require.NoError(t, hub.push(`{"type":6}`))

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for door %d", ev.DoorID)
	case <-time.After(300 * time.Millisecond):
	}

	status := client.Status()
	assert.Greater(t, status.NonDoorEvents, uint64(0))
	assert.Equal(t, uint64(0), status.DoorEvents)
}
