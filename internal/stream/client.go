// Package stream maintains the persistent push connection to the
// panel's notification hub and feeds decoded frames through the
// normalizer.
package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/door-panel-bridge/runtime/internal/event"
	"github.com/door-panel-bridge/runtime/internal/panel"
)

// recordSeparator terminates every SignalR JSON frame.
const recordSeparator = "\x1e"

const (
	baseBackoff = 5 * time.Second
	maxBackoff  = 30 * time.Second
	jitterSpan  = 1500 * time.Millisecond

	readTimeout  = 90 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// ConnectionState is the lifecycle of the push connection.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateRunning
	StateIdle
	StateStopped
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateIdle:
		return "idle"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	}
	return "unknown"
}

// MarshalJSON serializes the state by name.
func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Status is a point-in-time snapshot of the connection.
type Status struct {
	State         ConnectionState `json:"state"`
	Dialect       string          `json:"dialect"`
	DoorEvents    uint64          `json:"doorEvents"`
	NonDoorEvents uint64          `json:"nonDoorEvents"`
	LastError     string          `json:"lastError,omitempty"`
	LastEventAt   time.Time       `json:"lastEventAt,omitempty"`
	ConnectedAt   time.Time       `json:"connectedAt,omitempty"`
}

// Handler receives the canonical events produced from one frame.
type Handler func(events []event.Event)

// Client owns the notification hub connection, reconnecting with
// bounded backoff until its context is cancelled.
type Client struct {
	session    *panel.Session
	normalizer *event.Normalizer
	handler    Handler

	dialTLSSkipVerify bool

	mu            sync.Mutex
	state         ConnectionState
	dialect       event.Dialect
	doorEvents    uint64
	nonDoorEvents uint64
	lastError     string
	lastEventAt   time.Time
	connectedAt   time.Time
}

// NewClient creates a stream client. handler is invoked on the read
// goroutine; it must not block.
func NewClient(session *panel.Session, normalizer *event.Normalizer, handler Handler, insecureSkipVerify bool) *Client {
	return &Client{
		session:           session,
		normalizer:        normalizer,
		handler:           handler,
		dialTLSSkipVerify: insecureSkipVerify,
		state:             StateIdle,
	}
}

// Status returns a snapshot of the connection counters.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:         c.state,
		Dialect:       c.dialect.String(),
		DoorEvents:    c.doorEvents,
		NonDoorEvents: c.nonDoorEvents,
		LastError:     c.lastError,
		LastEventAt:   c.lastEventAt,
		ConnectedAt:   c.connectedAt,
	}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dialect returns the dialect detected on the current connection.
func (c *Client) Dialect() event.Dialect {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialect
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) setError(err error) {
	c.mu.Lock()
	c.state = StateError
	c.lastError = err.Error()
	c.mu.Unlock()
}

// Run connects and reconnects until ctx is cancelled. Backoff starts at
// 5s, doubles to a 30s cap, adds up to 1.5s of jitter, and resets after
// every successful connection.
func (c *Client) Run(ctx context.Context) {
	backoff := baseBackoff
	for {
		connected, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			c.setState(StateStopped)
			return
		}
		if connected {
			backoff = baseBackoff
		}
		if err != nil {
			c.setError(err)
			log.Printf("[stream] connection error: %v", err)
		}

		sleep := backoff + time.Duration(rand.Int63n(int64(jitterSpan)))
		log.Printf("[stream] reconnecting in %s", sleep.Round(100*time.Millisecond))
		select {
		case <-ctx.Done():
			c.setState(StateStopped)
			return
		case <-time.After(sleep):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// runOnce performs a single negotiate, dial, handshake, subscribe and
// read cycle. It returns when the connection fails or ctx is cancelled,
// reporting whether the subscription was ever up.
func (c *Client) runOnce(ctx context.Context) (bool, error) {
	c.setState(StateConnecting)

	// Dialect is fixed per connection; a reconnect may hit a different
	// panel software version.
	c.mu.Lock()
	c.dialect = event.DialectUnknown
	c.mu.Unlock()

	token, err := c.negotiate(ctx)
	if err != nil {
		return false, fmt.Errorf("negotiate: %w", err)
	}

	conn, err := c.dial(ctx, token)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := c.handshake(conn); err != nil {
		return false, fmt.Errorf("handshake: %w", err)
	}
	if err := c.subscribe(conn); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	c.mu.Lock()
	c.state = StateRunning
	c.connectedAt = time.Now().UTC()
	c.mu.Unlock()
	log.Printf("[stream] connected and subscribed")

	return true, c.readLoop(ctx, conn)
}

// negotiate asks the hub for a connection token over the authenticated
// HTTP session.
func (c *Client) negotiate(ctx context.Context) (string, error) {
	query := url.Values{"negotiateVersion": {"1"}}
	data, err := c.session.Do(ctx, http.MethodPost, "/rt/notificationHub/negotiate", query, nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		ConnectionToken string `json:"connectionToken"`
		ConnectionID    string `json:"connectionId"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decoding negotiate response: %w", err)
	}
	token := resp.ConnectionToken
	if token == "" {
		token = resp.ConnectionID
	}
	if token == "" {
		return "", fmt.Errorf("negotiate response carried no connection token")
	}
	return token, nil
}

// dial opens the websocket, reusing the session cookie for auth.
func (c *Client) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	base := c.session.BaseURL()
	scheme := "ws"
	if strings.HasPrefix(base, "https") {
		scheme = "wss"
	}
	host := base
	if i := strings.Index(base, "://"); i >= 0 {
		host = base[i+3:]
	}
	wsURL := fmt.Sprintf("%s://%s/rt/notificationHub?id=%s", scheme, host, url.QueryEscape(token))

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	if c.dialTLSSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	header := http.Header{}
	header.Set("Cookie", c.session.CookieHeader())
	header.Set("X-Requested-With", "XMLHttpRequest")

	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	return conn, err
}

// handshake sends the SignalR protocol negotiation frame.
func (c *Client) handshake(conn *websocket.Conn) error {
	return c.writeFrame(conn, map[string]any{"protocol": "json", "version": 1})
}

// subscribe issues the Init invocation and subscribes to status updates
// for every known panel.
func (c *Client) subscribe(conn *websocket.Conn) error {
	if err := c.writeFrame(conn, invocation("1", "Init", []any{nil, nil})); err != nil {
		return err
	}
	panels := c.normalizer.PanelIDs()
	if len(panels) == 0 {
		log.Printf("[stream] no panels mapped, nothing to subscribe to")
		return nil
	}
	log.Printf("[stream] subscribing to %d panels", len(panels))
	return c.writeFrame(conn, invocation("2", "subscribeToStatus", []any{panels}))
}

func invocation(id, target string, args []any) map[string]any {
	return map[string]any{
		"type":         1,
		"invocationId": id,
		"target":       target,
		"arguments":    args,
	}
}

func (c *Client) writeFrame(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, append(data, recordSeparator...))
}

// readLoop consumes frames until the connection drops. A ping ticker
// keeps the hub from idling us out.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := c.writeFrame(conn, map[string]any{"type": 6}); err != nil {
					return
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		for _, frame := range strings.Split(string(data), recordSeparator) {
			if frame == "" {
				continue
			}
			c.handleFrame(ctx, []byte(frame))
		}
	}
}

// hubMessage is the envelope of every SignalR frame.
type hubMessage struct {
	Type      int               `json:"type"`
	Target    string            `json:"target"`
	Arguments []json.RawMessage `json:"arguments"`
}

func (c *Client) handleFrame(ctx context.Context, frame []byte) {
	var msg hubMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		log.Printf("[stream] bad frame (%d bytes): %v", len(frame), err)
		return
	}

	switch msg.Type {
	case 1:
		switch msg.Target {
		case "status":
			c.handleStatus(msg.Arguments)
		case "notification":
			c.handleNotification(ctx, msg.Arguments)
		default:
			c.countNonDoor()
		}
	case 6:
		// Server ping; the ticker already answers with our own.
	case 7:
		log.Printf("[stream] hub sent close frame")
	}
}

func (c *Client) handleStatus(args []json.RawMessage) {
	if len(args) == 0 {
		return
	}
	payload := args[0]

	var head struct {
		StatusType string `json:"statusType"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		log.Printf("[stream] bad status payload: %v", err)
		return
	}
	if head.StatusType != "" && head.StatusType != "Door" {
		c.countNonDoor()
		return
	}

	dialect := c.detectOnce(payload)

	status, err := event.DecodeStatus(payload, dialect, time.Now().UTC())
	if err != nil {
		log.Printf("[stream] undecodable door status: %v", err)
		return
	}

	events := c.normalizer.NormalizeStatus(status)
	if len(events) == 0 {
		c.countNonDoor()
		return
	}
	c.countDoor()
	c.handler(events)
}

func (c *Client) handleNotification(ctx context.Context, args []json.RawMessage) {
	if len(args) == 0 {
		return
	}

	// The hub sends either one record or an array of them.
	var records []json.RawMessage
	first := args[0]
	trimmed := strings.TrimSpace(string(first))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(first, &records); err != nil {
			log.Printf("[stream] bad notification batch: %v", err)
			return
		}
	} else {
		records = args
	}

	c.mu.Lock()
	dialect := c.dialect
	c.mu.Unlock()

	for _, record := range records {
		note, err := event.DecodeNotification(record, dialect, time.Now().UTC())
		if err != nil {
			log.Printf("[stream] bad notification record: %v", err)
			continue
		}
		events := c.normalizer.NormalizeNotification(ctx, note)
		if len(events) == 0 {
			c.countNonDoor()
			continue
		}
		c.countDoor()
		c.handler(events)
	}
}

// detectOnce fixes the dialect from the first door status payload of
// the connection.
func (c *Client) detectOnce(payload []byte) event.Dialect {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialect == event.DialectUnknown {
		if d := event.DetectDialect(payload); d != event.DialectUnknown {
			c.dialect = d
			log.Printf("[stream] detected %s dialect", d)
		}
	}
	return c.dialect
}

func (c *Client) countDoor() {
	c.mu.Lock()
	c.doorEvents++
	c.lastEventAt = time.Now().UTC()
	c.mu.Unlock()
}

func (c *Client) countNonDoor() {
	c.mu.Lock()
	c.nonDoorEvents++
	c.lastEventAt = time.Now().UTC()
	c.mu.Unlock()
}
