package websocket

import (
	"context"
	"log"
	"time"

	"github.com/door-panel-bridge/runtime/internal/state"
	"github.com/door-panel-bridge/runtime/internal/stream"
)

// EventBroadcaster turns runtime changes into WebSocket messages.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a broadcaster over hub.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// BroadcastDoorState sends a door state change to every client.
func (b *EventBroadcaster) BroadcastDoorState(change state.Change) {
	b.broadcast(NewMessage(TypeDoorStateChanged, change.State))
}

// BroadcastStreamStatus sends the push connection status.
func (b *EventBroadcaster) BroadcastStreamStatus(status stream.Status) {
	b.broadcast(NewMessage(TypeStreamStatus, status))
}

// BroadcastCodesChanged tells clients the temp-code cache moved.
func (b *EventBroadcaster) BroadcastCodesChanged() {
	b.broadcast(NewMessage(TypeCodesChanged, nil))
}

// BroadcastSchedulesChanged tells clients the OTR cache moved.
func (b *EventBroadcaster) BroadcastSchedulesChanged() {
	b.broadcast(NewMessage(TypeSchedulesChanged, nil))
}

func (b *EventBroadcaster) broadcast(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		log.Printf("Failed to serialize WebSocket message: %v", err)
		return
	}
	b.hub.Broadcast(data)
}

// PumpChanges forwards dispatcher changes to the hub until the channel
// closes.
func (b *EventBroadcaster) PumpChanges(changes <-chan state.Change) {
	for change := range changes {
		b.BroadcastDoorState(change)
	}
}

// PumpStreamStatus polls the push connection and broadcasts whenever
// its state transitions.
func (b *EventBroadcaster) PumpStreamStatus(ctx context.Context, poll func() stream.Status, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := stream.ConnectionState(-1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := poll()
			if status.State != last {
				last = status.State
				b.BroadcastStreamStatus(status)
			}
		}
	}
}
