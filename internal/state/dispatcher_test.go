package state_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door-panel-bridge/runtime/internal/state"
)

func TestDispatcher_FanOut(t *testing.T) {
	d := state.NewDispatcher()

	a, cancelA := d.Subscribe(0, 4)
	b, cancelB := d.Subscribe(0, 4)
	defer cancelA()
	defer cancelB()

	assert.Equal(t, 2, d.SubscriberCount())

	d.Publish(state.Change{DoorID: 3})

	for name, ch := range map[string]<-chan state.Change{"a": a, "b": b} {
		select {
		case change := <-ch:
			assert.Equal(t, 3, change.DoorID, "subscriber %s", name)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s got nothing", name)
		}
	}
}

func TestDispatcher_KeyedDelivery(t *testing.T) {
	d := state.NewDispatcher()

	lobby, cancelLobby := d.Subscribe(3, 4)
	all, cancelAll := d.Subscribe(0, 4)
	defer cancelLobby()
	defer cancelAll()

	d.Publish(state.Change{DoorID: 4})

	select {
	case change := <-all:
		assert.Equal(t, 4, change.DoorID)
	case <-time.After(time.Second):
		t.Fatal("all-doors subscriber got nothing")
	}
	select {
	case change := <-lobby:
		t.Fatalf("door 3 subscriber got a change for door %d", change.DoorID)
	case <-time.After(50 * time.Millisecond):
	}

	d.Publish(state.Change{DoorID: 3})
	select {
	case change := <-lobby:
		assert.Equal(t, 3, change.DoorID)
	case <-time.After(time.Second):
		t.Fatal("door 3 subscriber missed its own door")
	}
}

func TestDispatcher_CancelClosesChannel(t *testing.T) {
	d := state.NewDispatcher()
	ch, cancel := d.Subscribe(0, 1)

	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, d.SubscriberCount())

	// Publishing after cancel must not panic.
	d.Publish(state.Change{DoorID: 1})
}

func TestDispatcher_NoReplayForLateSubscribers(t *testing.T) {
	d := state.NewDispatcher()
	d.Publish(state.Change{DoorID: 1})

	ch, cancel := d.Subscribe(0, 1)
	defer cancel()

	select {
	case change := <-ch:
		t.Fatalf("late subscriber must not see earlier changes: %+v", change)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcher_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	d := state.NewDispatcher()
	ch, cancel := d.Subscribe(0, 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Publish(state.Change{DoorID: 1})
		d.Publish(state.Change{DoorID: 2}) // buffer full, dropped
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	change := <-ch
	assert.Equal(t, 1, change.DoorID)
}

func TestDispatcher_ConcurrentPublishAndCancel(t *testing.T) {
	d := state.NewDispatcher()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		ch, cancel := d.Subscribe(0, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			cancel()
		}()
	}

	for i := 0; i < 100; i++ {
		d.Publish(state.Change{DoorID: i})
	}
	wg.Wait()

	require.Equal(t, 0, d.SubscriberCount())
}
