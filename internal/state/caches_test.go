package state_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door-panel-bridge/runtime/internal/panel"
	"github.com/door-panel-bridge/runtime/internal/state"
)

// fakeLister serves canned codes and schedules per door.
type fakeLister struct {
	mu       sync.Mutex
	codes    map[int][]panel.TempCode
	otr      map[int][]panel.OTRSchedule
	failDoor int
}

func (f *fakeLister) ListTempCodes(ctx context.Context, doorID int) ([]panel.TempCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doorID == f.failDoor {
		return nil, errors.New("door offline")
	}
	return f.codes[doorID], nil
}

func (f *fakeLister) ListOTRSchedules(ctx context.Context, doorID int) ([]panel.OTRSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doorID == f.failDoor {
		return nil, errors.New("door offline")
	}
	return f.otr[doorID], nil
}

func (f *fakeLister) setCodes(doorID int, codes []panel.TempCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[doorID] = codes
}

func newFakeLister() *fakeLister {
	return &fakeLister{
		codes: make(map[int][]panel.TempCode),
		otr:   make(map[int][]panel.OTRSchedule),
	}
}

func TestCaches_RefreshAndRead(t *testing.T) {
	lister := newFakeLister()
	lister.setCodes(3, []panel.TempCode{{DoorID: 3, CodeName: "Cleaner", Code: "123456", UserID: 1}})

	changes := 0
	caches := state.NewCaches(lister, func() { changes++ })
	caches.SetDoors([]int{3, 4})

	caches.Refresh(context.Background())

	codes := caches.TempCodes(3)
	require.Len(t, codes, 1)
	assert.Equal(t, "Cleaner", codes[0].CodeName)
	assert.Empty(t, caches.TempCodes(4))
	assert.Equal(t, 1, changes)

	// Unchanged data does not re-fire the callback.
	caches.Refresh(context.Background())
	assert.Equal(t, 1, changes)

	// New data does.
	lister.setCodes(3, []panel.TempCode{
		{DoorID: 3, CodeName: "Cleaner", Code: "123456", UserID: 1},
		{DoorID: 3, CodeName: "Courier", Code: "654321", UserID: 2},
	})
	caches.RefreshDoor(context.Background(), 3)
	assert.Equal(t, 2, changes)
	assert.Len(t, caches.TempCodes(3), 2)
}

func TestCaches_FailedDoorKeepsOldData(t *testing.T) {
	lister := newFakeLister()
	lister.setCodes(3, []panel.TempCode{{DoorID: 3, CodeName: "Cleaner", Code: "123456", UserID: 1}})

	caches := state.NewCaches(lister, nil)
	caches.SetDoors([]int{3})
	caches.Refresh(context.Background())
	require.Len(t, caches.TempCodes(3), 1)

	lister.mu.Lock()
	lister.failDoor = 3
	lister.mu.Unlock()

	caches.Refresh(context.Background())
	assert.Len(t, caches.TempCodes(3), 1, "a failed refresh keeps the previous data")
}

func TestCaches_OTRSchedules(t *testing.T) {
	lister := newFakeLister()
	start := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	lister.otr[4] = []panel.OTRSchedule{{ID: 7, DoorID: 4, Mode: "Unlock", StartUTC: start, StopUTC: start.Add(time.Hour)}}

	caches := state.NewCaches(lister, nil)
	caches.SetDoors([]int{4})
	caches.Refresh(context.Background())

	schedules := caches.OTRSchedules(4)
	require.Len(t, schedules, 1)
	assert.Equal(t, 7, schedules[0].ID)
}
