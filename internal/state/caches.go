package state

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/door-panel-bridge/runtime/internal/panel"
)

// codeLister is the slice of the panel client the caches consume.
type codeLister interface {
	ListTempCodes(ctx context.Context, doorID int) ([]panel.TempCode, error)
	ListOTRSchedules(ctx context.Context, doorID int) ([]panel.OTRSchedule, error)
}

// Caches mirrors the panel's temporary codes and one-time-run schedules
// for the partition's doors. Refreshed on an interval plus immediately
// after any local mutation.
type Caches struct {
	client   codeLister
	onChange func()

	mu        sync.RWMutex
	doorIDs   []int
	tempCodes map[int][]panel.TempCode
	otr       map[int][]panel.OTRSchedule
}

// NewCaches creates caches over client. onChange fires after any
// refresh that altered the cached data; it may be nil.
func NewCaches(client codeLister, onChange func()) *Caches {
	return &Caches{
		client:    client,
		onChange:  onChange,
		tempCodes: make(map[int][]panel.TempCode),
		otr:       make(map[int][]panel.OTRSchedule),
	}
}

// SetOnChange installs the change callback. Must be called before the
// first refresh.
func (c *Caches) SetOnChange(fn func()) {
	c.onChange = fn
}

// SetDoors installs the set of doors the caches track.
func (c *Caches) SetDoors(doorIDs []int) {
	ids := append([]int(nil), doorIDs...)
	sort.Ints(ids)
	c.mu.Lock()
	c.doorIDs = ids
	c.mu.Unlock()
}

// TempCodes returns the cached codes for a door.
func (c *Caches) TempCodes(doorID int) []panel.TempCode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]panel.TempCode(nil), c.tempCodes[doorID]...)
}

// OTRSchedules returns the cached one-time-run schedules for a door.
func (c *Caches) OTRSchedules(doorID int) []panel.OTRSchedule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]panel.OTRSchedule(nil), c.otr[doorID]...)
}

// Refresh re-fetches codes and schedules for every tracked door.
// Failures are logged per door and do not abort the rest.
func (c *Caches) Refresh(ctx context.Context) {
	c.mu.RLock()
	ids := append([]int(nil), c.doorIDs...)
	c.mu.RUnlock()

	changed := false
	for _, id := range ids {
		if c.refreshDoor(ctx, id) {
			changed = true
		}
	}
	if changed && c.onChange != nil {
		c.onChange()
	}
}

// RefreshDoor re-fetches one door, used after a local create or delete.
func (c *Caches) RefreshDoor(ctx context.Context, doorID int) {
	if c.refreshDoor(ctx, doorID) && c.onChange != nil {
		c.onChange()
	}
}

func (c *Caches) refreshDoor(ctx context.Context, doorID int) bool {
	changed := false

	codes, err := c.client.ListTempCodes(ctx, doorID)
	if err != nil {
		log.Printf("[state] temp code refresh for door %d failed: %v", doorID, err)
	} else {
		c.mu.Lock()
		if !tempCodesEqual(c.tempCodes[doorID], codes) {
			c.tempCodes[doorID] = codes
			changed = true
		}
		c.mu.Unlock()
	}

	schedules, err := c.client.ListOTRSchedules(ctx, doorID)
	if err != nil {
		log.Printf("[state] OTR refresh for door %d failed: %v", doorID, err)
	} else {
		c.mu.Lock()
		if !otrEqual(c.otr[doorID], schedules) {
			c.otr[doorID] = schedules
			changed = true
		}
		c.mu.Unlock()
	}

	return changed
}

func tempCodesEqual(a, b []panel.TempCode) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Code != b[i].Code || a[i].CodeName != b[i].CodeName || a[i].UserID != b[i].UserID {
			return false
		}
		if !timePtrEqual(a[i].StartTime, b[i].StartTime) || !timePtrEqual(a[i].EndTime, b[i].EndTime) {
			return false
		}
	}
	return true
}

func otrEqual(a, b []panel.OTRSchedule) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || !a[i].StartUTC.Equal(b[i].StartUTC) || !a[i].StopUTC.Equal(b[i].StopUTC) {
			return false
		}
	}
	return true
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
