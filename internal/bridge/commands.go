package bridge

import (
	"context"
	"time"

	"github.com/door-panel-bridge/runtime/internal/panel"
	"github.com/door-panel-bridge/runtime/internal/state"
)

// Override applies an override to the given doors and optimistically
// folds the expected state into the mirror for the doors that took it.
// The next push frame or snapshot corrects any divergence.
func (b *Bridge) Override(ctx context.Context, doorIDs []int, req panel.OverrideRequest) panel.CommandResult {
	// Resolve the minute count up front so the optimistic record shows
	// what the panel was actually told, not the raw request.
	until := req.Until
	if req.Type == panel.OverrideTimed {
		req.Minutes = b.client.ResolveMinutes(req)
		req.Until = nil
	}

	result := b.client.OverrideDoors(ctx, doorIDs, req)

	if ok := result.Succeeded(); len(ok) > 0 {
		b.store.ApplyCommandResult(ok, func(s *state.DoorState) {
			s.Overridden = true
			if req.Mode != "" {
				s.ReaderMode = req.Mode
			}
			s.Override = &state.OverrideState{
				Type:    req.Type,
				Mode:    req.Mode,
				Minutes: req.Minutes,
				Until:   until,
			}
			switch req.Mode {
			case panel.ModeUnlock:
				s.LockState = state.LockStateUnlocked
			case panel.ModeLockdown:
				s.LockState = state.LockStateLocked
			}
		})
	}
	return result
}

// Resume returns the given doors to their schedules.
func (b *Bridge) Resume(ctx context.Context, doorIDs []int) panel.CommandResult {
	result := b.client.ResumeDoors(ctx, doorIDs)

	if ok := result.Succeeded(); len(ok) > 0 {
		b.store.ApplyCommandResult(ok, func(s *state.DoorState) {
			s.Overridden = false
			s.Override = nil
		})
	}
	return result
}

// Pulse momentarily releases the given doors. No state is folded in;
// the panel reports the strike transition itself.
func (b *Bridge) Pulse(ctx context.Context, doorIDs []int) panel.CommandResult {
	return b.client.PulseDoors(ctx, doorIDs)
}

// CreateTempCode creates a temporary code on one door and refreshes the
// cache immediately.
func (b *Bridge) CreateTempCode(ctx context.Context, doorID int, codeName, code string, start, end *time.Time) (*panel.TempCode, error) {
	created, err := b.client.CreateTempCode(ctx, doorID, codeName, code, start, end)
	if err != nil {
		return nil, err
	}
	b.caches.RefreshDoor(ctx, doorID)
	return created, nil
}

// UpdateTempCode adjusts a code's validity window. The PIN itself is
// immutable; delete and recreate to change it.
func (b *Bridge) UpdateTempCode(ctx context.Context, doorID, userID int, start, end *time.Time) error {
	if err := b.client.UpdateTempCode(ctx, userID, start, end); err != nil {
		return err
	}
	b.caches.RefreshDoor(ctx, doorID)
	return nil
}

// DeleteTempCode removes a temporary code and refreshes the cache.
func (b *Bridge) DeleteTempCode(ctx context.Context, doorID int, code string) error {
	if err := b.client.DeleteTempCode(ctx, doorID, code); err != nil {
		return err
	}
	b.caches.RefreshDoor(ctx, doorID)
	return nil
}

// DeleteTempCodeByName removes every code on a door whose name matches.
func (b *Bridge) DeleteTempCodeByName(ctx context.Context, doorID int, codeName string) (int, []error) {
	deleted, errs := b.client.DeleteTempCodeByName(ctx, doorID, codeName)
	if deleted > 0 {
		b.caches.RefreshDoor(ctx, doorID)
	}
	return deleted, errs
}

// ClearTempCodes removes every code on one door.
func (b *Bridge) ClearTempCodes(ctx context.Context, doorID int) (int, []error) {
	deleted, errs := b.client.ClearTempCodes(ctx, doorID)
	if deleted > 0 {
		b.caches.RefreshDoor(ctx, doorID)
	}
	return deleted, errs
}

// CreateOTRSchedule stores a one-time-run override and refreshes the
// affected door caches.
func (b *Bridge) CreateOTRSchedule(ctx context.Context, doorIDs []int, mode panel.Mode, start, stop time.Time, name, description string) (int, error) {
	id, err := b.client.CreateOTRSchedule(ctx, doorIDs, mode, start, stop, name, description)
	if err != nil {
		return 0, err
	}
	for _, doorID := range doorIDs {
		b.caches.RefreshDoor(ctx, doorID)
	}
	return id, nil
}

// DeleteOTRSchedule removes one stored schedule.
func (b *Bridge) DeleteOTRSchedule(ctx context.Context, scheduleID int, doorID int) error {
	if err := b.client.DeleteOTRSchedule(ctx, scheduleID); err != nil {
		return err
	}
	if doorID != 0 {
		b.caches.RefreshDoor(ctx, doorID)
	}
	return nil
}

// DeleteDoorOTRSchedules clears every stored schedule on one door.
func (b *Bridge) DeleteDoorOTRSchedules(ctx context.Context, doorID int) (int, []error) {
	deleted, errs := b.client.DeleteDoorOTRSchedules(ctx, doorID)
	if deleted > 0 {
		b.caches.RefreshDoor(ctx, doorID)
	}
	return deleted, errs
}

// ExecutePlan runs an action plan, cloning system plans first so the
// execution happens on an editable copy.
func (b *Bridge) ExecutePlan(ctx context.Context, planID int, logLevel string, sessionVars map[string]string) error {
	execID, err := b.client.FindOrClonePlan(ctx, planID)
	if err != nil {
		return err
	}
	return b.client.ExecutePlan(ctx, execID, logLevel, sessionVars)
}

// UpdatePanels pushes pending panel configuration to the hardware.
func (b *Bridge) UpdatePanels(ctx context.Context) error {
	return b.client.UpdatePanels(ctx)
}
