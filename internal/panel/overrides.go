package panel

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"
)

// OverrideRequest describes an override to apply to one or more doors.
// Minutes applies only to timed overrides; when Until is set it takes
// precedence and is converted to minutes at send time.
type OverrideRequest struct {
	Type    OverrideType
	Mode    Mode
	Minutes int
	Until   *time.Time
}

// OverrideDoors applies an override to each door independently. A failure
// on one door never aborts the others; the aggregate reports per-door
// outcomes.
func (c *Client) OverrideDoors(ctx context.Context, doorIDs []int, req OverrideRequest) CommandResult {
	minutes := 0
	if req.Type == OverrideTimed {
		minutes = c.ResolveMinutes(req)
	}

	return c.perDoor(doorIDs, func(doorID int) error {
		return c.overrideOne(ctx, doorID, req, minutes)
	})
}

// ResolveMinutes converts an absolute target time to the minute count a
// timed override will carry, falling back to the defaults when the
// target is unusable. The fallback is logged; a timed override is never
// sent with minutes <= 0.
func (c *Client) ResolveMinutes(req OverrideRequest) int {
	if req.Until != nil {
		minutes, err := MinutesUntil(*req.Until, time.Now().UTC())
		if err == nil {
			return minutes
		}
		fallback := req.Minutes
		if fallback < 1 {
			fallback = c.defaultMinutes
		}
		log.Printf("[panel] override target time unusable (%v); falling back to %d minutes", err, fallback)
		return fallback
	}
	if req.Minutes >= 1 {
		return req.Minutes
	}
	return c.defaultMinutes
}

// MinutesUntil computes ceil((until - now) / 1m). A target at or before
// now is invalid; targets within the current minute round up to 1.
func MinutesUntil(until, now time.Time) (int, error) {
	d := until.Sub(now)
	if d <= 0 {
		return 0, &ValidationError{Field: "until", Reason: fmt.Sprintf("target %s is not in the future", until.Format(time.RFC3339))}
	}
	minutes := int((d + time.Minute - 1) / time.Minute)
	return minutes, nil
}

// overrideOne sends one OverrideDoor command. Both the string token and
// the numeric index forms are sent; some panel versions only honor one.
func (c *Client) overrideOne(ctx context.Context, doorID int, req OverrideRequest, minutes int) error {
	payload := map[string]any{
		"DoorIds":      []int{doorID},
		"OverrideType": string(req.Type),
		"TimeZoneMode": req.Mode.WireToken(),
	}
	if req.Type == OverrideTimed {
		payload["Minutes"] = minutes
	}
	if idx := req.Mode.Index(); idx >= 0 {
		payload["ModeIndex"] = idx
		payload["TimeZoneModeIndex"] = idx
		payload["TimeZone"] = idx
		payload["TimeZoneState"] = idx
	}

	if _, err := c.session.Do(ctx, http.MethodPost, "/api/PanelCommands/OverrideDoor", nil, payload); err != nil {
		return fmt.Errorf("overriding door %d: %w", doorID, err)
	}
	log.Printf("[panel] override %s/%s sent to door %d (minutes=%d)", req.Type, req.Mode, doorID, minutes)
	return nil
}

// ResumeDoors returns each door to its schedule. Resume is idempotent on
// the panel side; resuming an already-resumed door succeeds.
func (c *Client) ResumeDoors(ctx context.Context, doorIDs []int) CommandResult {
	return c.perDoor(doorIDs, func(doorID int) error {
		payload := map[string]any{"DoorIds": []int{doorID}}
		if _, err := c.session.Do(ctx, http.MethodPost, "/api/PanelCommands/ResumeDoor", nil, payload); err != nil {
			return fmt.Errorf("resuming door %d: %w", doorID, err)
		}
		return nil
	})
}

// PulseDoors momentarily unlocks each door.
func (c *Client) PulseDoors(ctx context.Context, doorIDs []int) CommandResult {
	return c.perDoor(doorIDs, func(doorID int) error {
		payload := map[string]any{"DoorIds": []int{doorID}}
		if _, err := c.session.Do(ctx, http.MethodPost, "/api/PanelCommands/PulseDoor", nil, payload); err != nil {
			return fmt.Errorf("pulsing door %d: %w", doorID, err)
		}
		return nil
	})
}

// perDoor runs op once per door and collects the per-door outcomes.
func (c *Client) perDoor(doorIDs []int, op func(doorID int) error) CommandResult {
	result := CommandResult{Results: make([]TargetResult, 0, len(doorIDs))}
	for _, doorID := range doorIDs {
		err := op(doorID)
		if err != nil {
			log.Printf("[panel] command failed for door %d: %v", doorID, err)
		}
		result.Results = append(result.Results, TargetResult{DoorID: doorID, Err: err})
	}
	return result
}
