package panel

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// otrRecord is the panel's wire form of a one-time-run schedule.
type otrRecord struct {
	ID        int    `json:"Id"`
	DoorID    int    `json:"DoorId"`
	Name      string `json:"Name"`
	Mode      string `json:"Mode"`
	StartTime string `json:"StartTime"`
	StopTime  string `json:"StopTime"`
}

// ListOTRSchedules fetches the partition's one-time-run schedules,
// optionally filtered to one door (doorID 0 means all doors).
func (c *Client) ListOTRSchedules(ctx context.Context, doorID int) ([]OTRSchedule, error) {
	q := pageQuery()
	q.Set("PartitionId", strconv.Itoa(c.partitionID))
	if doorID != 0 {
		q.Set("DoorId", strconv.Itoa(doorID))
	}

	var env resultsEnvelope[otrRecord]
	if err := c.session.GetJSON(ctx, "/api/OneTimeRunSchedules", q, &env); err != nil {
		return nil, fmt.Errorf("listing OTR schedules: %w", err)
	}

	schedules := make([]OTRSchedule, 0, len(env.Results))
	for _, rec := range env.Results {
		sched := OTRSchedule{
			ID:     rec.ID,
			DoorID: rec.DoorID,
			Name:   rec.Name,
			Mode:   rec.Mode,
		}
		if t := parsePanelTime(rec.StartTime); t != nil {
			sched.StartUTC = *t
		}
		if t := parsePanelTime(rec.StopTime); t != nil {
			sched.StopUTC = *t
		}
		schedules = append(schedules, sched)
	}
	return schedules, nil
}

// CreateOTRSchedule creates one scheduled override covering the given
// doors, executed by the panel itself at start time.
func (c *Client) CreateOTRSchedule(ctx context.Context, doorIDs []int, mode Mode, start, stop time.Time, name, description string) (int, error) {
	if len(doorIDs) == 0 {
		return 0, &ValidationError{Field: "door_ids", Reason: "at least one door is required"}
	}
	if !stop.After(start) {
		return 0, &ValidationError{Field: "stop_time", Reason: "must be after start_time"}
	}
	if name == "" {
		name = fmt.Sprintf("Bridge OTR %s", start.UTC().Format("2006-01-02 15:04"))
	}

	payload := map[string]any{
		"DoorIds":     doorIDs,
		"PartitionId": c.partitionID,
		"Mode":        mode.WireToken(),
		"StartTime":   start.UTC().Format(time.RFC3339),
		"StopTime":    stop.UTC().Format(time.RFC3339),
		"Name":        name,
		"Description": description,
	}

	var created struct {
		ID int `json:"Id"`
	}
	data, err := c.session.Do(ctx, http.MethodPost, "/api/OneTimeRunSchedules", nil, payload)
	if err != nil {
		return 0, fmt.Errorf("creating OTR schedule: %w", err)
	}
	if err := decode(data, &created); err != nil {
		return 0, err
	}
	return created.ID, nil
}

// DeleteOTRSchedule removes one schedule by ID.
func (c *Client) DeleteOTRSchedule(ctx context.Context, scheduleID int) error {
	path := "/api/OneTimeRunSchedules/" + strconv.Itoa(scheduleID)
	if _, err := c.session.Do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("deleting OTR schedule %d: %w", scheduleID, err)
	}
	return nil
}

// DeleteDoorOTRSchedules removes every schedule attached to one door and
// returns how many were deleted. Individual failures do not stop the
// remaining deletes.
func (c *Client) DeleteDoorOTRSchedules(ctx context.Context, doorID int) (int, []error) {
	schedules, err := c.ListOTRSchedules(ctx, doorID)
	if err != nil {
		return 0, []error{err}
	}

	deleted := 0
	var errs []error
	for _, sched := range schedules {
		if err := c.DeleteOTRSchedule(ctx, sched.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errs
}
