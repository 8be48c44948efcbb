package panel

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"
)

// GenerateCode returns a random numeric PIN of the given length.
func GenerateCode(digits int) (string, error) {
	if digits < 4 || digits > 9 {
		return "", &ValidationError{Field: "code_digits", Reason: "must be between 4 and 9"}
	}
	code := make([]byte, digits)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generating code: %w", err)
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}

// tempCodeRecord is the panel's wire form of a temp-code user.
type tempCodeRecord struct {
	UserID    int    `json:"UserId"`
	FirstName string `json:"FirstName"`
	Code      string `json:"Code"`
	StartedOn string `json:"StartedOn,omitempty"`
	ExpiresOn string `json:"ExpiresOn,omitempty"`
}

// ListTempCodes fetches the active temp codes for one door.
func (c *Client) ListTempCodes(ctx context.Context, doorID int) ([]TempCode, error) {
	var env resultsEnvelope[tempCodeRecord]
	path := fmt.Sprintf("/api/Doors/%d/TempCodes", doorID)
	if err := c.session.GetJSON(ctx, path, pageQuery(), &env); err != nil {
		return nil, fmt.Errorf("listing temp codes for door %d: %w", doorID, err)
	}

	codes := make([]TempCode, 0, len(env.Results))
	for _, rec := range env.Results {
		codes = append(codes, TempCode{
			DoorID:    doorID,
			CodeName:  rec.FirstName,
			Code:      rec.Code,
			UserID:    rec.UserID,
			StartTime: parsePanelTime(rec.StartedOn),
			EndTime:   parsePanelTime(rec.ExpiresOn),
		})
	}
	return codes, nil
}

// CreateTempCode creates a time-bounded PIN credential on one door. The
// panel reports a duplicate PIN as a structured rejection, which is
// surfaced verbatim.
func (c *Client) CreateTempCode(ctx context.Context, doorID int, codeName, code string, start, end *time.Time) (*TempCode, error) {
	if !numeric(code) {
		return nil, &ValidationError{Field: "code", Reason: "must be numeric"}
	}

	payload := map[string]any{
		"FirstName":   codeName,
		"Code":        code,
		"PartitionId": c.partitionID,
	}
	if start != nil {
		payload["StartedOn"] = start.UTC().Format(time.RFC3339)
	}
	if end != nil {
		payload["ExpiresOn"] = end.UTC().Format(time.RFC3339)
	}

	var created struct {
		UserID int `json:"UserId"`
	}
	path := fmt.Sprintf("/api/Doors/%d/TempCodes", doorID)
	data, err := c.session.Do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return nil, fmt.Errorf("creating temp code on door %d: %w", doorID, err)
	}
	if err := decode(data, &created); err != nil {
		return nil, err
	}

	return &TempCode{
		DoorID:    doorID,
		CodeName:  codeName,
		Code:      code,
		UserID:    created.UserID,
		StartTime: start,
		EndTime:   end,
	}, nil
}

// UpdateTempCode moves the time bounds of an existing temp code. The PIN
// itself is never touched; only StartedOn/ExpiresOn are sent.
func (c *Client) UpdateTempCode(ctx context.Context, userID int, start, end *time.Time) error {
	if start == nil && end == nil {
		return &ValidationError{Field: "time bounds", Reason: "at least one of start or end is required"}
	}

	payload := map[string]any{"UserId": userID}
	if start != nil {
		payload["StartedOn"] = start.UTC().Format(time.RFC3339)
	}
	if end != nil {
		payload["ExpiresOn"] = end.UTC().Format(time.RFC3339)
	}

	path := "/api/TempCodeUsers/" + strconv.Itoa(userID)
	if _, err := c.session.Do(ctx, http.MethodPut, path, nil, payload); err != nil {
		return fmt.Errorf("updating temp code user %d: %w", userID, err)
	}
	return nil
}

// DeleteTempCode removes a temp code from one door by its PIN.
func (c *Client) DeleteTempCode(ctx context.Context, doorID int, code string) error {
	path := fmt.Sprintf("/api/Doors/%d/TempCodes/%s", doorID, code)
	if _, err := c.session.Do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("deleting temp code on door %d: %w", doorID, err)
	}
	return nil
}

// DeleteTempCodeByName removes every temp code on a door whose name
// matches, and returns how many were deleted. Names are not unique on
// the panel, so more than one code may go.
func (c *Client) DeleteTempCodeByName(ctx context.Context, doorID int, codeName string) (int, []error) {
	codes, err := c.ListTempCodes(ctx, doorID)
	if err != nil {
		return 0, []error{err}
	}

	deleted := 0
	var errs []error
	for _, tc := range codes {
		if tc.CodeName != codeName {
			continue
		}
		if err := c.DeleteTempCode(ctx, doorID, tc.Code); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	if deleted == 0 && len(errs) == 0 {
		errs = append(errs, &ValidationError{Field: "code_name", Reason: fmt.Sprintf("no temp code named %q on door %d", codeName, doorID)})
	}
	return deleted, errs
}

// ClearTempCodes removes every temp code from one door. Individual
// failures do not stop the remaining deletes.
func (c *Client) ClearTempCodes(ctx context.Context, doorID int) (int, []error) {
	codes, err := c.ListTempCodes(ctx, doorID)
	if err != nil {
		return 0, []error{err}
	}

	deleted := 0
	var errs []error
	for _, tc := range codes {
		if err := c.DeleteTempCode(ctx, doorID, tc.Code); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errs
}

func numeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parsePanelTime parses the panel's timestamp forms; nil when absent or
// unparseable.
func parsePanelTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
