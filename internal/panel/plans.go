package panel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// cloneMarker tags plans this runtime cloned, so a re-run finds the
// existing clone instead of creating another.
const cloneMarker = " (Bridge)"

// ListActionPlans fetches the partition's action plans.
func (c *Client) ListActionPlans(ctx context.Context) ([]ActionPlan, error) {
	q := pageQuery()
	q.Set("PartitionId", strconv.Itoa(c.partitionID))

	var env resultsEnvelope[ActionPlan]
	if err := c.session.GetJSON(ctx, "/api/ActionPlans", q, &env); err != nil {
		return nil, fmt.Errorf("listing action plans: %w", err)
	}
	return env.Results, nil
}

// GetActionPlan fetches one plan including its Contents.
func (c *Client) GetActionPlan(ctx context.Context, planID int) (*ActionPlan, error) {
	var detail struct {
		Result ActionPlan `json:"Result"`
	}
	path := "/api/ActionPlans/" + strconv.Itoa(planID)
	if err := c.session.GetJSON(ctx, path, nil, &detail); err != nil {
		return nil, fmt.Errorf("fetching action plan %d: %w", planID, err)
	}
	return &detail.Result, nil
}

// FindOrClonePlan returns the ID of a System clone of the given plan,
// cloning it if none exists. The remote API does not accept contents on
// create, so cloning is an inherent two-phase write: POST a skeleton,
// then PUT the Contents. If the source plan already is a clone of ours,
// its own ID is returned.
func (c *Client) FindOrClonePlan(ctx context.Context, planID int) (int, error) {
	orig, err := c.GetActionPlan(ctx, planID)
	if err != nil {
		return 0, err
	}

	if strings.HasSuffix(orig.Name, cloneMarker) && orig.PlanType == "System" {
		return orig.ID, nil
	}
	cloneName := strings.ReplaceAll(orig.Name, cloneMarker, "") + cloneMarker

	existing, err := c.ListActionPlans(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range existing {
		if p.PlanType == "System" && p.Name == cloneName && p.PartitionID == orig.PartitionID {
			return p.ID, nil
		}
	}

	newID, err := c.createPlanSkeleton(ctx, cloneName, orig.Description, orig.HighSecurity, orig.PartitionID)
	if err != nil {
		return 0, err
	}
	if err := c.putPlanContents(ctx, newID, orig.Contents); err != nil {
		return 0, err
	}
	return newID, nil
}

// createPlanSkeleton is phase one of the two-phase plan write.
func (c *Client) createPlanSkeleton(ctx context.Context, name, description string, highSecurity bool, partitionID int) (int, error) {
	payload := map[string]any{
		"PlanType":     "System",
		"Name":         name,
		"Description":  description,
		"HighSecurity": highSecurity,
		"PartitionId":  partitionID,
	}

	var created struct {
		ID int `json:"Id"`
	}
	data, err := c.session.Do(ctx, http.MethodPost, "/api/ActionPlans", nil, payload)
	if err != nil {
		return 0, fmt.Errorf("creating plan skeleton %q: %w", name, err)
	}
	if err := decode(data, &created); err != nil {
		return 0, err
	}
	return created.ID, nil
}

// putPlanContents is phase two: populate the skeleton's Contents.
func (c *Client) putPlanContents(ctx context.Context, planID int, contents string) error {
	payload := map[string]any{
		"Id": planID,
		"Properties": []map[string]any{
			{"Name": "Contents", "Value": contents},
		},
	}
	path := "/api/ActionPlans/" + strconv.Itoa(planID)
	if _, err := c.session.Do(ctx, http.MethodPut, path, nil, payload); err != nil {
		return fmt.Errorf("populating plan %d contents: %w", planID, err)
	}
	return nil
}

// ExecutePlan runs a plan with optional session variables. logLevel may
// be empty for the panel default.
func (c *Client) ExecutePlan(ctx context.Context, planID int, logLevel string, sessionVars map[string]string) error {
	path := "/api/ActionPlans/" + strconv.Itoa(planID) + "/Exec"
	if logLevel != "" {
		path += "/" + logLevel
	}
	q := url.Values{}
	q.Set("PartitionId", strconv.Itoa(c.partitionID))

	if sessionVars == nil {
		sessionVars = map[string]string{}
	}
	payload := map[string]any{"SessionVars": sessionVars}

	if _, err := c.session.Do(ctx, http.MethodPost, path, q, payload); err != nil {
		return fmt.Errorf("executing plan %d: %w", planID, err)
	}
	return nil
}
