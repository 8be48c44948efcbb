package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Client issues typed panel operations over a Session. It is stateless;
// every method is one or more HTTP calls and is safe for concurrent use.
type Client struct {
	session        *Session
	partitionID    int
	defaultMinutes int
}

// NewClient creates a command client scoped to one partition.
func NewClient(session *Session, partitionID, defaultOverrideMinutes int) *Client {
	if defaultOverrideMinutes < 1 {
		defaultOverrideMinutes = 5
	}
	return &Client{
		session:        session,
		partitionID:    partitionID,
		defaultMinutes: defaultOverrideMinutes,
	}
}

// Session returns the underlying session, for transports that must share
// its cookie (the push stream).
func (c *Client) Session() *Session { return c.session }

// PartitionID returns the partition this client is scoped to.
func (c *Client) PartitionID() int { return c.partitionID }

// decode unmarshals a panel response body.
func decode(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// resultsEnvelope is the paged list wrapper the panel uses.
type resultsEnvelope[T any] struct {
	Results []T `json:"Results"`
}

// pageQuery returns the standard paging parameters; the panel caps pages
// at 500 entries, which covers any realistic partition.
func pageQuery() url.Values {
	q := url.Values{}
	q.Set("PageNumber", "1")
	q.Set("PerPage", "500")
	return q
}

// ListPartitions fetches the partitions the account may manage doors in.
func (c *Client) ListPartitions(ctx context.Context) ([]Partition, error) {
	var env resultsEnvelope[Partition]
	if err := c.session.GetJSON(ctx, "/api/Partitions/ByPrivilege/Manage_Doors", pageQuery(), &env); err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}
	return env.Results, nil
}

// ListDoors fetches the doors of this client's partition.
func (c *Client) ListDoors(ctx context.Context) ([]Door, error) {
	q := pageQuery()
	q.Set("PartitionId", strconv.Itoa(c.partitionID))

	var env resultsEnvelope[Door]
	if err := c.session.GetJSON(ctx, "/api/doors", q, &env); err != nil {
		return nil, fmt.Errorf("listing doors: %w", err)
	}
	return env.Results, nil
}

// ListReaders fetches the partition's readers with their door bindings.
func (c *Client) ListReaders(ctx context.Context) ([]Reader, error) {
	q := pageQuery()
	q.Set("PartitionId", strconv.Itoa(c.partitionID))

	var env resultsEnvelope[Reader]
	if err := c.session.GetJSON(ctx, "/api/Readers/AvailableReaders", q, &env); err != nil {
		return nil, fmt.Errorf("listing readers: %w", err)
	}
	return env.Results, nil
}

// overviewNode is one node of the /api/system/overview tree.
type overviewNode struct {
	Type     string         `json:"Type"`
	ID       int            `json:"Id"`
	Name     string         `json:"Name"`
	StatusID string         `json:"StatusId"`
	Nodes    []overviewNode `json:"Nodes"`
}

// SystemMaps are the lookups derived from the system overview tree,
// filtered to the given door allowlist.
type SystemMaps struct {
	// DoorByStatusID routes push status frames to doors.
	DoorByStatusID map[string]int
	// DoorByReaderID routes reader-sourced notifications to doors.
	DoorByReaderID map[int]int
	// DoorNames by door ID.
	DoorNames map[int]string
}

// FetchSystemMaps walks the system overview and builds the status and
// reader lookups for the allowed doors. Doors outside the allowlist are
// skipped, along with their readers.
func (c *Client) FetchSystemMaps(ctx context.Context, allowedDoors map[int]bool) (*SystemMaps, error) {
	var overview struct {
		Status overviewNode `json:"Status"`
	}
	if err := c.session.GetJSON(ctx, "/api/system/overview/System", nil, &overview); err != nil {
		return nil, fmt.Errorf("fetching system overview: %w", err)
	}

	maps := &SystemMaps{
		DoorByStatusID: make(map[string]int),
		DoorByReaderID: make(map[int]int),
		DoorNames:      make(map[int]string),
	}

	var walk func(node overviewNode, doorID int)
	walk = func(node overviewNode, doorID int) {
		for _, sub := range node.Nodes {
			switch sub.Type {
			case "Door":
				if allowedDoors[sub.ID] {
					if sub.StatusID != "" {
						maps.DoorByStatusID[sub.StatusID] = sub.ID
					}
					maps.DoorNames[sub.ID] = sub.Name
					walk(sub, sub.ID)
				} else {
					walk(sub, 0)
				}
			case "Reader":
				if doorID != 0 {
					maps.DoorByReaderID[sub.ID] = doorID
				}
				walk(sub, doorID)
			default:
				walk(sub, doorID)
			}
		}
	}
	walk(overview.Status, 0)

	// Merge the explicit partition readers; the overview does not always
	// carry every reader.
	readers, err := c.ListReaders(ctx)
	if err != nil {
		return maps, fmt.Errorf("merging partition readers: %w", err)
	}
	for _, rd := range readers {
		if allowedDoors[rd.DoorID] {
			maps.DoorByReaderID[rd.ID] = rd.DoorID
		}
	}

	return maps, nil
}

// UpdatePanels pushes pending configuration changes out to the panels.
func (c *Client) UpdatePanels(ctx context.Context) error {
	q := url.Values{}
	q.Set("PartitionId", strconv.Itoa(c.partitionID))
	if _, err := c.session.Do(ctx, http.MethodPost, "/api/PanelCommands/UpdatePanels", q, struct{}{}); err != nil {
		return fmt.Errorf("updating panels: %w", err)
	}
	return nil
}
