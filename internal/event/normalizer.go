package event

import (
	"context"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/door-panel-bridge/runtime/internal/panel"
)

const (
	// maxPending bounds the queue of notifications waiting on a reader
	// map refresh.
	maxPending = 64

	// realStatusWindow suppresses a status synthesized from notification
	// text when a real status frame for the door arrived this recently.
	realStatusWindow = time.Second

	// minMapRefreshInterval rate-limits reader-map refreshes triggered
	// by unknown sources.
	minMapRefreshInterval = 30 * time.Second
)

// MapRefresher re-fetches the status and reader lookups.
type MapRefresher func(ctx context.Context) (*panel.SystemMaps, error)

// Normalizer maps raw frames and snapshot records to canonical events.
// It owns the partition-scoped routing maps and the small amount of
// per-door memory (baseline reader mode, last real status time) needed
// to synthesize coherent events from notification text.
type Normalizer struct {
	refresh MapRefresher

	mu             sync.Mutex
	doorByStatusID map[string]int
	doorByReaderID map[int]int
	allowed        map[int]bool
	pending        []Notification
	lastRealStatus map[int]time.Time
	baselineTZ     map[int]int
	lastMapRefresh time.Time

	now func() time.Time
}

// NewNormalizer creates a normalizer; refresh may be nil when the maps
// are managed entirely through SetMaps (tests).
func NewNormalizer(refresh MapRefresher) *Normalizer {
	return &Normalizer{
		refresh:        refresh,
		doorByStatusID: make(map[string]int),
		doorByReaderID: make(map[int]int),
		allowed:        make(map[int]bool),
		lastRealStatus: make(map[int]time.Time),
		baselineTZ:     make(map[int]int),
		now:            time.Now,
	}
}

// SetMaps installs the routing maps and the partition door allowlist.
func (n *Normalizer) SetMaps(maps *panel.SystemMaps, allowed map[int]bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.doorByStatusID = maps.DoorByStatusID
	n.doorByReaderID = maps.DoorByReaderID
	n.allowed = allowed
}

// PanelIDs returns the distinct panel roots of the known status IDs,
// which is what the stream subscribes to.
func (n *Normalizer) PanelIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	seen := make(map[string]bool)
	var panels []string
	for sid := range n.doorByStatusID {
		root, _, _ := strings.Cut(sid, "::")
		if root != "" && !seen[root] {
			seen[root] = true
			panels = append(panels, root)
		}
	}
	return panels
}

// NormalizeStatus converts a decoded door status into canonical events.
// Push statuses are routed by status ID; snapshots already carry the
// door ID. Statuses for doors outside the partition yield nothing.
func (n *Normalizer) NormalizeStatus(status DoorStatus) []Event {
	n.mu.Lock()
	doorID := status.DoorID
	if doorID == 0 {
		var ok bool
		doorID, ok = n.doorByStatusID[status.StatusID]
		if !ok {
			n.mu.Unlock()
			log.Printf("[event] status frame for unknown statusId %q ignored", status.StatusID)
			return nil
		}
	}
	if len(n.allowed) > 0 && !n.allowed[doorID] {
		n.mu.Unlock()
		return nil
	}

	if status.Source == SourcePush {
		n.lastRealStatus[doorID] = n.now()
	}
	// Cache the baseline reader mode while not overridden, so a resume
	// without an explicit mode can restore it.
	if status.TimeZone != nil && status.Overridden != nil && !*status.Overridden {
		n.baselineTZ[doorID] = *status.TimeZone
	}
	n.mu.Unlock()

	evt := Event{
		DoorID:     doorID,
		Kind:       KindDoorState,
		Source:     status.Source,
		At:         status.At,
		Unlocked:   status.Unlocked(),
		Overridden: status.Overridden,
	}
	if status.TimeZone != nil {
		if mode, ok := panel.ModeFromIndex(*status.TimeZone); ok {
			evt.Mode = &mode
		}
	}
	return []Event{evt}
}

// NormalizeNotification converts a decoded notification into canonical
// events: a log-bearing event for access/plan/OTR notifications, plus
// synthesized door-state events parsed from override/resume/lock-state
// message text. Notifications whose source cannot be resolved to a door
// are buffered, the reader map is refreshed once, and the buffer is
// replayed; still-unresolved notifications are dropped with a warning.
func (n *Normalizer) NormalizeNotification(ctx context.Context, note Notification) []Event {
	doorID, state := n.resolveDoor(note)
	switch state {
	case routeFiltered:
		return nil
	case routeUnknown:
		return n.retryUnmapped(ctx, note)
	}
	return n.normalizeResolved(doorID, note)
}

type routeState int

const (
	routeOK routeState = iota
	routeUnknown
	routeFiltered
)

// resolveDoor routes a notification to a door through its source.
// Doors outside the partition are filtered, not unknown; only unknown
// sources justify a map refresh.
func (n *Normalizer) resolveDoor(note Notification) (int, routeState) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var doorID int
	switch strings.ToLower(note.SourceType) {
	case "door":
		doorID = note.SourceID
		if doorID != 0 && len(n.allowed) > 0 && !n.allowed[doorID] {
			return 0, routeFiltered
		}
	case "reader":
		doorID = n.doorByReaderID[note.SourceID]
		if doorID != 0 && len(n.allowed) > 0 && !n.allowed[doorID] {
			return 0, routeFiltered
		}
	}
	if doorID == 0 {
		return 0, routeUnknown
	}
	return doorID, routeOK
}

// retryUnmapped buffers an unresolved notification, refreshes the maps,
// and replays the buffer once.
func (n *Normalizer) retryUnmapped(ctx context.Context, note Notification) []Event {
	// Plan chatter with no door routing is expected noise.
	if strings.HasPrefix(note.Type, "ACTIONPLAN_") {
		return nil
	}

	n.mu.Lock()
	if len(n.pending) >= maxPending {
		n.pending = n.pending[1:]
	}
	n.pending = append(n.pending, note)
	refresh := n.refresh
	tooSoon := n.now().Sub(n.lastMapRefresh) < minMapRefreshInterval
	if !tooSoon {
		n.lastMapRefresh = n.now()
	}
	n.mu.Unlock()

	if refresh == nil || tooSoon {
		return nil
	}

	maps, err := refresh(ctx)
	if err != nil {
		log.Printf("[event] reader map refresh failed: %v", err)
		return nil
	}

	n.mu.Lock()
	n.doorByStatusID = maps.DoorByStatusID
	n.doorByReaderID = maps.DoorByReaderID
	queued := n.pending
	n.pending = nil
	n.mu.Unlock()

	var events []Event
	for _, pend := range queued {
		doorID, state := n.resolveDoor(pend)
		if state != routeOK {
			if state == routeUnknown {
				log.Printf("[event] dropping notification from unresolved source %s/%d (%q)", pend.SourceType, pend.SourceID, pend.Message)
			}
			continue
		}
		events = append(events, n.normalizeResolved(doorID, pend)...)
	}
	return events
}

// normalizeResolved builds the canonical events for one routed
// notification.
func (n *Normalizer) normalizeResolved(doorID int, note Notification) []Event {
	at := note.At
	if at.IsZero() {
		at = n.now().UTC()
	}

	var events []Event

	kind, isLog := classifyLog(note)
	if isLog {
		events = append(events, Event{
			DoorID:  doorID,
			Kind:    kind,
			Source:  SourcePush,
			At:      at,
			Actor:   actorFrom(kind, note),
			Message: note.Message,
		})
	}

	if synth, ok := n.synthesizeStatus(doorID, note, at); ok {
		events = append(events, synth)
	}
	return events
}

// classifyLog maps a notification to a log-bearing kind.
func classifyLog(note Notification) (Kind, bool) {
	ntype := strings.ToUpper(note.Type)
	msg := strings.ToLower(note.Message)

	switch {
	case strings.Contains(ntype, "DENIED") || strings.Contains(msg, "access denied"):
		return KindAccessDenied, true
	case strings.Contains(ntype, "GRANTED") || strings.Contains(msg, "access granted"):
		return KindAccessGranted, true
	case strings.HasPrefix(ntype, "ACTIONPLAN"):
		return KindPlanExecuted, true
	case strings.Contains(ntype, "ONE_TIME_RUN") || strings.Contains(ntype, "OTR"):
		return KindOTRActivated, true
	}
	return 0, false
}

var accessActorRe = regexp.MustCompile(`(?i)\b(?:granted|denied)\s+(?:to|for)\s+(.+?)\s+at\b`)

// actorFrom extracts the credential holder or plan name for the door
// log. Falls back to the full message when no name can be parsed.
func actorFrom(kind Kind, note Notification) string {
	switch kind {
	case KindAccessGranted, KindAccessDenied:
		if m := accessActorRe.FindStringSubmatch(note.Message); m != nil {
			return m[1]
		}
	case KindPlanExecuted, KindOTRActivated:
		if note.SourceName != "" {
			return note.SourceName
		}
	}
	return note.Message
}

var currentStateRe = regexp.MustCompile(`(?i)current state is\s+([a-z\s/]+)`)

// modeTextPatterns match override mode text longest-first so "card"
// never matches inside "card or pin" / "card and pin".
var modeTextPatterns = []struct {
	re  *regexp.Regexp
	idx int
}{
	{regexp.MustCompile(`(?i)\bcard\s+or\s+pin\b`), 3},
	{regexp.MustCompile(`(?i)\bcard\s+and\s+pin\b`), 4},
	{regexp.MustCompile(`(?i)\bfirst\s+credential\s+in\b`), 6},
	{regexp.MustCompile(`(?i)\bdual\s+credential\b`), 7},
	{regexp.MustCompile(`(?i)\blockdown\b`), 0},
	{regexp.MustCompile(`(?i)\bunlock(?:ed)?\b`), 5},
	{regexp.MustCompile(`(?i)\bpin\b`), 2},
	{regexp.MustCompile(`(?i)\bcard\b`), 1},
}

// synthesizeStatus derives a door-state change from notification text,
// covering overrides applied directly on the panel that never produce a
// status frame. Skipped when a real status frame arrived just now.
func (n *Normalizer) synthesizeStatus(doorID int, note Notification, at time.Time) (Event, bool) {
	msg := strings.ToLower(note.Message)

	n.mu.Lock()
	recent := n.now().Sub(n.lastRealStatus[doorID]) <= realStatusWindow
	baseline, haveBaseline := n.baselineTZ[doorID]
	n.mu.Unlock()

	boolPtr := func(b bool) *bool { return &b }

	switch {
	case strings.Contains(msg, "has been overridden") && strings.Contains(msg, "current state is"):
		if recent {
			return Event{}, false
		}
		evt := Event{
			DoorID:     doorID,
			Kind:       KindOverrideChanged,
			Source:     SourcePush,
			At:         at,
			Overridden: boolPtr(true),
			Message:    note.Message,
		}
		if m := currentStateRe.FindStringSubmatch(msg); m != nil {
			for _, pat := range modeTextPatterns {
				if pat.re.MatchString(m[1]) {
					if mode, ok := panel.ModeFromIndex(pat.idx); ok {
						evt.Mode = &mode
						if mode == panel.ModeUnlock {
							evt.Unlocked = boolPtr(true)
						}
					}
					break
				}
			}
		}
		return evt, true

	case strings.Contains(msg, "resume schedule"),
		strings.Contains(msg, "schedule resumed"),
		strings.Contains(msg, "returned to schedule"),
		strings.Contains(msg, "override cleared"),
		strings.Contains(msg, "has resumed from an overridden state"):
		if recent {
			return Event{}, false
		}
		evt := Event{
			DoorID:     doorID,
			Kind:       KindScheduleResumed,
			Source:     SourcePush,
			At:         at,
			Overridden: boolPtr(false),
			Message:    note.Message,
		}
		restore := 1 // Card, when no baseline was ever observed
		if haveBaseline {
			restore = baseline
		}
		if mode, ok := panel.ModeFromIndex(restore); ok {
			evt.Mode = &mode
		}
		return evt, true

	case strings.ToUpper(note.Type) == "DOOR_LOCK_STATE":
		if recent {
			return Event{}, false
		}
		evt := Event{
			DoorID:  doorID,
			Kind:    KindDoorState,
			Source:  SourcePush,
			At:      at,
			Message: note.Message,
		}
		if strings.Contains(msg, "unlocked") {
			evt.Unlocked = boolPtr(true)
		} else if strings.Contains(msg, "locked") {
			evt.Unlocked = boolPtr(false)
		} else {
			return Event{}, false
		}
		return evt, true
	}

	return Event{}, false
}
