// Package bridge assembles the panel session, push stream, state
// mirror and caches into one runtime.
package bridge

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/door-panel-bridge/runtime/internal/archive"
	"github.com/door-panel-bridge/runtime/internal/config"
	"github.com/door-panel-bridge/runtime/internal/event"
	"github.com/door-panel-bridge/runtime/internal/panel"
	"github.com/door-panel-bridge/runtime/internal/state"
	"github.com/door-panel-bridge/runtime/internal/stream"
)

// Bridge is the live runtime for one panel partition.
type Bridge struct {
	cfg        *config.Config
	session    *panel.Session
	client     *panel.Client
	normalizer *event.Normalizer
	store      *state.Store
	dispatcher *state.Dispatcher
	caches     *state.Caches
	stream     *stream.Client
	archive    *archive.Archive
	refresher  *Refresher

	mu      sync.RWMutex
	doorIDs []int
}

// New wires up a bridge from configuration. events is an optional
// archive; pass nil to run without persistence.
func New(cfg *config.Config, events *archive.Archive) *Bridge {
	session := panel.NewSession(panel.Credentials{
		BaseURL:  cfg.PanelURL,
		Username: cfg.Username,
		Password: cfg.Password,
	}, cfg.HTTPTimeout, cfg.InsecureSkipVerify)

	client := panel.NewClient(session, cfg.PartitionID, cfg.DefaultOverrideMinutes)

	b := &Bridge{
		cfg:        cfg,
		session:    session,
		client:     client,
		dispatcher: state.NewDispatcher(),
		archive:    events,
	}
	b.store = state.NewStore(b.dispatcher)
	b.normalizer = event.NewNormalizer(b.refreshMaps)
	b.caches = state.NewCaches(client, nil)
	b.stream = stream.NewClient(session, b.normalizer, b.applyEvents, cfg.InsecureSkipVerify)
	b.refresher = NewRefresher(b)
	return b
}

// Client exposes the panel API client for command surfaces.
func (b *Bridge) Client() *panel.Client { return b.client }

// Store exposes the live door state mirror.
func (b *Bridge) Store() *state.Store { return b.store }

// Caches exposes the temp-code and OTR caches.
func (b *Bridge) Caches() *state.Caches { return b.caches }

// Archive exposes the persisted event history; nil when disabled.
func (b *Bridge) Archive() *archive.Archive { return b.archive }

// StreamStatus reports the push connection's counters.
func (b *Bridge) StreamStatus() stream.Status { return b.stream.Status() }

// Subscribe registers a state-change listener for one door; doorID 0
// listens to every door.
func (b *Bridge) Subscribe(doorID, buffer int) (<-chan state.Change, func()) {
	return b.dispatcher.Subscribe(doorID, buffer)
}

// Start authenticates, discovers the partition, seeds the mirror and
// launches the stream and periodic jobs. It returns once the runtime
// is live; ctx cancellation tears everything down.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.session.Connect(ctx); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	if err := b.Discover(ctx); err != nil {
		return fmt.Errorf("discovering partition: %w", err)
	}

	b.rehydrateLastLogs(ctx)
	b.caches.Refresh(ctx)
	b.refresher.Start(ctx)
	go b.stream.Run(ctx)

	log.Printf("[bridge] runtime started for partition %d", b.cfg.PartitionID)
	return nil
}

// SetCacheChangeNotify installs a callback fired whenever the temp-code
// or OTR caches pick up new data. Must be called before Start.
func (b *Bridge) SetCacheChangeNotify(fn func()) {
	b.caches.SetOnChange(fn)
}

// rehydrateLastLogs backfills each door's last log entry from the
// archive, so a restart does not blank the log until the next event.
func (b *Bridge) rehydrateLastLogs(ctx context.Context) {
	if b.archive == nil {
		return
	}
	records, err := b.archive.Latest(ctx)
	if err != nil {
		log.Printf("[bridge] rehydrating door logs: %v", err)
		return
	}
	for _, rec := range records {
		b.store.SeedLastLog(rec.DoorID, state.LogEntry{
			Actor:   rec.Actor,
			Message: rec.Message,
			Kind:    rec.Kind,
			At:      rec.At,
		})
	}
}

// Stop halts the periodic jobs. The stream stops with the Start
// context.
func (b *Bridge) Stop() {
	b.refresher.Stop()
}

// Discover re-fetches the partition's doors and routing maps, seeding
// the mirror and the caches.
func (b *Bridge) Discover(ctx context.Context) error {
	doors, err := b.client.ListDoors(ctx)
	if err != nil {
		return fmt.Errorf("listing doors: %w", err)
	}

	allowed := make(map[int]bool, len(doors))
	ids := make([]int, 0, len(doors))
	for _, d := range doors {
		allowed[d.ID] = true
		ids = append(ids, d.ID)
	}

	maps, err := b.client.FetchSystemMaps(ctx, allowed)
	if err != nil {
		return fmt.Errorf("fetching system maps: %w", err)
	}

	b.store.SeedDoors(doors)
	b.normalizer.SetMaps(maps, allowed)
	b.caches.SetDoors(ids)

	b.mu.Lock()
	b.doorIDs = ids
	b.mu.Unlock()

	log.Printf("[bridge] discovered %d doors, %d status routes", len(doors), len(maps.DoorByStatusID))
	return nil
}

// DoorIDs returns the partition's door IDs.
func (b *Bridge) DoorIDs() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]int(nil), b.doorIDs...)
}

// refreshMaps feeds the normalizer's unmapped-source retry.
func (b *Bridge) refreshMaps(ctx context.Context) (*panel.SystemMaps, error) {
	b.mu.RLock()
	ids := b.doorIDs
	b.mu.RUnlock()

	allowed := make(map[int]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	return b.client.FetchSystemMaps(ctx, allowed)
}

// applyEvents folds stream events into the mirror and the archive.
func (b *Bridge) applyEvents(events []event.Event) {
	for _, evt := range events {
		b.store.Apply(evt)
		if b.archive != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := b.archive.Append(ctx, evt); err != nil {
				log.Printf("[bridge] archiving event failed: %v", err)
			}
			cancel()
		}
	}
}

// Snapshot pulls the partition's doors once and reconciles the mirror.
// Push state newer than the snapshot wins per door.
func (b *Bridge) Snapshot(ctx context.Context) error {
	doors, err := b.client.ListDoors(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	dialect := b.stream.Dialect()
	fetchedAt := time.Now().UTC()
	for _, d := range doors {
		status := event.DecodeSnapshot(d, dialect, fetchedAt)
		for _, evt := range b.normalizer.NormalizeStatus(status) {
			b.store.Apply(evt)
		}
	}
	return nil
}
