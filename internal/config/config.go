// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything needed to reach and observe one panel partition.
type Config struct {
	// PanelURL is the base URL of the panel web service, e.g. https://panel.local:11001
	PanelURL string `env:"PANEL_URL,required"`
	Username string `env:"PANEL_USERNAME,required"`
	Password string `env:"PANEL_PASSWORD,required"`

	// PartitionID scopes discovery and the stream subscription.
	PartitionID int `env:"PANEL_PARTITION_ID,required"`

	// DefaultOverrideMinutes is used when a timed override gives no usable duration.
	DefaultOverrideMinutes int `env:"OVERRIDE_MINUTES" envDefault:"5"`

	// CacheRefreshInterval drives the temp-code and OTR schedule caches.
	CacheRefreshInterval time.Duration `env:"CACHE_REFRESH_INTERVAL" envDefault:"5m"`

	// SnapshotInterval drives the periodic door snapshot while the stream is up.
	SnapshotInterval time.Duration `env:"SNAPSHOT_INTERVAL" envDefault:"60s"`

	// HTTPTimeout bounds every panel API call.
	HTTPTimeout time.Duration `env:"PANEL_HTTP_TIMEOUT" envDefault:"10s"`

	// InsecureSkipVerify disables TLS verification; many panels ship
	// self-signed certificates.
	InsecureSkipVerify bool `env:"PANEL_INSECURE_SKIP_VERIFY" envDefault:"true"`

	// ListenAddr is the local HTTP API bind address.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8093"`

	// ArchivePath is the SQLite file holding the door event history.
	ArchivePath string `env:"ARCHIVE_PATH" envDefault:"./data/events.db"`

	// ArchiveRetention bounds how far back the event history is kept.
	ArchiveRetention time.Duration `env:"ARCHIVE_RETENTION" envDefault:"720h"`
}

// Load parses environment variables into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}

	cfg.PanelURL = strings.TrimRight(cfg.PanelURL, "/")
	if cfg.DefaultOverrideMinutes < 1 {
		cfg.DefaultOverrideMinutes = 5
	}

	return cfg, nil
}
