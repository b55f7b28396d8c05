// Package sim is an offline-maps backend that stands in for the native map
// SDK. Resources are "downloaded" in timed batches and persisted to a blob
// bucket, so tile regions and style packs survive restarts when the bucket
// is file-backed.
package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/offline-maps/internal/logging"
	"github.com/signalsfoundry/offline-maps/internal/offline"
	"gocloud.dev/blob"
)

var (
	// ErrUnauthorized is returned when a style pack manager is opened
	// without an access token.
	ErrUnauthorized = errors.New("sim: access token required")
	// ErrTooManyTiles is returned when a tile region covers more tiles
	// than Config.MaxTiles.
	ErrTooManyTiles = errors.New("sim: tile region exceeds tile limit")
	// ErrInvalidRegion is returned for tile regions without geometry or
	// tileset descriptors.
	ErrInvalidRegion = errors.New("sim: invalid tile region")
)

// Config tunes the simulated download speed and limits.
type Config struct {
	Step      time.Duration // delay between batches
	BatchSize int           // resources completed per batch
	MaxTiles  int           // upper bound on tiles per region
	TileSize  int           // bytes written per tile
	DiskQuota uint64        // tile cache quota, 0 means unlimited until SetDiskQuota
}

// DefaultConfig returns the values used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		Step:      50 * time.Millisecond,
		BatchSize: 16,
		MaxTiles:  100_000,
		TileSize:  4 << 10,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Step <= 0 {
		c.Step = def.Step
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxTiles <= 0 {
		c.MaxTiles = def.MaxTiles
	}
	if c.TileSize <= 0 {
		c.TileSize = def.TileSize
	}
	return c
}

// Backend implements offline.Backend on a blob bucket.
type Backend struct {
	bucket *blob.Bucket
	cfg    Config
	log    logging.Logger

	tiles *TileStore
}

// New creates a backend over bucket. The bucket stays owned by the caller.
func New(bucket *blob.Bucket, cfg Config, log logging.Logger) *Backend {
	if log == nil {
		log = logging.Noop()
	}
	b := &Backend{
		bucket: bucket,
		cfg:    cfg.withDefaults(),
		log:    log,
	}
	b.tiles = &TileStore{backend: b, quota: b.cfg.DiskQuota}
	return b
}

// OpenStylePackManager returns a style pack manager bound to accessToken.
func (b *Backend) OpenStylePackManager(ctx context.Context, accessToken string) (offline.StylePackManager, error) {
	if accessToken == "" {
		return nil, ErrUnauthorized
	}
	if err := b.ping(ctx); err != nil {
		return nil, err
	}
	return &StylePacks{backend: b}, nil
}

// OpenTileStore returns the process-wide tile store.
func (b *Backend) OpenTileStore(ctx context.Context) (offline.TileStore, error) {
	if err := b.ping(ctx); err != nil {
		return nil, err
	}
	return b.tiles, nil
}

func (b *Backend) ping(ctx context.Context) error {
	if b.bucket == nil {
		return errors.New("sim: no bucket")
	}
	ok, err := b.bucket.IsAccessible(ctx)
	if err != nil {
		return fmt.Errorf("sim: bucket not accessible: %w", err)
	}
	if !ok {
		return errors.New("sim: bucket not accessible")
	}
	return nil
}
