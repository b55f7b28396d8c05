package offline

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/signalsfoundry/offline-maps/model"
)

// Cancelable is returned by every load call and stops the load it belongs
// to. Cancellation is cooperative: the load still reports completion, with
// an error wrapping ErrCanceled.
type Cancelable interface {
	Cancel()
}

// CancelFunc adapts a function to Cancelable.
type CancelFunc func()

// Cancel calls f.
func (f CancelFunc) Cancel() { f() }

// LoadProgress reports resource counts for an in-flight load.
type LoadProgress struct {
	CompletedResourceCount uint64
	RequiredResourceCount  uint64
}

// ProgressFunc receives progress for one load. It may be called from any
// goroutine.
type ProgressFunc func(LoadProgress)

// CompletionFunc is called exactly once when a load settles; err is nil on
// success.
type CompletionFunc func(err error)

// StylePackLoadOptions configures a style pack load.
type StylePackLoadOptions struct {
	GlyphsRasterizationMode model.GlyphsRasterizationMode
	Metadata                map[string]string
	AcceptExpired           bool
}

// StylePack is a persisted style pack.
type StylePack struct {
	StyleURL                string
	GlyphsRasterizationMode model.GlyphsRasterizationMode
	CompletedResourceCount  uint64
	RequiredResourceCount   uint64
	Metadata                map[string]string
}

// TilesetDescriptorOptions selects the tiles of a style over a zoom range.
type TilesetDescriptorOptions struct {
	StyleURL string
	MinZoom  uint8
	MaxZoom  uint8
}

// TilesetDescriptor identifies the tiles belonging to a tile region.
type TilesetDescriptor struct {
	StyleURL string
	MinZoom  uint8
	MaxZoom  uint8
}

// TileRegionLoadOptions configures a tile region load.
type TileRegionLoadOptions struct {
	Geometry    orb.Geometry
	Descriptors []TilesetDescriptor
	Metadata    map[string]string
	// AcceptExpired keeps stale cached tiles instead of fetching them again.
	AcceptExpired bool
}

// TileRegion is a persisted tile region.
type TileRegion struct {
	ID                     string
	CompletedResourceCount uint64
	RequiredResourceCount  uint64
	CompletedResourceSize  uint64
	Metadata               map[string]string
}

// StylePackManager loads, lists and removes style packs.
type StylePackManager interface {
	LoadStylePack(ctx context.Context, styleURL string, opts StylePackLoadOptions, onProgress ProgressFunc, onDone CompletionFunc) (Cancelable, error)
	AllStylePacks(ctx context.Context) ([]StylePack, error)
	RemoveStylePack(ctx context.Context, styleURL string) error
	CreateTilesetDescriptor(opts TilesetDescriptorOptions) TilesetDescriptor
}

// TileStore loads, lists and removes tile regions.
type TileStore interface {
	LoadTileRegion(ctx context.Context, id string, opts TileRegionLoadOptions, onProgress ProgressFunc, onDone CompletionFunc) (Cancelable, error)
	AllTileRegions(ctx context.Context) ([]TileRegion, error)
	// RemoveTileRegion detaches the region's tiles. Removing an unknown id
	// returns nil or an error wrapping ErrNotFound.
	RemoveTileRegion(ctx context.Context, id string) error
	// SetDiskQuota caps the tile cache; tiles no longer referenced by any
	// region are evicted until the cache fits.
	SetDiskQuota(ctx context.Context, bytes uint64) error
}

// Backend is the platform adapter the orchestrator runs on.
type Backend interface {
	OpenStylePackManager(ctx context.Context, accessToken string) (StylePackManager, error)
	OpenTileStore(ctx context.Context) (TileStore, error)
}
