package sim

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
	"github.com/signalsfoundry/offline-maps/internal/logging"
	"github.com/signalsfoundry/offline-maps/internal/offline"
	"gocloud.dev/blob"
)

// TileStore implements offline.TileStore. Tiles live in a cache shared by
// every region; a region record lists the tiles it references.
type TileStore struct {
	backend *Backend

	mu       sync.Mutex // serializes region records and eviction
	quota    uint64
	quotaSet bool
}

func tileKey(t maptile.Tile) string {
	return fmt.Sprintf("%s%d/%d/%d", tilePrefix, t.Z, t.X, t.Y)
}

// coverTiles returns the union of tiles covering geom at every zoom of
// every descriptor, ordered by zoom, then x, then y.
func coverTiles(geom orb.Geometry, descs []offline.TilesetDescriptor, limit int) ([]maptile.Tile, error) {
	set := maptile.Set{}
	bound := geom.Bound()
	for _, d := range descs {
		for z := int(d.MinZoom); z <= int(d.MaxZoom); z++ {
			zoom := maptile.Zoom(z)
			// The bound's tile range caps the cover; refuse to compute
			// covers that are hopeless anyway.
			if boundTileCount(bound, zoom) > uint64(limit)*64 {
				return nil, fmt.Errorf("%w: zoom %d alone exceeds %d tiles", ErrTooManyTiles, z, limit)
			}
			tiles, err := tilecover.Geometry(geom, zoom)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidRegion, err)
			}
			for t := range tiles {
				set[t] = true
			}
			if len(set) > limit {
				return nil, fmt.Errorf("%w: more than %d tiles", ErrTooManyTiles, limit)
			}
		}
	}

	out := make([]maptile.Tile, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
	return out, nil
}

func boundTileCount(b orb.Bound, z maptile.Zoom) uint64 {
	minT := maptile.At(b.Min, z)
	maxT := maptile.At(b.Max, z)
	dx := absDiff(maxT.X, minT.X) + 1
	dy := absDiff(maxT.Y, minT.Y) + 1
	return uint64(dx) * uint64(dy)
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func (s *TileStore) tilePayload(t maptile.Tile) []byte {
	header := []byte(tileKey(t) + "\n")
	size := s.backend.cfg.TileSize
	if size <= len(header) {
		return header
	}
	return append(header, bytes.Repeat([]byte{byte(t.Z)}, size-len(header))...)
}

// LoadTileRegion downloads every tile covering opts.Geometry and records
// the region once all of them are stored.
func (s *TileStore) LoadTileRegion(ctx context.Context, id string, opts offline.TileRegionLoadOptions, onProgress offline.ProgressFunc, onDone offline.CompletionFunc) (offline.Cancelable, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidRegion)
	}
	if opts.Geometry == nil {
		return nil, fmt.Errorf("%w: region %q has no geometry", ErrInvalidRegion, id)
	}
	if len(opts.Descriptors) == 0 {
		return nil, fmt.Errorf("%w: region %q has no tileset descriptors", ErrInvalidRegion, id)
	}
	b := s.backend
	tiles, err := coverTiles(opts.Geometry, opts.Descriptors, b.cfg.MaxTiles)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(tiles))
	for i, t := range tiles {
		keys[i] = tileKey(t)
	}
	log := logging.FromContextOr(ctx, b.log).With(logging.String("region_id", id))
	log.Debug(ctx, "tile region covered", logging.Int("tiles", len(tiles)))

	var size uint64
	fetch := func(ctx context.Context, i int) error {
		if opts.AcceptExpired {
			if attrs, err := b.bucket.Attributes(ctx, keys[i]); err == nil {
				size += uint64(attrs.Size)
				return nil
			}
		}
		payload := s.tilePayload(tiles[i])
		if err := b.bucket.WriteAll(ctx, keys[i], payload, nil); err != nil {
			return fmt.Errorf("sim: write %s: %w", keys[i], err)
		}
		size += uint64(len(payload))
		return nil
	}
	finish := func(ctx context.Context) error {
		rec := regionRecord{
			ID:        id,
			Tiles:     keys,
			Completed: uint64(len(keys)),
			Required:  uint64(len(keys)),
			Size:      size,
			Metadata:  opts.Metadata,
			UpdatedAt: time.Now().UTC(),
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := writeJSON(ctx, b.bucket, regionKey(id), rec); err != nil {
			return err
		}
		log.Info(ctx, "tile region stored",
			logging.Int("tiles", len(keys)),
			logging.String("size", humanize.Bytes(size)),
		)
		if s.quotaSet {
			return s.evict(ctx, s.quota)
		}
		return nil
	}
	return b.startLoad(ctx, len(keys), fetch, finish, onProgress, onDone), nil
}

// AllTileRegions lists stored regions in id key order.
func (s *TileStore) AllTileRegions(ctx context.Context) ([]offline.TileRegion, error) {
	recs, err := listJSON[regionRecord](ctx, s.backend.bucket, regionPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]offline.TileRegion, 0, len(recs))
	for _, r := range recs {
		out = append(out, offline.TileRegion{
			ID:                     r.ID,
			CompletedResourceCount: r.Completed,
			RequiredResourceCount:  r.Required,
			CompletedResourceSize:  r.Size,
			Metadata:               r.Metadata,
		})
	}
	return out, nil
}

// RemoveTileRegion deletes the region record. Its tiles stay cached until
// the disk quota evicts them.
func (s *TileStore) RemoveTileRegion(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := regionKey(id)
	if err := s.backend.bucket.Delete(ctx, key); err != nil {
		if isNotExist(err) {
			return fmt.Errorf("tile region %q: %w", id, offline.ErrNotFound)
		}
		return fmt.Errorf("sim: delete %s: %w", key, err)
	}
	return nil
}

// SetDiskQuota caps the tile cache and evicts unreferenced tiles until it
// fits.
func (s *TileStore) SetDiskQuota(ctx context.Context, quota uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quota = quota
	s.quotaSet = true
	return s.evict(ctx, quota)
}

// evict deletes unreferenced tiles, in key order, until the cache holds at
// most quota bytes. Callers hold s.mu.
func (s *TileStore) evict(ctx context.Context, quota uint64) error {
	bucket := s.backend.bucket
	recs, err := listJSON[regionRecord](ctx, bucket, regionPrefix)
	if err != nil {
		return err
	}
	referenced := make(map[string]bool)
	for _, r := range recs {
		for _, k := range r.Tiles {
			referenced[k] = true
		}
	}

	type candidate struct {
		key  string
		size uint64
	}
	var (
		total      uint64
		candidates []candidate
	)
	iter := bucket.List(&blob.ListOptions{Prefix: tilePrefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("sim: list %s: %w", tilePrefix, err)
		}
		if obj.IsDir {
			continue
		}
		total += uint64(obj.Size)
		if !referenced[obj.Key] {
			candidates = append(candidates, candidate{key: obj.Key, size: uint64(obj.Size)})
		}
	}
	if total <= quota {
		return nil
	}

	var freed uint64
	evicted := 0
	for _, c := range candidates {
		if total <= quota {
			break
		}
		if err := bucket.Delete(ctx, c.key); err != nil && !isNotExist(err) {
			return fmt.Errorf("sim: evict %s: %w", c.key, err)
		}
		total -= c.size
		freed += c.size
		evicted++
	}
	s.backend.log.Info(ctx, "tile cache evicted",
		logging.Int("tiles", evicted),
		logging.String("freed", humanize.Bytes(freed)),
		logging.String("cache", humanize.Bytes(total)),
		logging.String("quota", humanize.Bytes(quota)),
	)
	return nil
}
