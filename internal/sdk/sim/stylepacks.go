package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/offline-maps/internal/logging"
	"github.com/signalsfoundry/offline-maps/internal/offline"
	"github.com/signalsfoundry/offline-maps/model"
)

// Glyph ranges are 256 code points wide; the CJK unified ideographs block
// U+4E00..U+9FFF spans ranges 78 through 159.
const (
	glyphRangeCount     = 256
	ideographRangeFirst = 0x4E00 / 256
	ideographRangeLast  = 0x9FFF / 256
)

// styleResources lists the blob keys a style pack needs: the style
// document, the sprite sheet and its index, and every glyph range not
// rasterized locally.
func styleResources(styleURL string, mode model.GlyphsRasterizationMode) []string {
	base := styleResPrefix + escapeKey(styleURL) + "/"
	keys := []string{base + "style.json", base + "sprite.json", base + "sprite.png"}
	for _, r := range glyphRanges(mode) {
		keys = append(keys, fmt.Sprintf("%s%d-%d.pbf", glyphPrefix, r*256, r*256+255))
	}
	return keys
}

func glyphRanges(mode model.GlyphsRasterizationMode) []int {
	var ranges []int
	switch mode {
	case model.AllGlyphsRasterizedLocally:
		return nil
	case model.NoGlyphsRasterizedLocally:
		for r := 0; r < glyphRangeCount; r++ {
			ranges = append(ranges, r)
		}
	default:
		for r := 0; r < glyphRangeCount; r++ {
			if r >= ideographRangeFirst && r <= ideographRangeLast {
				continue
			}
			ranges = append(ranges, r)
		}
	}
	return ranges
}

// StylePacks implements offline.StylePackManager.
type StylePacks struct {
	backend *Backend
}

// LoadStylePack downloads every resource of a style and records the pack.
func (s *StylePacks) LoadStylePack(ctx context.Context, styleURL string, opts offline.StylePackLoadOptions, onProgress offline.ProgressFunc, onDone offline.CompletionFunc) (offline.Cancelable, error) {
	if styleURL == "" {
		return nil, fmt.Errorf("%w: empty style url", ErrInvalidRegion)
	}
	b := s.backend
	keys := styleResources(styleURL, opts.GlyphsRasterizationMode)
	log := logging.FromContextOr(ctx, b.log).With(logging.String("style_url", styleURL))

	fetch := func(ctx context.Context, i int) error {
		key := keys[i]
		if opts.AcceptExpired {
			if ok, err := b.bucket.Exists(ctx, key); err == nil && ok {
				return nil
			}
		}
		payload := []byte(fmt.Sprintf("%s\n%s\n", styleURL, key))
		if err := b.bucket.WriteAll(ctx, key, payload, nil); err != nil {
			return fmt.Errorf("sim: write %s: %w", key, err)
		}
		return nil
	}
	finish := func(ctx context.Context) error {
		rec := stylePackRecord{
			StyleURL:  styleURL,
			Mode:      opts.GlyphsRasterizationMode.String(),
			Completed: uint64(len(keys)),
			Required:  uint64(len(keys)),
			Metadata:  opts.Metadata,
			UpdatedAt: time.Now().UTC(),
		}
		if err := writeJSON(ctx, b.bucket, stylePackKey(styleURL), rec); err != nil {
			return err
		}
		log.Debug(ctx, "style pack stored", logging.Int("resources", len(keys)))
		return nil
	}
	return b.startLoad(ctx, len(keys), fetch, finish, onProgress, onDone), nil
}

// AllStylePacks lists stored style packs.
func (s *StylePacks) AllStylePacks(ctx context.Context) ([]offline.StylePack, error) {
	recs, err := listJSON[stylePackRecord](ctx, s.backend.bucket, stylePackPrefix)
	if err != nil {
		return nil, err
	}
	packs := make([]offline.StylePack, 0, len(recs))
	for _, r := range recs {
		packs = append(packs, offline.StylePack{
			StyleURL:                r.StyleURL,
			GlyphsRasterizationMode: model.ParseGlyphsRasterizationMode(r.Mode),
			CompletedResourceCount:  r.Completed,
			RequiredResourceCount:   r.Required,
			Metadata:                r.Metadata,
		})
	}
	return packs, nil
}

// RemoveStylePack deletes a style pack and its style resources. Glyph
// ranges are shared between styles and stay in place.
func (s *StylePacks) RemoveStylePack(ctx context.Context, styleURL string) error {
	bucket := s.backend.bucket
	key := stylePackKey(styleURL)
	if err := bucket.Delete(ctx, key); err != nil {
		if isNotExist(err) {
			return fmt.Errorf("style pack %q: %w", styleURL, offline.ErrNotFound)
		}
		return fmt.Errorf("sim: delete %s: %w", key, err)
	}
	return deletePrefix(ctx, bucket, styleResPrefix+escapeKey(styleURL)+"/")
}

// CreateTilesetDescriptor selects the tiles of styleURL over a zoom range.
func (s *StylePacks) CreateTilesetDescriptor(opts offline.TilesetDescriptorOptions) offline.TilesetDescriptor {
	return offline.TilesetDescriptor{
		StyleURL: opts.StyleURL,
		MinZoom:  min(opts.MinZoom, opts.MaxZoom),
		MaxZoom:  max(opts.MinZoom, opts.MaxZoom),
	}
}
