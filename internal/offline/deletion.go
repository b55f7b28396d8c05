package offline

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/offline-maps/internal/logging"
	"golang.org/x/sync/errgroup"
)

// DeleteAllTilesAndStyles removes every style pack and every tile region,
// then drops the tile cache quota to zero so unreferenced tiles are evicted.
// The two branches run concurrently and both run to completion; the result
// joins their failures. Listing failures fail a branch, individual removal
// failures are logged and skipped.
func (m *Manager) DeleteAllTilesAndStyles(ctx context.Context, accessToken string) error {
	styles, err := m.res.StylePacks(ctx, accessToken)
	if err != nil {
		return err
	}
	tiles, err := m.res.Tiles(ctx)
	if err != nil {
		return err
	}

	var (
		g                  errgroup.Group
		styleErr, tilesErr error
	)
	g.Go(func() error {
		styleErr = m.removeAllStylePacks(ctx, styles)
		return styleErr
	})
	g.Go(func() error {
		tilesErr = m.removeAllTileRegions(ctx, tiles)
		return tilesErr
	})
	_ = g.Wait()
	return errors.Join(styleErr, tilesErr)
}

func (m *Manager) removeAllStylePacks(ctx context.Context, styles StylePackManager) error {
	log := logging.FromContextOr(ctx, m.log)
	packs, err := styles.AllStylePacks(ctx)
	if err != nil {
		m.metrics.Deletion("style_pack", err)
		return fmt.Errorf("list style packs: %w", err)
	}
	for _, p := range packs {
		err := styles.RemoveStylePack(ctx, p.StyleURL)
		m.metrics.Deletion("style_pack", err)
		if err != nil {
			log.Warn(ctx, "style pack removal failed", logging.String("style_url", p.StyleURL), logging.Err(err))
		}
	}
	log.Info(ctx, "style packs removed", logging.Int("count", len(packs)))
	return nil
}

func (m *Manager) removeAllTileRegions(ctx context.Context, tiles TileStore) error {
	log := logging.FromContextOr(ctx, m.log)
	regions, err := tiles.AllTileRegions(ctx)
	if err != nil {
		m.metrics.Deletion("tile_region", err)
		return fmt.Errorf("list tile regions: %w", err)
	}
	for _, r := range regions {
		err := tiles.RemoveTileRegion(ctx, r.ID)
		if errors.Is(err, ErrNotFound) {
			err = nil
		}
		m.metrics.Deletion("tile_region", err)
		if err != nil {
			log.Warn(ctx, "tile region removal failed", logging.String("region_id", r.ID), logging.Err(err))
		}
	}
	if err := tiles.SetDiskQuota(ctx, 0); err != nil {
		return fmt.Errorf("evict tiles: %w", err)
	}
	log.Info(ctx, "tile regions removed", logging.Int("count", len(regions)))
	return nil
}
