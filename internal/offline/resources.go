package offline

import (
	"context"
	"fmt"
	"sync"
)

// Resources owns the style pack manager and tile store for the lifetime of
// the process. Both are opened lazily; the style pack manager keeps the
// access token of its first caller until Reconfigure is called.
type Resources struct {
	backend Backend

	mu     sync.Mutex
	token  string
	styles StylePackManager
	tiles  TileStore
}

// NewResources wraps a backend without opening anything.
func NewResources(backend Backend) *Resources {
	return &Resources{backend: backend}
}

// StylePacks returns the style pack manager, opening it with accessToken on
// first use.
func (r *Resources) StylePacks(ctx context.Context, accessToken string) (StylePackManager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.styles != nil {
		return r.styles, nil
	}
	if r.backend == nil {
		return nil, fmt.Errorf("%w: no backend configured", ErrResourcesUnavailable)
	}
	m, err := r.backend.OpenStylePackManager(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: style pack manager: %w", ErrResourcesUnavailable, err)
	}
	r.styles = m
	r.token = accessToken
	return m, nil
}

// Tiles returns the tile store, opening it on first use.
func (r *Resources) Tiles(ctx context.Context) (TileStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tiles != nil {
		return r.tiles, nil
	}
	if r.backend == nil {
		return nil, fmt.Errorf("%w: no backend configured", ErrResourcesUnavailable)
	}
	ts, err := r.backend.OpenTileStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: tile store: %w", ErrResourcesUnavailable, err)
	}
	r.tiles = ts
	return ts, nil
}

// Reconfigure replaces the style pack manager with one opened for
// accessToken. On failure the current manager is kept.
func (r *Resources) Reconfigure(ctx context.Context, accessToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.backend == nil {
		return fmt.Errorf("%w: no backend configured", ErrResourcesUnavailable)
	}
	m, err := r.backend.OpenStylePackManager(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("%w: style pack manager: %w", ErrResourcesUnavailable, err)
	}
	r.styles = m
	r.token = accessToken
	return nil
}

// AccessToken returns the token the style pack manager was opened with.
func (r *Resources) AccessToken() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token, r.styles != nil
}
