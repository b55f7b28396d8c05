package offline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/offline-maps/internal/events"
	"github.com/signalsfoundry/offline-maps/internal/logging"
	"github.com/signalsfoundry/offline-maps/model"
)

// Download outcomes reported to MetricsRecorder.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// MetricsRecorder receives orchestrator measurements.
type MetricsRecorder interface {
	DownloadStarted()
	DownloadProgress(kind string, fraction float64)
	DownloadFinished(outcome string, duration time.Duration)
	Deletion(kind string, err error)
}

type noopMetrics struct{}

func (noopMetrics) DownloadStarted()                       {}
func (noopMetrics) DownloadProgress(string, float64)       {}
func (noopMetrics) DownloadFinished(string, time.Duration) {}
func (noopMetrics) Deletion(string, error)                 {}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(mgr *Manager) {
		if m != nil {
			mgr.metrics = m
		}
	}
}

// WithSessionIDs overrides session id generation.
func WithSessionIDs(fn func() string) Option {
	return func(mgr *Manager) {
		if fn != nil {
			mgr.newID = fn
		}
	}
}

// Manager runs at most one download session at a time and serves the
// persisted-region queries.
type Manager struct {
	res     *Resources
	log     logging.Logger
	metrics MetricsRecorder
	newID   func() string

	mu       sync.Mutex
	active   *Session
	starting bool // a StartDownload is opening resources
}

// NewManager creates an idle manager over res.
func NewManager(res *Resources, log logging.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logging.Noop()
	}
	m := &Manager{
		res:     res,
		log:     log,
		metrics: noopMetrics{},
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Active returns the id of the running session, if any.
func (m *Manager) Active() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", false
	}
	return m.active.id, true
}

// StartDownload starts loading the style pack and the tile region of a
// definition. It returns once both loads have been launched; progress and
// the outcome are reported to sink, which is closed after the terminal
// event.
func (m *Manager) StartDownload(ctx context.Context, region model.RegionDefinition, style model.StyleDefinition, sink events.Sink, accessToken string) (*Session, error) {
	log := logging.FromContextOr(ctx, m.log)
	if sink == nil {
		sink = discardSink{}
	}

	m.mu.Lock()
	if m.active != nil || m.starting {
		id := "starting"
		if m.active != nil {
			id = m.active.id
		}
		m.mu.Unlock()
		log.Warn(ctx, "download rejected: session active",
			logging.String("region_id", region.ID),
			logging.SessionID(id),
		)
		return nil, fmt.Errorf("%w: session %s", ErrAlreadyInProgress, id)
	}
	m.starting = true
	m.mu.Unlock()

	styles, tiles, err := m.open(ctx, accessToken)
	m.mu.Lock()
	m.starting = false
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	s := newSession(m.newID(), region.ID, style.MapStyleURL, sink)
	m.active = s
	m.mu.Unlock()

	log = log.With(logging.SessionID(s.id), logging.String("region_id", region.ID))
	log.Info(ctx, "download started",
		logging.String("style_url", style.MapStyleURL),
		logging.String("geometry", string(region.Kind)),
		logging.Float64("min_zoom", region.MinZoom),
		logging.Float64("max_zoom", region.MaxZoom),
	)
	m.metrics.DownloadStarted()

	// Loads outlive the request that started them.
	runCtx := context.WithoutCancel(ctx)

	sink.Start()
	go m.coordinate(runCtx, s, log)
	m.launchStyle(runCtx, s, styles, style, log)
	m.launchTiles(runCtx, s, styles, tiles, region, log)
	return s, nil
}

// open resolves the backends of a session. It runs outside m.mu since
// opening may touch the blob store.
func (m *Manager) open(ctx context.Context, accessToken string) (StylePackManager, TileStore, error) {
	styles, err := m.res.StylePacks(ctx, accessToken)
	if err != nil {
		return nil, nil, err
	}
	tiles, err := m.res.Tiles(ctx)
	if err != nil {
		return nil, nil, err
	}
	return styles, tiles, nil
}

func (m *Manager) launchStyle(ctx context.Context, s *Session, styles StylePackManager, style model.StyleDefinition, log logging.Logger) {
	opts := StylePackLoadOptions{
		GlyphsRasterizationMode: style.Mode,
		Metadata:                style.Metadata,
		AcceptExpired:           false,
	}
	h, err := styles.LoadStylePack(ctx, style.MapStyleURL, opts, s.progressFunc(LoadStyle), s.completionFunc(LoadStyle))
	if err != nil {
		log.Warn(ctx, "style pack load did not start", logging.Err(err))
		go s.post(update{kind: LoadStyle, done: true, err: err})
		return
	}
	s.track(h)
}

func (m *Manager) launchTiles(ctx context.Context, s *Session, styles StylePackManager, tiles TileStore, region model.RegionDefinition, log logging.Logger) {
	desc := styles.CreateTilesetDescriptor(TilesetDescriptorOptions{
		StyleURL: region.MapStyleURL,
		MinZoom:  zoomLevel(region.MinZoom),
		MaxZoom:  zoomLevel(region.MaxZoom),
	})
	opts := TileRegionLoadOptions{
		Geometry:      region.Geometry,
		Descriptors:   []TilesetDescriptor{desc},
		Metadata:      region.Metadata,
		AcceptExpired: true,
	}
	h, err := tiles.LoadTileRegion(ctx, region.ID, opts, s.progressFunc(LoadTiles), s.completionFunc(LoadTiles))
	if err != nil {
		log.Warn(ctx, "tile region load did not start", logging.Err(err))
		go s.post(update{kind: LoadTiles, done: true, err: err})
		return
	}
	s.track(h)
}

// coordinate serializes every callback of a session and emits its events.
func (m *Manager) coordinate(ctx context.Context, s *Session, log logging.Logger) {
	started := time.Now()
	var (
		last     [2]float64
		settled  [2]bool
		styleErr *StyleLoadError
		tileErr  *TileLoadError
	)

	for !settled[LoadStyle] || !settled[LoadTiles] {
		u := <-s.updates
		if settled[u.kind] {
			continue
		}
		if !u.done {
			f := events.Fraction(u.progress.CompletedResourceCount, u.progress.RequiredResourceCount)
			if f < last[u.kind] {
				continue
			}
			last[u.kind] = f
			if u.kind == LoadStyle {
				s.sink.StyleProgress(f)
			} else {
				s.sink.TileProgress(f)
			}
			m.metrics.DownloadProgress(u.kind.String(), f)
			continue
		}

		settled[u.kind] = true
		if u.err == nil {
			log.Debug(ctx, "load finished", logging.String("kind", u.kind.String()))
			continue
		}
		log.Warn(ctx, "load failed", logging.String("kind", u.kind.String()), logging.Err(u.err))
		if u.kind == LoadStyle {
			styleErr = &StyleLoadError{StyleURL: s.styleURL, Err: u.err}
			s.sink.Error(CodeStyleLoadFailure, u.err.Error(), nil)
		} else {
			tileErr = &TileLoadError{RegionID: s.regionID, Err: u.err}
			s.sink.Error(CodeTilesLoadFailure, u.err.Error(), nil)
		}
	}
	close(s.finished)

	var err error
	outcome := OutcomeSucceeded
	if styleErr != nil || tileErr != nil {
		rerr := &RegionLoadError{RegionID: s.regionID, Style: styleErr, Tiles: tileErr}
		err = rerr
		outcome = OutcomeFailed
		if rerr.Canceled() {
			outcome = OutcomeCanceled
		}
	}

	m.release(s)
	if err == nil {
		s.sink.Success()
	} else {
		s.sink.Error(CodeRegionLoadFailure, RegionLoadFailureMessage, nil)
	}
	s.sink.Close()

	elapsed := time.Since(started)
	m.metrics.DownloadFinished(outcome, elapsed)
	log.Info(ctx, "download finished",
		logging.String("outcome", outcome),
		logging.String("duration", elapsed.String()),
	)
	s.settle(err)
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == s {
		m.active = nil
	}
}

// CancelDownloads cancels the running session, if any, and emits cancel on
// its sink. The loads then settle with ErrCanceled and the session ends
// through the usual failure path.
func (m *Manager) CancelDownloads(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()

	log := logging.FromContextOr(ctx, m.log)
	if s == nil {
		log.Debug(ctx, "cancel requested with no active session")
		return nil
	}
	n := s.cancel()
	s.sink.Cancel()
	log.Info(ctx, "download canceled", logging.SessionID(s.id), logging.Int("handles", n))
	return nil
}

// DownloadedRegionIDs lists the ids of every persisted tile region in store
// order.
func (m *Manager) DownloadedRegionIDs(ctx context.Context) ([]string, error) {
	tiles, err := m.res.Tiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	regions, err := tiles.AllTileRegions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	ids := make([]string, 0, len(regions))
	for _, r := range regions {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// DeleteTilesByIDs removes the given tile regions. Unknown ids are ignored;
// other removal failures are joined into the returned error after every id
// has been attempted.
func (m *Manager) DeleteTilesByIDs(ctx context.Context, ids []string) error {
	tiles, err := m.res.Tiles(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	log := logging.FromContextOr(ctx, m.log)

	var errs []error
	for _, id := range ids {
		err := tiles.RemoveTileRegion(ctx, id)
		if errors.Is(err, ErrNotFound) {
			err = nil
		}
		m.metrics.Deletion("tile_region", err)
		if err != nil {
			log.Warn(ctx, "tile region removal failed", logging.String("region_id", id), logging.Err(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type discardSink struct{}

func (discardSink) Start()                               {}
func (discardSink) StyleProgress(float64)                {}
func (discardSink) TileProgress(float64)                 {}
func (discardSink) Success()                             {}
func (discardSink) Error(string, string, map[string]any) {}
func (discardSink) Cancel()                              {}
func (discardSink) Close()                               {}

// zoomLevel truncates a zoom to the byte range used by tileset descriptors.
func zoomLevel(z float64) uint8 {
	switch {
	case math.IsNaN(z) || z <= 0:
		return 0
	case z >= math.MaxUint8:
		return math.MaxUint8
	default:
		return uint8(z)
	}
}
