package offline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/signalsfoundry/offline-maps/internal/events"
	"github.com/signalsfoundry/offline-maps/internal/logging"
	"github.com/signalsfoundry/offline-maps/model"
)

const testToken = "pk.test"

func testRegion(id string) model.RegionDefinition {
	return model.RegionDefinition{
		ID:          id,
		Kind:        model.GeometryPoint,
		Coordinates: [][]float64{{10, 20}},
		Geometry:    orb.Point{10, 20},
		MapStyleURL: "mapbox://styles/test/streets",
		MinZoom:     4,
		MaxZoom:     12.7,
		Metadata:    map[string]string{"name": id},
	}
}

func testStyle() model.StyleDefinition {
	return model.StyleDefinition{
		MapStyleURL: "mapbox://styles/test/streets",
		Mode:        model.IdeographsRasterizedLocally,
	}
}

func newTestManager(opts ...Option) (*Manager, *fakeBackend) {
	b := newFakeBackend()
	return NewManager(NewResources(b), logging.Noop(), opts...), b
}

func statuses(evs []events.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = string(ev.Status)
		if ev.Code != "" {
			out[i] += ":" + ev.Code
		}
	}
	return out
}

func assertStatuses(t *testing.T, got []events.Event, want ...string) {
	t.Helper()
	gs := statuses(got)
	if len(gs) != len(want) {
		t.Fatalf("events = %v, want %v", gs, want)
	}
	for i := range want {
		if gs[i] != want[i] {
			t.Fatalf("events = %v, want %v", gs, want)
		}
	}
}

func TestStartDownloadSuccessEventOrder(t *testing.T) {
	metrics := &fakeMetrics{}
	mgr, b := newTestManager(WithMetrics(metrics), WithSessionIDs(func() string { return "s-1" }))
	sink := &recordingSink{}

	s, err := mgr.StartDownload(context.Background(), testRegion("r1"), testStyle(), sink, testToken)
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if id, ok := mgr.Active(); !ok || id != "s-1" {
		t.Fatalf("Active = %q, %v; want s-1, true", id, ok)
	}

	style := nextLoad(t, b.currentStyles(t).loads)
	tiles := nextLoad(t, b.tiles.loads)
	style.report(1, 4)
	style.report(2, 4)
	tiles.report(1, 2)
	style.done(nil)
	tiles.report(2, 2)
	tiles.done(nil)

	if err := waitSession(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	evs, closed := sink.snapshot()
	assertStatuses(t, evs, "start", "styleProgress", "styleProgress", "tileProgress", "tileProgress", "success")
	wantProgress := []float64{0.25, 0.5, 0.5, 1}
	for i, want := range wantProgress {
		if got := evs[i+1].Progress; math.Abs(got-want) > 1e-9 {
			t.Fatalf("event %d progress = %v, want %v", i+1, got, want)
		}
	}
	if !closed {
		t.Fatalf("sink not closed after terminal event")
	}
	if _, ok := mgr.Active(); ok {
		t.Fatalf("session still active after success")
	}
	if metrics.started != 1 || len(metrics.outcomes) != 1 || metrics.outcomes[0] != OutcomeSucceeded {
		t.Fatalf("metrics = %+v", metrics)
	}

	// A finished session frees the manager.
	s2, err := mgr.StartDownload(context.Background(), testRegion("r2"), testStyle(), nil, testToken)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	nextLoad(t, b.currentStyles(t).loads).done(nil)
	nextLoad(t, b.tiles.loads).done(nil)
	if err := waitSession(t, s2); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
}

func TestStartDownloadPassesTileOptions(t *testing.T) {
	mgr, b := newTestManager()
	region := testRegion("r1")
	s, err := mgr.StartDownload(context.Background(), region, testStyle(), nil, testToken)
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	nextLoad(t, b.currentStyles(t).loads).done(nil)
	nextLoad(t, b.tiles.loads).done(nil)
	_ = waitSession(t, s)

	opts := b.tiles.lastOpts
	if !opts.AcceptExpired {
		t.Fatalf("tile load must accept expired tiles")
	}
	if len(opts.Descriptors) != 1 {
		t.Fatalf("descriptors = %d, want 1", len(opts.Descriptors))
	}
	d := opts.Descriptors[0]
	if d.StyleURL != region.MapStyleURL || d.MinZoom != 4 || d.MaxZoom != 12 {
		t.Fatalf("descriptor = %+v", d)
	}
	if opts.Metadata["name"] != "r1" {
		t.Fatalf("metadata = %v", opts.Metadata)
	}
}

func TestStartDownloadRejectsConcurrentSession(t *testing.T) {
	mgr, b := newTestManager()
	first := &recordingSink{}
	s, err := mgr.StartDownload(context.Background(), testRegion("r1"), testStyle(), first, testToken)
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}

	second := &recordingSink{}
	if _, err := mgr.StartDownload(context.Background(), testRegion("r2"), testStyle(), second, testToken); !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("second start err = %v, want ErrAlreadyInProgress", err)
	}
	if evs, _ := second.snapshot(); len(evs) != 0 {
		t.Fatalf("rejected sink received %v", statuses(evs))
	}
	if id, ok := mgr.Active(); !ok || id != s.ID() {
		t.Fatalf("active session changed to %q", id)
	}

	nextLoad(t, b.currentStyles(t).loads).done(nil)
	nextLoad(t, b.tiles.loads).done(nil)
	if err := waitSession(t, s); err != nil {
		t.Fatalf("first session: %v", err)
	}
	evs, _ := first.snapshot()
	assertStatuses(t, evs, "start", "success")
}

func TestProgressNeverDecreases(t *testing.T) {
	mgr, b := newTestManager()
	sink := &recordingSink{}
	s, err := mgr.StartDownload(context.Background(), testRegion("r1"), testStyle(), sink, testToken)
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	style := nextLoad(t, b.currentStyles(t).loads)
	tiles := nextLoad(t, b.tiles.loads)
	style.report(3, 4)
	style.report(1, 4)
	style.report(0, 0)
	style.report(4, 4)
	style.done(nil)
	tiles.done(nil)
	_ = waitSession(t, s)

	evs, _ := sink.snapshot()
	assertStatuses(t, evs, "start", "styleProgress", "styleProgress", "success")
	if evs[1].Progress != 0.75 || evs[2].Progress != 1 {
		t.Fatalf("progress = %v, %v", evs[1].Progress, evs[2].Progress)
	}
}

func TestStyleFailureReportsSpecificThenAggregateError(t *testing.T) {
	metrics := &fakeMetrics{}
	mgr, b := newTestManager(WithMetrics(metrics))
	sink := &recordingSink{}
	s, err := mgr.StartDownload(context.Background(), testRegion("r1"), testStyle(), sink, testToken)
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	nextLoad(t, b.currentStyles(t).loads).done(errors.New("style unreachable"))
	nextLoad(t, b.tiles.loads).done(nil)

	err = waitSession(t, s)
	var rerr *RegionLoadError
	if !errors.As(err, &rerr) {
		t.Fatalf("Wait = %v, want *RegionLoadError", err)
	}
	var serr *StyleLoadError
	if !errors.As(err, &serr) || rerr.Tiles != nil {
		t.Fatalf("region error = %+v", rerr)
	}
	if rerr.Canceled() {
		t.Fatalf("failure reported as canceled")
	}

	evs, _ := sink.snapshot()
	assertStatuses(t, evs, "start", "error:"+CodeStyleLoadFailure, "error:"+CodeRegionLoadFailure)
	if evs[1].Message != "style unreachable" {
		t.Fatalf("specific message = %q", evs[1].Message)
	}
	if evs[2].Message != RegionLoadFailureMessage {
		t.Fatalf("aggregate message = %q", evs[2].Message)
	}
	if metrics.outcomes[0] != OutcomeFailed {
		t.Fatalf("outcome = %v", metrics.outcomes)
	}
}

func TestBothLoadsFailingEmitOneAggregateError(t *testing.T) {
	mgr, b := newTestManager()
	sink := &recordingSink{}
	s, err := mgr.StartDownload(context.Background(), testRegion("r1"), testStyle(), sink, testToken)
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	nextLoad(t, b.tiles.loads).done(errors.New("tiles gone"))
	nextLoad(t, b.currentStyles(t).loads).done(errors.New("style gone"))
	_ = waitSession(t, s)

	evs, _ := sink.snapshot()
	assertStatuses(t, evs, "start", "error:"+CodeTilesLoadFailure, "error:"+CodeStyleLoadFailure, "error:"+CodeRegionLoadFailure)
}

func TestLoadStartErrorCountsAsFailure(t *testing.T) {
	mgr, b := newTestManager()
	b.tiles.startErr = errors.New("descriptor rejected")
	sink := &recordingSink{}
	s, err := mgr.StartDownload(context.Background(), testRegion("r1"), testStyle(), sink, testToken)
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	nextLoad(t, b.currentStyles(t).loads).done(nil)

	var terr *TileLoadError
	if err := waitSession(t, s); !errors.As(err, &terr) {
		t.Fatalf("Wait = %v, want *TileLoadError", err)
	}
	evs, _ := sink.snapshot()
	assertStatuses(t, evs, "start", "error:"+CodeTilesLoadFailure, "error:"+CodeRegionLoadFailure)
}

func TestCancelDownloads(t *testing.T) {
	metrics := &fakeMetrics{}
	mgr, b := newTestManager(WithMetrics(metrics))
	if err := mgr.CancelDownloads(context.Background()); err != nil {
		t.Fatalf("cancel without session: %v", err)
	}

	sink := &recordingSink{}
	s, err := mgr.StartDownload(context.Background(), testRegion("r1"), testStyle(), sink, testToken)
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	style := nextLoad(t, b.currentStyles(t).loads)
	tiles := nextLoad(t, b.tiles.loads)

	if err := mgr.CancelDownloads(context.Background()); err != nil {
		t.Fatalf("CancelDownloads: %v", err)
	}
	if !style.canceled.Load() || !tiles.canceled.Load() {
		t.Fatalf("handles not canceled: style=%v tiles=%v", style.canceled.Load(), tiles.canceled.Load())
	}
	style.done(ErrCanceled)
	tiles.done(ErrCanceled)

	err = waitSession(t, s)
	var rerr *RegionLoadError
	if !errors.As(err, &rerr) || !rerr.Canceled() || !errors.Is(err, ErrCanceled) {
		t.Fatalf("Wait = %v, want canceled region error", err)
	}
	evs, _ := sink.snapshot()
	assertStatuses(t, evs, "start", "cancel", "error:"+CodeStyleLoadFailure, "error:"+CodeTilesLoadFailure, "error:"+CodeRegionLoadFailure)
	if metrics.outcomes[0] != OutcomeCanceled {
		t.Fatalf("outcome = %v", metrics.outcomes)
	}
}

func TestStalledObserverDoesNotWedgeSession(t *testing.T) {
	mgr, b := newTestManager()
	ch := events.NewChannel("region", 4)
	sub := ch.Attach() // never read
	defer sub.Detach()

	s, err := mgr.StartDownload(context.Background(), testRegion("r1"), testStyle(), ch, testToken)
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	style := nextLoad(t, b.currentStyles(t).loads)
	tiles := nextLoad(t, b.tiles.loads)
	for i := uint64(1); i <= 200; i++ {
		tiles.report(i, 200)
	}
	style.done(errors.New("boom"))
	tiles.done(nil)

	var rerr *RegionLoadError
	if err := waitSession(t, s); !errors.As(err, &rerr) || rerr.Style == nil {
		t.Fatalf("Wait = %v, want style failure", err)
	}
	if _, ok := mgr.Active(); ok {
		t.Fatalf("session still active")
	}

	next, err := mgr.StartDownload(context.Background(), testRegion("r2"), testStyle(), nil, testToken)
	if err != nil {
		t.Fatalf("second StartDownload: %v", err)
	}
	nextLoad(t, b.currentStyles(t).loads)
	nextLoad(t, b.tiles.loads)

	canceled := make(chan error, 1)
	go func() { canceled <- mgr.CancelDownloads(context.Background()) }()
	select {
	case err := <-canceled:
		if err != nil {
			t.Fatalf("CancelDownloads: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("CancelDownloads blocked")
	}
	if id, ok := mgr.Active(); !ok || id != next.ID() {
		t.Fatalf("active = %q, want %q", id, next.ID())
	}
}

func TestSlowResourceOpenDoesNotHoldManager(t *testing.T) {
	mgr, b := newTestManager()
	b.opening = make(chan struct{}, 1)
	b.gate = make(chan struct{})

	started := make(chan error, 1)
	var s *Session
	go func() {
		var err error
		s, err = mgr.StartDownload(context.Background(), testRegion("r1"), testStyle(), nil, testToken)
		started <- err
	}()
	select {
	case <-b.opening:
	case <-time.After(2 * time.Second):
		t.Fatalf("resources were not opened")
	}

	quick := make(chan struct{})
	go func() {
		defer close(quick)
		mgr.Active()
		_ = mgr.CancelDownloads(context.Background())
	}()
	select {
	case <-quick:
	case <-time.After(2 * time.Second):
		t.Fatalf("manager locked while opening resources")
	}
	if _, err := mgr.StartDownload(context.Background(), testRegion("r2"), testStyle(), nil, testToken); !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("start during open err = %v, want ErrAlreadyInProgress", err)
	}

	close(b.gate)
	if err := <-started; err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	nextLoad(t, b.currentStyles(t).loads).done(nil)
	nextLoad(t, b.tiles.loads).done(nil)
	if err := waitSession(t, s); err != nil {
		t.Fatalf("session: %v", err)
	}
}

func TestFailedOpenReleasesSlot(t *testing.T) {
	mgr, b := newTestManager()
	b.openErr = errors.New("disk gone")
	if _, err := mgr.StartDownload(context.Background(), testRegion("r1"), testStyle(), nil, testToken); err == nil {
		t.Fatalf("StartDownload succeeded with a failing backend")
	}
	b.openErr = nil
	s, err := mgr.StartDownload(context.Background(), testRegion("r1"), testStyle(), nil, testToken)
	if err != nil {
		t.Fatalf("StartDownload after failed open: %v", err)
	}
	nextLoad(t, b.currentStyles(t).loads).done(nil)
	nextLoad(t, b.tiles.loads).done(nil)
	if err := waitSession(t, s); err != nil {
		t.Fatalf("session: %v", err)
	}
}

func TestHandleTrackedAfterCancelIsCanceled(t *testing.T) {
	s := newSession("s", "r", "u", discardSink{})
	first := &fakeLoad{}
	s.track(first)
	if n := s.cancel(); n != 1 {
		t.Fatalf("cancel returned %d, want 1", n)
	}
	late := &fakeLoad{}
	s.track(late)
	if !first.canceled.Load() || !late.canceled.Load() {
		t.Fatalf("first=%v late=%v", first.canceled.Load(), late.canceled.Load())
	}
}

func TestWaitHonoursContext(t *testing.T) {
	s := newSession("s", "r", "u", discardSink{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
}

func TestStartDownloadResourcesUnavailable(t *testing.T) {
	mgr, _ := newTestManager()
	_, err := mgr.StartDownload(context.Background(), testRegion("r1"), testStyle(), nil, "")
	if !errors.Is(err, ErrResourcesUnavailable) {
		t.Fatalf("err = %v, want ErrResourcesUnavailable", err)
	}
	if _, ok := mgr.Active(); ok {
		t.Fatalf("failed start left a session active")
	}
}

func TestZoomLevel(t *testing.T) {
	tests := []struct {
		in   float64
		want uint8
	}{
		{-1, 0}, {0, 0}, {3.9, 3}, {22, 22}, {300, 255}, {math.NaN(), 0},
	}
	for _, tc := range tests {
		if got := zoomLevel(tc.in); got != tc.want {
			t.Fatalf("zoomLevel(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
