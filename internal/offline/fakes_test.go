package offline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalsfoundry/offline-maps/internal/events"
)

type fakeLoad struct {
	id       string
	progress ProgressFunc
	done     CompletionFunc
	canceled atomic.Bool
}

func (l *fakeLoad) Cancel() { l.canceled.Store(true) }

func (l *fakeLoad) report(completed, required uint64) {
	l.progress(LoadProgress{CompletedResourceCount: completed, RequiredResourceCount: required})
}

type fakeStyles struct {
	token    string
	loads    chan *fakeLoad
	startErr error

	mu        sync.Mutex
	packs     []StylePack
	listErr   error
	removeErr map[string]error
	removed   []string
}

func newFakeStyles(token string) *fakeStyles {
	return &fakeStyles{token: token, loads: make(chan *fakeLoad, 4)}
}

func (f *fakeStyles) LoadStylePack(_ context.Context, styleURL string, _ StylePackLoadOptions, onProgress ProgressFunc, onDone CompletionFunc) (Cancelable, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	l := &fakeLoad{id: styleURL, progress: onProgress, done: onDone}
	f.loads <- l
	return l, nil
}

func (f *fakeStyles) AllStylePacks(context.Context) ([]StylePack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]StylePack(nil), f.packs...), nil
}

func (f *fakeStyles) RemoveStylePack(_ context.Context, styleURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeErr[styleURL]; err != nil {
		return err
	}
	f.removed = append(f.removed, styleURL)
	return nil
}

func (f *fakeStyles) CreateTilesetDescriptor(opts TilesetDescriptorOptions) TilesetDescriptor {
	return TilesetDescriptor(opts)
}

type fakeTiles struct {
	loads    chan *fakeLoad
	startErr error

	mu        sync.Mutex
	lastOpts  TileRegionLoadOptions
	regions   []TileRegion
	listErr   error
	removeErr map[string]error
	removed   []string
	quota     *uint64
}

func newFakeTiles() *fakeTiles {
	return &fakeTiles{loads: make(chan *fakeLoad, 4)}
}

func (f *fakeTiles) LoadTileRegion(_ context.Context, id string, opts TileRegionLoadOptions, onProgress ProgressFunc, onDone CompletionFunc) (Cancelable, error) {
	f.mu.Lock()
	f.lastOpts = opts
	f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	l := &fakeLoad{id: id, progress: onProgress, done: onDone}
	f.loads <- l
	return l, nil
}

func (f *fakeTiles) AllTileRegions(context.Context) ([]TileRegion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]TileRegion(nil), f.regions...), nil
}

func (f *fakeTiles) RemoveTileRegion(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeErr[id]; err != nil {
		return err
	}
	for i, r := range f.regions {
		if r.ID == id {
			f.regions = append(f.regions[:i], f.regions[i+1:]...)
			f.removed = append(f.removed, id)
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeTiles) SetDiskQuota(_ context.Context, bytes uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quota = &bytes
	return nil
}

type fakeBackend struct {
	tiles   *fakeTiles
	openErr error
	opening chan struct{} // signaled when a style pack manager open begins
	gate    chan struct{} // when set, opens wait for it

	mu     sync.Mutex
	styles []*fakeStyles
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{tiles: newFakeTiles()}
}

func (b *fakeBackend) OpenStylePackManager(_ context.Context, token string) (StylePackManager, error) {
	if b.opening != nil {
		b.opening <- struct{}{}
	}
	if b.gate != nil {
		<-b.gate
	}
	if b.openErr != nil {
		return nil, b.openErr
	}
	if token == "" {
		return nil, errors.New("unauthorized")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s := newFakeStyles(token)
	b.styles = append(b.styles, s)
	return s, nil
}

func (b *fakeBackend) OpenTileStore(context.Context) (TileStore, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	return b.tiles, nil
}

func (b *fakeBackend) currentStyles(t *testing.T) *fakeStyles {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.styles) == 0 {
		t.Fatalf("style pack manager never opened")
	}
	return b.styles[len(b.styles)-1]
}

// recordingSink keeps every event emitted before Close.
type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
	closed bool
}

func (r *recordingSink) add(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.events = append(r.events, ev)
	}
}

func (r *recordingSink) Start() { r.add(events.Event{Status: events.StatusStart}) }
func (r *recordingSink) StyleProgress(f float64) {
	r.add(events.Event{Status: events.StatusStyleProgress, Progress: f})
}
func (r *recordingSink) TileProgress(f float64) {
	r.add(events.Event{Status: events.StatusTileProgress, Progress: f})
}
func (r *recordingSink) Success() { r.add(events.Event{Status: events.StatusSuccess}) }
func (r *recordingSink) Cancel()  { r.add(events.Event{Status: events.StatusCancel}) }
func (r *recordingSink) Error(code, msg string, d map[string]any) {
	r.add(events.Event{Status: events.StatusError, Code: code, Message: msg, Details: d})
}

func (r *recordingSink) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recordingSink) snapshot() ([]events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...), r.closed
}

type fakeMetrics struct {
	mu        sync.Mutex
	started   int
	outcomes  []string
	deletions map[string]int
}

func (f *fakeMetrics) DownloadStarted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeMetrics) DownloadProgress(string, float64) {}

func (f *fakeMetrics) DownloadFinished(outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeMetrics) Deletion(kind string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deletions == nil {
		f.deletions = map[string]int{}
	}
	if err == nil {
		f.deletions[kind]++
	}
}

func nextLoad(t *testing.T, ch <-chan *fakeLoad) *fakeLoad {
	t.Helper()
	select {
	case l := <-ch:
		return l
	case <-time.After(2 * time.Second):
		t.Fatalf("load was not started")
		return nil
	}
}

func waitSession(t *testing.T, s *Session) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("session %s did not settle", s.ID())
	}
	return err
}
