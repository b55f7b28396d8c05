package offline

import (
	"context"
	"sync"

	"github.com/signalsfoundry/offline-maps/internal/events"
)

// LoadKind names one of the two concurrent loads of a session.
type LoadKind int

const (
	LoadStyle LoadKind = iota
	LoadTiles
)

func (k LoadKind) String() string {
	if k == LoadStyle {
		return "style"
	}
	return "tiles"
}

// update is one callback from the platform adapter, handed to the
// coordinator goroutine.
type update struct {
	kind     LoadKind
	progress LoadProgress
	done     bool
	err      error
}

// Session is one download of a region and its style pack.
type Session struct {
	id       string
	regionID string
	styleURL string
	sink     events.Sink

	updates  chan update
	finished chan struct{} // closed once the coordinator stops reading updates
	done     chan struct{} // closed once the terminal event has been emitted

	mu       sync.Mutex
	handles  []Cancelable
	canceled bool
	err      error
}

func newSession(id, regionID, styleURL string, sink events.Sink) *Session {
	return &Session{
		id:       id,
		regionID: regionID,
		styleURL: styleURL,
		sink:     sink,
		updates:  make(chan update, 16),
		finished: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the generated session id.
func (s *Session) ID() string { return s.id }

// RegionID returns the id of the tile region being loaded.
func (s *Session) RegionID() string { return s.regionID }

// Done is closed after the terminal event has been emitted.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the outcome once Done is closed: nil or a *RegionLoadError.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until the session settles or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post hands a callback to the coordinator. Callbacks arriving after both
// loads settled are dropped.
func (s *Session) post(u update) {
	select {
	case s.updates <- u:
	case <-s.finished:
	}
}

func (s *Session) progressFunc(kind LoadKind) ProgressFunc {
	return func(p LoadProgress) { s.post(update{kind: kind, progress: p}) }
}

func (s *Session) completionFunc(kind LoadKind) CompletionFunc {
	return func(err error) { s.post(update{kind: kind, done: true, err: err}) }
}

// track registers a load handle. A handle registered after a cancel request
// is canceled straight away.
func (s *Session) track(h Cancelable) {
	if h == nil {
		return
	}
	s.mu.Lock()
	canceled := s.canceled
	if !canceled {
		s.handles = append(s.handles, h)
	}
	s.mu.Unlock()

	if canceled {
		h.Cancel()
	}
}

// cancel cancels every tracked handle and returns how many there were.
func (s *Session) cancel() int {
	s.mu.Lock()
	s.canceled = true
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	return len(handles)
}

func (s *Session) settle(err error) {
	s.mu.Lock()
	s.err = err
	s.handles = nil
	s.mu.Unlock()
	close(s.done)
}
