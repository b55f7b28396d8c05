package events

import (
	"slices"
	"sync"
)

// DefaultBuffer is the per-observer queue length.
const DefaultBuffer = 64

// Channel is a named, push-only conduit bound to one download session. It
// implements Sink. Events emitted while no observer is attached are dropped.
//
// Emitting never blocks. Each observer has a bounded queue: when it is full,
// new progress events are dropped and other events evict the oldest queued
// progress event. A session emits only a handful of non-progress events, so
// a stalled observer costs at most a few entries past the limit.
type Channel struct {
	name   string
	buffer int

	mu        sync.Mutex
	observers map[*Subscription]struct{}
	closed    bool
	bound     bool
	done      chan struct{}
	onClose   func(*Channel)
	onIdle    func(*Channel)
}

// NewChannel creates an unbound channel. buffer <= 0 uses DefaultBuffer.
func NewChannel(name string, buffer int) *Channel {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Channel{
		name:      name,
		buffer:    buffer,
		observers: make(map[*Subscription]struct{}),
		done:      make(chan struct{}),
	}
}

// Name returns the channel name chosen by the caller.
func (c *Channel) Name() string { return c.name }

// Attach registers a new observer. Attaching to a closed channel yields a
// subscription that is already done.
func (c *Channel) Attach() *Subscription {
	s := &Subscription{
		parent: c,
		limit:  c.buffer,
		ready:  make(chan struct{}, 1),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.observers[s] = struct{}{}
	}
	return s
}

// Observers returns the number of attached observers.
func (c *Channel) Observers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.observers)
}

// Bind claims the channel for one download session. It reports false when
// the channel is closed or already bound.
func (c *Channel) Bind() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.bound {
		return false
	}
	c.bound = true
	return true
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) Start()                  { c.emit(Event{Status: StatusStart}) }
func (c *Channel) StyleProgress(f float64) { c.emit(Event{Status: StatusStyleProgress, Progress: f}) }
func (c *Channel) TileProgress(f float64)  { c.emit(Event{Status: StatusTileProgress, Progress: f}) }
func (c *Channel) Success()                { c.emit(Event{Status: StatusSuccess}) }
func (c *Channel) Cancel()                 { c.emit(Event{Status: StatusCancel}) }
func (c *Channel) Emit(ev Event)           { c.emit(ev) }

func (c *Channel) Error(code, message string, details map[string]any) {
	c.emit(Event{Status: StatusError, Code: code, Message: message, Details: details})
}

// Close ends the binding. Subscriptions report Done once they have drained
// every event delivered before Close.
func (c *Channel) Close() {
	if !c.markClosed(false) {
		return
	}
	c.mu.Lock()
	onClose := c.onClose
	c.mu.Unlock()
	if onClose != nil {
		onClose(c)
	}
}

// closeIfIdle closes a channel that no session has bound and nobody
// observes. It reports whether it closed the channel.
func (c *Channel) closeIfIdle() bool {
	return c.markClosed(true)
}

func (c *Channel) markClosed(onlyIdle bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if onlyIdle && (c.bound || len(c.observers) > 0) {
		return false
	}
	c.closed = true
	c.observers = make(map[*Subscription]struct{})
	close(c.done)
	return true
}

func (c *Channel) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for s := range c.observers {
		s.push(ev)
	}
}

func (c *Channel) detach(s *Subscription) {
	c.mu.Lock()
	delete(c.observers, s)
	idle := !c.closed && !c.bound && len(c.observers) == 0
	onIdle := c.onIdle
	c.mu.Unlock()

	if idle && onIdle != nil {
		onIdle(c)
	}
}

// Subscription is one observer's view of a Channel.
type Subscription struct {
	parent *Channel
	limit  int
	ready  chan struct{}
	once   sync.Once

	mu    sync.Mutex
	queue []Event
	gone  bool
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.limit {
		if ev.IsProgress() {
			s.mu.Unlock()
			return
		}
		if i := slices.IndexFunc(s.queue, Event.IsProgress); i >= 0 {
			s.queue = slices.Delete(s.queue, i, i+1)
		}
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Done is closed when the channel is closed.
func (s *Subscription) Done() <-chan struct{} { return s.parent.done }

// Detach stops delivery to this observer and drops its queue. It does not
// affect the session.
func (s *Subscription) Detach() {
	s.once.Do(func() {
		s.mu.Lock()
		s.gone = true
		s.queue = nil
		s.mu.Unlock()
		s.parent.detach(s)
	})
}

// Next blocks for the next event. It returns false once the channel is
// closed and drained, or when stop fires with nothing queued.
func (s *Subscription) Next(stop <-chan struct{}) (Event, bool) {
	for {
		if ev, ok := s.pop(); ok {
			return ev, true
		}
		select {
		case <-s.ready:
		case <-s.parent.done:
			return s.pop()
		case <-stop:
			return Event{}, false
		}
	}
}
