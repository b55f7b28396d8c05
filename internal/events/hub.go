package events

import (
	"sort"
	"sync"
)

// Hub maps channel names to live channels. A name is reusable once its
// channel has been closed. A channel that is neither bound to a session nor
// observed is closed and forgotten when its last observer detaches.
type Hub struct {
	buffer int

	mu       sync.Mutex
	channels map[string]*Channel
}

// NewHub creates an empty hub. buffer <= 0 uses DefaultBuffer.
func NewHub(buffer int) *Hub {
	return &Hub{
		buffer:   buffer,
		channels: make(map[string]*Channel),
	}
}

// Channel returns the live channel for name, creating it if needed.
func (h *Hub) Channel(name string) *Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channelLocked(name)
}

// Bind returns the live channel for name claimed for one session. ok is
// false when another session already holds the name.
func (h *Hub) Bind(name string) (ch *Channel, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch = h.channelLocked(name)
	return ch, ch.Bind()
}

// Subscribe attaches an observer to the live channel for name.
func (h *Hub) Subscribe(name string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channelLocked(name).Attach()
}

// Names lists live channel names in sorted order.
func (h *Hub) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.channels))
	for name := range h.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Hub) channelLocked(name string) *Channel {
	if ch, ok := h.channels[name]; ok && !ch.Closed() {
		return ch
	}
	ch := NewChannel(name, h.buffer)
	ch.onClose = h.remove
	ch.onIdle = h.dropIdle
	h.channels[name] = ch
	return ch
}

func (h *Hub) remove(ch *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forgetLocked(ch)
}

// dropIdle rechecks under the hub lock so a concurrent Subscribe or Bind on
// the same name keeps the channel alive.
func (h *Hub) dropIdle(ch *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch.closeIfIdle() {
		h.forgetLocked(ch)
	}
}

func (h *Hub) forgetLocked(ch *Channel) {
	if cur, ok := h.channels[ch.name]; ok && cur == ch {
		delete(h.channels, ch.name)
	}
}
