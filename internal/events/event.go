// Package events carries download progress and outcome notifications from
// the orchestrator to remote observers over named channels.
package events

import (
	"encoding/json"
	"math"
)

// Status identifies the kind of an event on the wire.
type Status string

const (
	StatusStart         Status = "start"
	StatusStyleProgress Status = "styleProgress"
	StatusTileProgress  Status = "tileProgress"
	StatusSuccess       Status = "success"
	StatusError         Status = "error"
	StatusCancel        Status = "cancel"
)

// Event is one notification for a download session.
type Event struct {
	Status   Status
	Progress float64        // set for styleProgress and tileProgress
	Code     string         // set for error
	Message  string         // set for error
	Details  map[string]any // optional, error only
}

// IsProgress reports whether the event is a progress update.
func (e Event) IsProgress() bool {
	return e.Status == StatusStyleProgress || e.Status == StatusTileProgress
}

// Map renders the event as the record sent to observers.
func (e Event) Map() map[string]any {
	m := map[string]any{"status": string(e.Status)}
	switch e.Status {
	case StatusStyleProgress, StatusTileProgress:
		m["progress"] = e.Progress
	case StatusError:
		m["code"] = e.Code
		m["message"] = e.Message
		if len(e.Details) > 0 {
			m["details"] = e.Details
		}
	}
	return m
}

// JSON encodes the wire record.
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e.Map())
}

// FromMap decodes a wire record produced by Map.
func FromMap(m map[string]any) Event {
	ev := Event{}
	if s, ok := m["status"].(string); ok {
		ev.Status = Status(s)
	}
	if p, ok := m["progress"].(float64); ok {
		ev.Progress = p
	}
	if s, ok := m["code"].(string); ok {
		ev.Code = s
	}
	if s, ok := m["message"].(string); ok {
		ev.Message = s
	}
	if d, ok := m["details"].(map[string]any); ok {
		ev.Details = d
	}
	return ev
}

// Fraction returns completed/required clamped to [0, 1], or 0 when nothing
// is required.
func Fraction(completed, required uint64) float64 {
	if required == 0 {
		return 0
	}
	f := float64(completed) / float64(required)
	return math.Max(0, math.Min(1, f))
}

// Sink receives the notifications of a single download session.
type Sink interface {
	Start()
	StyleProgress(fraction float64)
	TileProgress(fraction float64)
	Success()
	Error(code, message string, details map[string]any)
	Cancel()
	// Close marks the end of the session; nothing is emitted afterwards.
	Close()
}
