package batch

import (
	"sync"
	"time"
)

// EventType classifies messages emitted during batch execution.
type EventType string

const (
	EventTypeNewFile  EventType = "new_file"
	EventTypeProgress EventType = "progress"
	EventTypeSpeed    EventType = "speed"
	EventTypeFileDone EventType = "file_done"
	EventTypeAllDone  EventType = "all_done"
)

// Event is a sequenced payload consumed by UI subscribers. It is the
// only data crossing from the worker to the presentation layer.
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	BatchID   string    `json:"batchId"`
	Type      EventType `json:"type"`

	// new_file, progress, speed, file_done
	Index    int    `json:"index,omitempty"`
	Total    int    `json:"total,omitempty"`
	FileName string `json:"fileName,omitempty"`

	// progress
	Fraction       float64 `json:"fraction,omitempty"`
	OutTimeSeconds float64 `json:"outTimeSeconds,omitempty"`
	ETASeconds     float64 `json:"etaSeconds,omitempty"`
	HasETA         bool    `json:"hasEta,omitempty"`

	// speed and progress
	Speed string `json:"speed,omitempty"`

	// progress, file_done, all_done
	Completed         int     `json:"completed,omitempty"`
	AggregateFraction float64 `json:"aggregateFraction,omitempty"`

	// file_done
	OK      bool   `json:"ok,omitempty"`
	Message string `json:"message,omitempty"`

	// all_done
	Cancelled bool     `json:"cancelled,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
