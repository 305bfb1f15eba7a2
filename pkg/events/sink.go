package events

import (
	"context"
	"sync"
)

// Sink receives the ordered event stream of a run. Implementations must be
// safe for concurrent use: broadcast events are published from background
// goroutines.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

type discardSink struct{}

func (discardSink) Publish(context.Context, Event) error { return nil }

// Discard drops every event. Useful when running the engine headless.
var Discard Sink = discardSink{}

// Collector is an in-memory sink that records every event, used by tests and
// local tooling.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Publish appends the event.
func (c *Collector) Publish(_ context.Context, event Event) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	return nil
}

// Events returns a copy of everything published so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// OfType returns the recorded events of one kind, in publication order.
func (c *Collector) OfType(t Type) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// MultiSink fans one stream out to several sinks. Publish stops at the first
// sink error.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Publish forwards the event to every sink in order.
func (m *MultiSink) Publish(ctx context.Context, event Event) error {
	for _, s := range m.sinks {
		if err := s.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
