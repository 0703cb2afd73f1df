package events

import "context"

// Sink receives raffle events as they are emitted by the core.
//
// Emit is called inside the raffle's serialized critical section, so
// implementations should be fast and must not call back into the raffle.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) error { return nil }

// MemorySink retains emitted events in order. Intended for tests.
type MemorySink struct {
	Events []Event
}

func (s *MemorySink) Emit(_ context.Context, ev Event) error {
	s.Events = append(s.Events, ev)
	return nil
}
