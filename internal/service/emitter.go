package service

import (
	"context"
	"log"
)

// ─────────────────────────────────────────────────────────────
// Event Emitter
// ─────────────────────────────────────────────────────────────

// EventEmitter is an interface for surfacing application events
// (save failures, page lifecycle) without binding services to a
// transport. Services receive this interface, which makes them
// independently testable with a mock emitter.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter writes events to the standard logger. Used as the default
// sink on the server, where events are operational signals rather than
// UI updates.
type LogEmitter struct{}

func (LogEmitter) Emit(_ context.Context, event string, data any) {
	log.Printf("event %s: %+v", event, data)
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}
