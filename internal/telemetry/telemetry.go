// Package telemetry records usage events to best-effort observability sinks.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docqa/internal/domain"
	"docqa/internal/logger"
)

// Event names.
const (
	EventSessionStart            = "session_start"
	EventDocumentsProcessed      = "documents_processed"
	EventDocumentProcessingError = "document_processing_error"
	EventQueryResponse           = "query_response"
	EventQueryError              = "query_error"
	EventClearChat               = "clear_chat"
	EventResetIndex              = "reset_index"
)

// Event is one usage record. Metadata values are strings, bools, ints,
// floats or string slices.
type Event struct {
	Name      string
	SessionID string
	Metadata  map[string]any
	Time      time.Time
}

// Sink delivers events to a backend.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Recorder is the fire-and-forget side used by the orchestrator.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Guard turns a Sink into a Recorder. Sink errors and panics are logged and
// never reach the caller.
type Guard struct {
	sink Sink
	log  logger.Logger
}

func NewGuard(sink Sink, log logger.Logger) *Guard {
	if sink == nil {
		sink = Nop{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Guard{sink: sink, log: log}
}

func (g *Guard) Record(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("telemetry", "sink panicked", map[string]any{
				"event": ev.Name,
				"error": fmt.Errorf("%w: panic: %v", domain.ErrTelemetry, r),
			})
		}
	}()
	if err := g.sink.Record(ctx, ev); err != nil {
		g.log.Warn("telemetry", "failed to record event", map[string]any{
			"event": ev.Name,
			"error": err.Error(),
		})
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrTelemetry, errors.Join(errs...))
	}
	return nil
}
