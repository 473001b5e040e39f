package telemetry

import (
	"context"

	"docqa/internal/logger"
)

// Options selects which sinks NewStack wires.
type Options struct {
	Enabled bool
	OTel    OTelConfig
	Metrics bool
}

// Stack is the assembled telemetry of the app.
type Stack struct {
	Recorder *Guard
	Metrics  *MetricsSink
	OTel     *OTelSink
}

// NewStack builds the configured sinks behind one Guard. A sink that cannot
// be created is logged and left out; the app runs without it.
func NewStack(ctx context.Context, opts Options, log logger.Logger) *Stack {
	st := &Stack{}
	var sinks Multi
	if opts.Enabled && opts.OTel.Enabled() {
		s, err := NewOTelSink(ctx, opts.OTel, log)
		if err != nil {
			log.Warn("telemetry", "tracing disabled", map[string]any{"error": err.Error()})
		} else {
			st.OTel = s
			sinks = append(sinks, s)
		}
	}
	if opts.Enabled && opts.Metrics {
		st.Metrics = NewMetricsSink()
		sinks = append(sinks, st.Metrics)
	}
	var sink Sink = Nop{}
	if len(sinks) > 0 {
		sink = sinks
	}
	st.Recorder = NewGuard(sink, log)
	return st
}

// Tracing reports whether events are exported to a tracing backend.
func (s *Stack) Tracing() bool { return s.OTel != nil }

func (s *Stack) Shutdown(ctx context.Context) error {
	if s.OTel == nil {
		return nil
	}
	return s.OTel.Shutdown(ctx)
}
