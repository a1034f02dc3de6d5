package delivery

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Option defines a functional configuration type for the Engine.
type Option func(*Engine)

// WithPolicy sets the retry budget and base backoff interval.
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithClock replaces the wall clock used for backoff waits and timestamps.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the structured log sink.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for delivery counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) {
		if mp != nil {
			e.meterProvider = mp
		}
	}
}

// WithReportHook registers a callback invoked once per settled message.
// It runs on the settling goroutine and must not block.
func WithReportHook(fn func(Report)) Option {
	return func(e *Engine) {
		e.onReport = fn
	}
}

// WithSendTimeout bounds how long one attempt may wait for buffer space
// on the receiver's connection.
func WithSendTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.sendTimeout = d
	}
}

// WithPruneInterval configures how often the [JANITOR] drops entries that
// were never scheduled. Zero disables the janitor.
func WithPruneInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.pruneInterval = d
	}
}

// WithPendingTTL defines the [QUIET_PERIOD] after which an unscheduled
// entry is eligible for pruning.
func WithPendingTTL(d time.Duration) Option {
	return func(e *Engine) {
		e.pendingTTL = d
	}
}

// WithMaxInFlight caps concurrently running retry tasks. Zero means unbounded.
// While the cap is reached Enqueue blocks the calling read loop until a task
// finishes, and Close waits behind any such blocked Enqueue; Close cancels
// backoff waits first, so that wait ends after the running tasks' current
// send attempt.
func WithMaxInFlight(n int) Option {
	return func(e *Engine) {
		e.maxInFlight = n
	}
}

// WithSettledCacheSize sets how many settled message ids are remembered for
// classifying late acknowledgments.
func WithSettledCacheSize(n int) Option {
	return func(e *Engine) {
		e.settledSize = n
	}
}
