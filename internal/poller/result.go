package poller

import (
	"time"

	"go.uber.org/zap"
)

// Outcome classifies a cycle
type Outcome int

const (
	// OutcomeSkipped means a non-forced fetch found another cycle in flight.
	OutcomeSkipped Outcome = iota
	OutcomeSucceeded
	OutcomeAuthFailed
	OutcomeTransportFailed
	OutcomeCastFailed
	OutcomeHandlerFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeAuthFailed:
		return "auth_failed"
	case OutcomeTransportFailed:
		return "transport_failed"
	case OutcomeCastFailed:
		return "cast_failed"
	case OutcomeHandlerFailed:
		return "handler_failed"
	default:
		return "unknown"
	}
}

// Result describes one cycle. Err is nil for succeeded and skipped cycles.
type Result struct {
	Feed     string
	Outcome  Outcome
	Err      error
	Forced   bool
	Started  time.Time
	Duration time.Duration
}

// Ran reports whether the cycle contacted the transport.
func (r Result) Ran() bool {
	return r.Outcome != OutcomeSkipped && r.Outcome != OutcomeAuthFailed
}

// Observer receives every cycle result. Implementations must not block.
type Observer interface {
	ObserveCycle(Result)
}

// ObserverFunc is a function adapter for Observer
type ObserverFunc func(Result)

func (f ObserverFunc) ObserveCycle(r Result) { f(r) }

// Observers fans a result out to several observers
type Observers []Observer

func (os Observers) ObserveCycle(r Result) {
	for _, o := range os {
		if o != nil {
			o.ObserveCycle(r)
		}
	}
}

// LogObserver logs cycle results. Failures are warnings; handler and auth
// failures are errors because they point at local problems.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver creates a LogObserver
func NewLogObserver(logger *zap.Logger) *LogObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogObserver{logger: logger}
}

func (l *LogObserver) ObserveCycle(r Result) {
	fields := []zap.Field{
		zap.String("feed", r.Feed),
		zap.Stringer("outcome", r.Outcome),
		zap.Bool("forced", r.Forced),
		zap.Duration("duration", r.Duration),
	}

	switch r.Outcome {
	case OutcomeSucceeded:
		l.logger.Debug("feed refreshed", fields...)
	case OutcomeSkipped:
		l.logger.Debug("fetch skipped, cycle in flight", fields...)
	case OutcomeTransportFailed:
		l.logger.Warn("transport error", append(fields, zap.Error(r.Err))...)
	case OutcomeCastFailed:
		l.logger.Warn("validation error", append(fields, zap.Error(r.Err))...)
	default:
		l.logger.Error("feed cycle failed", append(fields, zap.Error(r.Err))...)
	}
}
