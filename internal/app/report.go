package app

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/motion_classifier/internal/classifier"
	"github.com/relabs-tech/motion_classifier/internal/metrics"
)

// Cycle outcomes, as reported to observers and metrics.
const (
	OutcomeOK              = "ok"
	OutcomeClassifierError = "classifier_error"
	OutcomeEncodeError     = "encode_error"
	OutcomeUploadError     = "upload_error"
)

// UploadResult is one payload of a cycle.
type UploadResult struct {
	Path  string
	Bytes int
	Err   error
}

// Report describes one finished cycle.
type Report struct {
	Cycle       uint64
	Started     time.Time
	Duration    time.Duration
	Predictions []classifier.Prediction
	ClassifyErr error
	EncodeErr   error
	Uploads     []UploadResult
}

func (r Report) Outcome() string {
	switch {
	case r.ClassifyErr != nil:
		return OutcomeClassifierError
	case r.EncodeErr != nil:
		return OutcomeEncodeError
	}
	for _, u := range r.Uploads {
		if u.Err != nil {
			return OutcomeUploadError
		}
	}
	return OutcomeOK
}

// Observer is told about every finished cycle, from the cycle's goroutine.
type Observer interface {
	ObserveCycle(Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Report)

func (f ObserverFunc) ObserveCycle(r Report) { f(r) }

// LogObserver logs a one-line summary of each cycle.
type LogObserver struct{}

func (LogObserver) ObserveCycle(r Report) {
	var ev *zerolog.Event
	if r.Outcome() == OutcomeOK {
		ev = log.Info()
	} else {
		ev = log.Warn()
	}
	ev = ev.Uint64("cycle", r.Cycle).
		Str("outcome", r.Outcome()).
		Dur("took", r.Duration)
	if top := classifier.Top(r.Predictions, 1); len(top) == 1 {
		ev = ev.Str("label", top[0].Label).Float32("score", top[0].Score)
	}
	for _, u := range r.Uploads {
		ev = ev.Int(u.Path+"_bytes", u.Bytes)
	}
	ev.Msg("cycle finished")
}

// MetricsObserver feeds the prometheus collectors.
type MetricsObserver struct{}

func (MetricsObserver) ObserveCycle(r Report) {
	metrics.CyclesTotal.WithLabelValues(r.Outcome()).Inc()
	metrics.CycleDuration.Observe(r.Duration.Seconds())
	for _, p := range r.Predictions {
		metrics.PredictionScore.WithLabelValues(p.Label).Set(float64(p.Score))
	}
	for _, u := range r.Uploads {
		if u.Err != nil {
			metrics.UploadErrorsTotal.WithLabelValues(u.Path).Inc()
			continue
		}
		metrics.UploadBytesTotal.WithLabelValues(u.Path).Add(float64(u.Bytes))
	}
}
