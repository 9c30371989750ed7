// Package metrics holds the prometheus collectors of both binaries and the
// /metrics HTTP endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Device side.
var (
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motion_cycles_total",
			Help: "Classification cycles by outcome",
		},
		[]string{"outcome"},
	)
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "motion_cycle_duration_seconds",
			Help:    "Wall time of a full cycle, sampling through upload",
			Buckets: []float64{1, 2, 4, 6, 8, 10, 15, 30},
		},
	)
	TriggersCoalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "motion_triggers_coalesced_total",
			Help: "Triggers folded into an already pending cycle",
		},
	)
	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motion_upload_bytes_total",
			Help: "Payload bytes uploaded by path",
		},
		[]string{"path"},
	)
	UploadErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motion_upload_errors_total",
			Help: "Failed uploads by path",
		},
		[]string{"path"},
	)
	PredictionScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "motion_prediction_score",
			Help: "Score of each label in the last successful cycle",
		},
		[]string{"label"},
	)
)

// Receiver side.
var (
	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motion_receiver_frames_total",
			Help: "Upload frames received by transport",
		},
		[]string{"transport"},
	)
	ReassemblyErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motion_receiver_reassembly_errors_total",
			Help: "Frames rejected by reason",
		},
		[]string{"reason"},
	)
	PayloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motion_receiver_payloads_total",
			Help: "Completed and decoded payloads by path",
		},
		[]string{"path"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx ends.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("metrics server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
