// Package trigger decides when a classification cycle starts. Sources fire
// into a Coalescer, which keeps at most one cycle pending however many
// triggers arrive while a cycle is running.
package trigger

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/motion_classifier/internal/metrics"
)

// Coalescer is a single-slot trigger queue.
type Coalescer struct {
	c chan struct{}
}

func NewCoalescer() *Coalescer {
	return &Coalescer{c: make(chan struct{}, 1)}
}

// Fire requests a cycle. It never blocks; it reports false when a cycle was
// already pending and the trigger was folded into it.
func (q *Coalescer) Fire() bool {
	select {
	case q.c <- struct{}{}:
		return true
	default:
		metrics.TriggersCoalescedTotal.Inc()
		return false
	}
}

// C is the channel the cycle loop receives from.
func (q *Coalescer) C() <-chan struct{} {
	return q.c
}

// Periodic fires q every interval until ctx ends. The first trigger comes one
// interval after start.
func Periodic(ctx context.Context, interval time.Duration, q *Coalescer) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Msgf("trigger: periodic every %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !q.Fire() {
				log.Debug().Msg("trigger: cycle already pending, coalesced")
			}
		}
	}
}
