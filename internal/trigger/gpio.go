package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// edgePollTimeout bounds each WaitForEdge so cancellation is noticed.
const edgePollTimeout = 250 * time.Millisecond

// EdgeWaiter is the part of a periph input pin the edge loop uses.
type EdgeWaiter interface {
	WaitForEdge(timeout time.Duration) bool
}

// OpenGPIO configures the named pin as a pulled-up input that reports falling
// edges, the wiring of a push button or an open-drain event line.
func OpenGPIO(pinName string) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("trigger: periph host init: %w", err)
	}

	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("trigger: GPIO pin %q not found", pinName)
	}
	if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("trigger: configure %s: %w", pinName, err)
	}
	log.Info().Msgf("trigger: waiting for falling edges on %s", p.Name())
	return p, nil
}

// GPIOEdge fires q on every edge reported by pin until ctx ends.
func GPIOEdge(ctx context.Context, pin EdgeWaiter, q *Coalescer) {
	for ctx.Err() == nil {
		if !pin.WaitForEdge(edgePollTimeout) {
			continue
		}
		if !q.Fire() {
			log.Debug().Msg("trigger: cycle already pending, coalesced")
		}
	}
}
