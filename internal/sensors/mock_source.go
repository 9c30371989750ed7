// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"

	"github.com/relabs-tech/motion_classifier/internal/sample"
)

// MockSource generates a smooth synthetic motion: gravity on Z plus a slow
// wave on X/Y whose amplitude swells and fades over a few seconds, so the
// built-in classifier sees idle, wave and shake windows in turn.
type MockSource struct {
	period float64 // seconds per sample
	n      int
}

// NewMockSource returns a mock source whose timeline advances one sample
// period per Read, independent of wall-clock time.
func NewMockSource(sampleRateHz float64) *MockSource {
	return &MockSource{period: 1 / sampleRateHz}
}

func (m *MockSource) Read() (sample.Sample, error) {
	t := float64(m.n) * m.period
	m.n++

	// 0 .. 1.6 g envelope with a 30 s cycle
	envelope := 0.8 * (1 - math.Cos(2*math.Pi*t/30))
	freq := 1.5 + 4*envelope
	return sample.Sample{
		X: float32(envelope * math.Sin(2*math.Pi*freq*t)),
		Y: float32(0.5 * envelope * math.Cos(2*math.Pi*freq*t)),
		Z: float32(1 + 0.01*math.Sin(2*math.Pi*0.2*t)),
	}, nil
}
