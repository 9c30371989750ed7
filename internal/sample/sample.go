package sample

import "errors"

// Sample is a single 3-axis accelerometer reading, in g.
type Sample struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Axes is the number of floats a Sample occupies in a feature window.
const Axes = 3

// Source is anything that can produce accelerometer samples on demand.
// Read blocks until one reading is available; pacing is the caller's job.
type Source interface {
	Read() (Sample, error)
}

// ErrExhausted is returned by finite sources once every reading has been consumed.
var ErrExhausted = errors.New("sample source exhausted")

// SliceSource replays a fixed list of samples in order.
type SliceSource struct {
	samples []Sample
	next    int
}

// NewSliceSource returns a Source that yields samples in order and then ErrExhausted.
func NewSliceSource(samples ...Sample) *SliceSource {
	return &SliceSource{samples: samples}
}

func (s *SliceSource) Read() (Sample, error) {
	if s.next >= len(s.samples) {
		return Sample{}, ErrExhausted
	}
	v := s.samples[s.next]
	s.next++
	return v, nil
}

// Reads reports how many samples have been consumed.
func (s *SliceSource) Reads() int {
	return s.next
}
