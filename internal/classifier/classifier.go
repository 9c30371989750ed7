// Package classifier defines the boundary to the inference engine. The engine
// pulls its input through a Signal and returns one score per known label.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Prediction is the score of one label for one window.
type Prediction struct {
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

// Signal is a pull-based feature source. The classifier may request any
// sub-range, in any order and in several passes.
type Signal interface {
	TotalLength() int
	Fill(ctx context.Context, offset, length int, dst []float32) error
}

// Classifier turns one feature window into predictions, ordered the same way
// as Labels on every call.
type Classifier interface {
	Labels() []string
	Classify(ctx context.Context, sig Signal) ([]Prediction, error)
}

// ErrLabelMismatch is returned when an engine answers with labels that differ
// from the ones it announced.
var ErrLabelMismatch = errors.New("classifier labels do not match model")

// Top returns up to n predictions sorted by descending score, without
// modifying preds.
func Top(preds []Prediction, n int) []Prediction {
	out := append([]Prediction(nil), preds...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// PullAll reads the full signal in consecutive chunks of at most chunk floats.
func PullAll(ctx context.Context, sig Signal, chunk int) ([]float32, error) {
	total := sig.TotalLength()
	if total <= 0 || total%3 != 0 {
		return nil, fmt.Errorf("signal length %d is not a positive multiple of 3", total)
	}
	if chunk <= 0 || chunk%3 != 0 {
		return nil, fmt.Errorf("pull chunk %d is not a positive multiple of 3", chunk)
	}
	features := make([]float32, total)
	for off := 0; off < total; off += chunk {
		n := min(chunk, total-off)
		if err := sig.Fill(ctx, off, n, features[off:off+n]); err != nil {
			return nil, fmt.Errorf("pull features [%d,%d): %w", off, off+n, err)
		}
	}
	return features, nil
}
