package classifier

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceSignal serves a fixed feature vector and records every pull.
type sliceSignal struct {
	features []float32
	pulls    [][2]int
	err      error
}

func (s *sliceSignal) TotalLength() int { return len(s.features) }

func (s *sliceSignal) Fill(_ context.Context, offset, length int, dst []float32) error {
	if s.err != nil {
		return s.err
	}
	s.pulls = append(s.pulls, [2]int{offset, length})
	copy(dst, s.features[offset:offset+length])
	return nil
}

func steadyWindow(samples int, jitter func(i int) float32) []float32 {
	out := make([]float32, 0, samples*3)
	for i := 0; i < samples; i++ {
		out = append(out, 0, 0, 1+jitter(i))
	}
	return out
}

func TestPullAllChunksInOrder(t *testing.T) {
	sig := &sliceSignal{features: make([]float32, 15)}
	for i := range sig.features {
		sig.features[i] = float32(i)
	}

	got, err := PullAll(context.Background(), sig, 6)
	require.NoError(t, err)
	assert.Equal(t, sig.features, got)
	assert.Equal(t, [][2]int{{0, 6}, {6, 6}, {12, 3}}, sig.pulls)
}

func TestPullAllRejectsBadInput(t *testing.T) {
	_, err := PullAll(context.Background(), &sliceSignal{features: make([]float32, 4)}, 3)
	assert.Error(t, err)
	_, err = PullAll(context.Background(), &sliceSignal{features: make([]float32, 6)}, 4)
	assert.Error(t, err)

	boom := errors.New("sensor gone")
	_, err = PullAll(context.Background(), &sliceSignal{features: make([]float32, 6), err: boom}, 3)
	assert.ErrorIs(t, err, boom)
}

func TestEnergyClassifiesByVibration(t *testing.T) {
	e, err := NewEnergy(DefaultCentroids, 48)
	require.NoError(t, err)
	assert.Equal(t, []string{"idle", "wave", "shake"}, e.Labels())

	still := &sliceSignal{features: steadyWindow(125, func(int) float32 { return 0 })}
	preds, err := e.Classify(context.Background(), still)
	require.NoError(t, err)
	require.Len(t, preds, 3)
	assert.Equal(t, "idle", Top(preds, 1)[0].Label)

	shaking := &sliceSignal{features: steadyWindow(125, func(i int) float32 {
		return float32(1.2 * math.Sin(float64(i)))
	})}
	preds, err = e.Classify(context.Background(), shaking)
	require.NoError(t, err)
	assert.Equal(t, "shake", Top(preds, 1)[0].Label)

	// labels keep their order and scores sum to one
	var sum float32
	for i, p := range preds {
		assert.Equal(t, DefaultCentroids[i].Label, p.Label)
		sum += p.Score
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestEnergyIsDeterministic(t *testing.T) {
	e, err := NewEnergy(DefaultCentroids, 9)
	require.NoError(t, err)
	w := steadyWindow(20, func(i int) float32 { return float32(i%3) * 0.1 })

	a, err := e.Classify(context.Background(), &sliceSignal{features: w})
	require.NoError(t, err)
	b, err := e.Classify(context.Background(), &sliceSignal{features: w})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNewEnergyValidation(t *testing.T) {
	_, err := NewEnergy(nil, 3)
	assert.Error(t, err)
	_, err = NewEnergy(DefaultCentroids, 4)
	assert.Error(t, err)
	_, err = NewEnergy([]Centroid{{Label: "x", Energy: 0}}, 3)
	assert.Error(t, err)
}

func TestEnergyRejectsPartialSample(t *testing.T) {
	e, err := NewEnergy(DefaultCentroids, 3)
	require.NoError(t, err)
	_, err = e.Classify(context.Background(), &sliceSignal{features: make([]float32, 7)})
	assert.Error(t, err)
}

func TestTop(t *testing.T) {
	preds := []Prediction{{"a", 0.1}, {"b", 0.7}, {"c", 0.2}}
	assert.Equal(t, []Prediction{{"b", 0.7}, {"c", 0.2}}, Top(preds, 2))
	assert.Equal(t, "a", preds[0].Label, "input must not be reordered")
	assert.Len(t, Top(preds, 10), 3)
}

// fakeRunner answers the runner socket protocol for one connection.
func fakeRunner(t *testing.T, labels []string, scores map[string]float32) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "eim")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "runner.sock")

	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		dec := json.NewDecoder(bufio.NewReader(conn))
		for {
			var req map[string]any
			if err := dec.Decode(&req); err != nil {
				return
			}
			resp := map[string]any{"id": req["id"], "success": true}
			if _, ok := req["hello"]; ok {
				resp["model_parameters"] = map[string]any{
					"axis_count":           3,
					"frequency":            62.5,
					"input_features_count": 9,
					"labels":               labels,
				}
			} else if _, ok := req["classify"]; ok {
				resp["result"] = map[string]any{"classification": scores}
			}
			b, _ := json.Marshal(resp)
			if _, err := conn.Write(append(b, 0)); err != nil {
				return
			}
		}
	}()
	return path
}

func TestEIMClassifyKeepsModelLabelOrder(t *testing.T) {
	path := fakeRunner(t, []string{"wave", "idle"}, map[string]float32{"idle": 0.25, "wave": 0.75})

	e, err := DialEIM(context.Background(), path, 3)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, []string{"wave", "idle"}, e.Labels())
	assert.Equal(t, 9, e.FeaturesCount())

	sig := &sliceSignal{features: []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}}
	preds, err := e.Classify(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, []Prediction{{"wave", 0.75}, {"idle", 0.25}}, preds)
	assert.Len(t, sig.pulls, 3)
}

func TestEIMRejectsWrongLengthAndMissingLabels(t *testing.T) {
	path := fakeRunner(t, []string{"wave", "idle"}, map[string]float32{"idle": 1})

	e, err := DialEIM(context.Background(), path, 3)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Classify(context.Background(), &sliceSignal{features: make([]float32, 6)})
	assert.Error(t, err)

	_, err = e.Classify(context.Background(), &sliceSignal{features: make([]float32, 9)})
	assert.ErrorIs(t, err, ErrLabelMismatch)
}
