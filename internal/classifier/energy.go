package classifier

import (
	"context"
	"fmt"
	"math"
)

// Centroid ties a label to a typical motion energy (RMS deviation of the
// acceleration magnitude, in g).
type Centroid struct {
	Label  string
	Energy float64
}

// DefaultCentroids is the built-in motion model.
var DefaultCentroids = []Centroid{
	{Label: "idle", Energy: 0.02},
	{Label: "wave", Energy: 0.3},
	{Label: "shake", Energy: 1.2},
}

const (
	energyFloor     = 1e-4
	energySharpness = 2.0
)

// Energy is a small deterministic motion classifier that scores a window by
// how far its vibration energy is from each centroid, on a log scale.
type Energy struct {
	centroids []Centroid
	pullChunk int
}

// NewEnergy returns an Energy classifier that pulls its input in chunks of
// pullChunk floats.
func NewEnergy(centroids []Centroid, pullChunk int) (*Energy, error) {
	if len(centroids) == 0 {
		return nil, fmt.Errorf("energy classifier needs at least one centroid")
	}
	if pullChunk <= 0 || pullChunk%3 != 0 {
		return nil, fmt.Errorf("pull chunk %d is not a positive multiple of 3", pullChunk)
	}
	for _, c := range centroids {
		if c.Energy <= 0 {
			return nil, fmt.Errorf("centroid %q: energy must be positive", c.Label)
		}
	}
	return &Energy{centroids: centroids, pullChunk: pullChunk}, nil
}

func (e *Energy) Labels() []string {
	labels := make([]string, len(e.centroids))
	for i, c := range e.centroids {
		labels[i] = c.Label
	}
	return labels
}

// Classify pulls the whole signal, in order, one chunk at a time.
func (e *Energy) Classify(ctx context.Context, sig Signal) ([]Prediction, error) {
	if n := sig.TotalLength(); n%3 != 0 {
		return nil, fmt.Errorf("signal length %d is not a whole number of samples", n)
	}
	features, err := PullAll(ctx, sig, e.pullChunk)
	if err != nil {
		return nil, err
	}
	mags := make([]float64, 0, len(features)/3)
	for i := 0; i < len(features); i += 3 {
		x, y, z := float64(features[i]), float64(features[i+1]), float64(features[i+2])
		mags = append(mags, math.Sqrt(x*x+y*y+z*z))
	}
	return e.score(rmsDeviation(mags)), nil
}

func (e *Energy) score(energy float64) []Prediction {
	logE := math.Log(math.Max(energy, energyFloor))
	weights := make([]float64, len(e.centroids))
	var sum float64
	for i, c := range e.centroids {
		weights[i] = math.Exp(-energySharpness * math.Abs(logE-math.Log(c.Energy)))
		sum += weights[i]
	}
	preds := make([]Prediction, len(e.centroids))
	for i, c := range e.centroids {
		preds[i] = Prediction{Label: c.Label, Score: float32(weights[i] / sum)}
	}
	return preds
}

func rmsDeviation(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var mean float64
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))
	var acc float64
	for _, x := range v {
		acc += (x - mean) * (x - mean)
	}
	return math.Sqrt(acc / float64(len(v)))
}
