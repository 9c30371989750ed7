package classifier

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

// EIM talks to an Edge Impulse Linux model runner over its unix socket.
// Requests are JSON objects; every response is JSON terminated by a NUL byte.
type EIM struct {
	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	nextID int

	labels        []string
	featuresCount int
	pullChunk     int
}

type eimModelParameters struct {
	AxisCount          int      `json:"axis_count"`
	Frequency          float64  `json:"frequency"`
	InputFeaturesCount int      `json:"input_features_count"`
	Labels             []string `json:"labels"`
}

type eimResponse struct {
	ID              int                 `json:"id"`
	Success         bool                `json:"success"`
	Error           string              `json:"error"`
	ModelParameters *eimModelParameters `json:"model_parameters"`
	Result          *struct {
		Classification map[string]float32 `json:"classification"`
	} `json:"result"`
}

// DialEIM connects to the runner socket and performs the hello handshake.
func DialEIM(ctx context.Context, socketPath string, pullChunk int) (*EIM, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("eim: dial %s: %w", socketPath, err)
	}
	e := &EIM{conn: conn, r: bufio.NewReader(conn), pullChunk: pullChunk}

	resp, err := e.call(map[string]any{"hello": 1})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("eim: hello: %w", err)
	}
	mp := resp.ModelParameters
	if mp == nil || len(mp.Labels) == 0 {
		conn.Close()
		return nil, fmt.Errorf("eim: hello response has no model labels")
	}
	e.labels = mp.Labels
	e.featuresCount = mp.InputFeaturesCount
	log.Info().Msgf("eim: model loaded (%d features, %d axes at %.1f Hz, labels %v)",
		mp.InputFeaturesCount, mp.AxisCount, mp.Frequency, mp.Labels)
	return e, nil
}

func (e *EIM) Labels() []string {
	return append([]string(nil), e.labels...)
}

// FeaturesCount is the window length the model expects.
func (e *EIM) FeaturesCount() int {
	return e.featuresCount
}

// Classify pulls the full signal and asks the runner for a classification.
// Predictions come back in the model's label order.
func (e *EIM) Classify(ctx context.Context, sig Signal) ([]Prediction, error) {
	if e.featuresCount != 0 && sig.TotalLength() != e.featuresCount {
		return nil, fmt.Errorf("eim: signal has %d features, model expects %d", sig.TotalLength(), e.featuresCount)
	}
	features, err := PullAll(ctx, sig, e.pullChunk)
	if err != nil {
		return nil, err
	}

	resp, err := e.call(map[string]any{"classify": features})
	if err != nil {
		return nil, fmt.Errorf("eim: classify: %w", err)
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("eim: classify response has no result")
	}

	preds := make([]Prediction, len(e.labels))
	for i, label := range e.labels {
		score, ok := resp.Result.Classification[label]
		if !ok {
			return nil, fmt.Errorf("eim: %w: missing %q", ErrLabelMismatch, label)
		}
		preds[i] = Prediction{Label: label, Score: score}
	}
	if len(resp.Result.Classification) != len(e.labels) {
		return nil, fmt.Errorf("eim: %w: got %d scores for %d labels", ErrLabelMismatch, len(resp.Result.Classification), len(e.labels))
	}
	return preds, nil
}

// Close closes the runner connection.
func (e *EIM) Close() error {
	return e.conn.Close()
}

func (e *EIM) call(msg map[string]any) (*eimResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	msg["id"] = e.nextID
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if _, err := e.conn.Write(body); err != nil {
		return nil, err
	}

	raw, err := e.r.ReadBytes(0)
	if err != nil {
		return nil, err
	}
	var resp eimResponse
	if err := json.Unmarshal(raw[:len(raw)-1], &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("runner error: %s", resp.Error)
	}
	if resp.ID != e.nextID {
		return nil, fmt.Errorf("response id %d does not match request id %d", resp.ID, e.nextID)
	}
	return &resp, nil
}
