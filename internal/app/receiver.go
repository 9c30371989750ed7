package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/motion_classifier/internal/blockwise"
	"github.com/relabs-tech/motion_classifier/internal/classifier"
	"github.com/relabs-tech/motion_classifier/internal/metrics"
	"github.com/relabs-tech/motion_classifier/internal/resultcodec"
	"github.com/relabs-tech/motion_classifier/internal/window"
)

// Receiver transports, used as metric labels.
const (
	viaMQTT      = "mqtt"
	viaWebSocket = "websocket"
)

// sessionTTL is how long a half-received or finished session is remembered.
const sessionTTL = 2 * time.Minute

// liveQueue is the number of uploads buffered per live client before it
// starts missing updates.
const liveQueue = 16

// Upload is one decoded payload from a device.
type Upload struct {
	Device      string                  `json:"device"`
	Path        string                  `json:"path"`
	Session     uint32                  `json:"session"`
	Received    time.Time               `json:"received"`
	Predictions []classifier.Prediction `json:"predictions,omitempty"`
	Window      []float32               `json:"window,omitempty"`
}

// DeviceState is the latest decoded payload of each path for one device.
type DeviceState struct {
	Classification *Upload `json:"classification,omitempty"`
	Window         *Upload `json:"window,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // devices and dashboards are not served from this origin
	},
}

// Receiver reassembles uploads from every transport and keeps the latest
// result per device.
type Receiver struct {
	frameSize int
	reasm     *blockwise.Reassembler

	mu     sync.RWMutex
	latest map[string]*DeviceState

	liveMu sync.Mutex
	live   map[chan Upload]struct{}
}

// NewReceiver expects windows of frameSize floats and rejects payloads over
// maxPayload bytes.
func NewReceiver(frameSize, maxPayload int) *Receiver {
	return &Receiver{
		frameSize: frameSize,
		reasm:     blockwise.NewReassembler(maxPayload, sessionTTL),
		latest:    make(map[string]*DeviceState),
		live:      make(map[chan Upload]struct{}),
	}
}

// HandleFrame feeds one wire frame from device. It returns the decoded upload
// when the frame completed one, nil otherwise.
func (r *Receiver) HandleFrame(device, via string, b []byte) (*Upload, error) {
	metrics.FramesReceivedTotal.WithLabelValues(via).Inc()

	f, err := blockwise.ParseFrame(b)
	if err != nil {
		metrics.ReassemblyErrorsTotal.WithLabelValues("bad_frame").Inc()
		return nil, err
	}

	p, err := r.reasm.Add(device, f)
	if err != nil {
		reason := "out_of_sequence"
		if errors.Is(err, blockwise.ErrPayloadTooLarge) {
			reason = "too_large"
		}
		metrics.ReassemblyErrorsTotal.WithLabelValues(reason).Inc()
		return nil, err
	}
	if p == nil {
		return nil, nil
	}

	u, err := r.decode(p)
	if err != nil {
		metrics.ReassemblyErrorsTotal.WithLabelValues("decode").Inc()
		return nil, err
	}
	metrics.PayloadsTotal.WithLabelValues(u.Path).Inc()
	r.store(u)
	r.broadcast(*u)
	return u, nil
}

func (r *Receiver) decode(p *blockwise.Payload) (*Upload, error) {
	u := &Upload{Device: p.Source, Path: p.Path, Session: p.Session, Received: time.Now()}
	switch p.Path {
	case PathClassification:
		preds, err := resultcodec.Decode(p.Data)
		if err != nil {
			return nil, fmt.Errorf("device %s session %d: %w", p.Source, p.Session, err)
		}
		u.Predictions = preds
	case PathWindow:
		features, err := window.DecodeWindow(p.Data)
		if err != nil {
			return nil, fmt.Errorf("device %s session %d: %w", p.Source, p.Session, err)
		}
		if len(features) != r.frameSize {
			return nil, fmt.Errorf("device %s session %d: window has %d features, expected %d", p.Source, p.Session, len(features), r.frameSize)
		}
		u.Window = features
	default:
		return nil, fmt.Errorf("device %s: unknown upload path %q", p.Source, p.Path)
	}
	return u, nil
}

func (r *Receiver) store(u *Upload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.latest[u.Device]
	if st == nil {
		st = &DeviceState{}
		r.latest[u.Device] = st
	}
	if u.Path == PathClassification {
		st.Classification = u
	} else {
		st.Window = u
	}
}

// Latest returns a copy of the per-device state.
func (r *Receiver) Latest() map[string]DeviceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]DeviceState, len(r.latest))
	for k, v := range r.latest {
		out[k] = *v
	}
	return out
}

func (r *Receiver) subscribe() chan Upload {
	c := make(chan Upload, liveQueue)
	r.liveMu.Lock()
	r.live[c] = struct{}{}
	r.liveMu.Unlock()
	return c
}

func (r *Receiver) unsubscribe(c chan Upload) {
	r.liveMu.Lock()
	delete(r.live, c)
	r.liveMu.Unlock()
}

func (r *Receiver) broadcast(u Upload) {
	r.liveMu.Lock()
	defer r.liveMu.Unlock()
	for c := range r.live {
		select {
		case c <- u:
		default:
			log.Debug().Str("device", u.Device).Msg("receiver: live client is behind, dropping update")
		}
	}
}

// Handler serves the receiver's HTTP endpoints.
func (r *Receiver) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/upload", r.handleUploadWS)
	mux.HandleFunc("/ws/live", r.handleLiveWS)
	mux.HandleFunc("/api/latest", r.handleLatest)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (r *Receiver) handleLatest(w http.ResponseWriter, _ *http.Request) {
	latest := r.Latest()
	if len(latest) == 0 {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(latest); err != nil {
		log.Error().Err(err).Msg("receiver: json encode error")
	}
}

func (r *Receiver) handleUploadWS(w http.ResponseWriter, req *http.Request) {
	device := req.URL.Query().Get("device")
	if device == "" {
		http.Error(w, "missing device", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Error().Err(err).Msg("receiver: websocket upgrade error")
		return
	}
	defer conn.Close()
	log.Info().Str("device", device).Msg("receiver: upload connection opened")

	for {
		typ, b, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("device", device).Msg("receiver: upload connection error")
			}
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		if _, err := r.HandleFrame(device, viaWebSocket, b); err != nil {
			log.Warn().Err(err).Str("device", device).Msg("receiver: frame rejected")
		}
	}
}

func (r *Receiver) handleLiveWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Error().Err(err).Msg("receiver: websocket upgrade error")
		return
	}
	defer conn.Close()

	updates := r.subscribe()
	defer r.unsubscribe(updates)

	// reader only notices the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case u := <-updates:
			if err := conn.WriteJSON(u); err != nil {
				log.Debug().Err(err).Msg("receiver: live client write failed")
				return
			}
		}
	}
}
