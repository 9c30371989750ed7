package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/motion_classifier/internal/blockwise"
)

// WebSocket sends one binary message per frame over a connection to the
// receiver's upload endpoint. The connection is dialed on the first upload
// and dropped after any write error, so the next upload dials again.
type WebSocket struct {
	url       string
	blockSize int
	sessions  *sessions
	dialer    *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected chan struct{}
	connOnce  sync.Once
}

// NewWebSocket prepares a transport for rawURL; the device id is added as the
// "device" query parameter.
func NewWebSocket(rawURL, deviceID string, blockSize int) (*WebSocket, error) {
	if blockSize <= 0 {
		return nil, blockwise.ErrZeroBlockSize
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("upload url: %w", err)
	}
	q := u.Query()
	q.Set("device", deviceID)
	u.RawQuery = q.Encode()

	return &WebSocket{
		url:       u.String(),
		blockSize: blockSize,
		sessions:  newSessions(),
		dialer:    websocket.DefaultDialer,
		connected: make(chan struct{}),
	}, nil
}

// Connect dials the receiver. Upload dials on its own when needed; Connect
// lets the caller wait for the endpoint before the first cycle.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.dialLocked(ctx)
	return err
}

func (w *WebSocket) dialLocked(ctx context.Context) (*websocket.Conn, error) {
	if w.conn != nil {
		return w.conn, nil
	}
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", w.url, err)
	}
	log.Info().Msgf("upload: websocket connected to %s", w.url)
	w.conn = conn
	w.connOnce.Do(func() { close(w.connected) })
	return conn, nil
}

func (w *WebSocket) Connected() <-chan struct{} {
	return w.connected
}

func (w *WebSocket) Upload(ctx context.Context, path string, p blockwise.BlockProducer) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	conn, err := w.dialLocked(ctx)
	if err != nil {
		return err
	}

	session := w.sessions.take()
	_, err = blockwise.Stream(ctx, path, session, p, w.blockSize, func(_ context.Context, f blockwise.Frame, b []byte) error {
		return conn.WriteMessage(websocket.BinaryMessage, b)
	})
	if err != nil {
		conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	_ = w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := w.conn.Close()
	w.conn = nil
	return err
}
