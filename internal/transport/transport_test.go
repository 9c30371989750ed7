package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/motion_classifier/internal/blockwise"
)

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu           sync.Mutex
	msgs         []published
	failAt       int // 1-based publish that fails, 0 = never
	disconnected bool
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	if p.failAt == len(p.msgs) {
		return &doneToken{err: errors.New("not connected")}
	}
	return &doneToken{}
}

func (p *fakePublisher) Disconnect(uint) { p.disconnected = true }

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestMQTTUploadPublishesEveryFrame(t *testing.T) {
	pub := &fakePublisher{}
	m := newMQTTWithPublisher(pub, "motion/upload", "dev1", 16)

	select {
	case <-m.Connected():
	default:
		t.Fatal("expected connected")
	}

	require.NoError(t, m.Upload(context.Background(), "window", blockwise.NewDriver(payload(36))))
	require.Len(t, pub.msgs, 3)

	var out []byte
	var session uint32
	for i, msg := range pub.msgs {
		assert.Equal(t, "motion/upload/dev1/window", msg.topic)
		assert.Equal(t, byte(UploadQoS), msg.qos)
		f, err := blockwise.ParseFrame(msg.payload)
		require.NoError(t, err)
		if i == 0 {
			session = f.Session
		}
		assert.Equal(t, session, f.Session)
		assert.Equal(t, uint32(i), f.Index)
		assert.Equal(t, i == 2, f.Last)
		out = append(out, f.Data...)
	}
	assert.Equal(t, payload(36), out)

	// a second upload is a new session
	require.NoError(t, m.Upload(context.Background(), "classification", blockwise.NewDriver(payload(4))))
	f, err := blockwise.ParseFrame(pub.msgs[3].payload)
	require.NoError(t, err)
	assert.NotEqual(t, session, f.Session)
	assert.Equal(t, "motion/upload/dev1/classification", pub.msgs[3].topic)

	require.NoError(t, m.Close())
	assert.True(t, pub.disconnected)
}

func TestMQTTUploadStopsOnTokenError(t *testing.T) {
	pub := &fakePublisher{failAt: 2}
	m := newMQTTWithPublisher(pub, "p", "d", 8)

	err := m.Upload(context.Background(), "window", blockwise.NewDriver(payload(40)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
	assert.Len(t, pub.msgs, 2)
}

func TestNewMQTTRejectsZeroBlockSize(t *testing.T) {
	_, err := NewMQTT(MQTTOptions{Broker: "tcp://127.0.0.1:1", BlockSize: 0})
	assert.ErrorIs(t, err, blockwise.ErrZeroBlockSize)
}

type wsSink struct {
	mu     sync.Mutex
	device string
	frames []blockwise.Frame
}

func (s *wsSink) handler(t *testing.T) http.HandlerFunc {
	up := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		s.mu.Lock()
		s.device = r.URL.Query().Get("device")
		s.mu.Unlock()
		for {
			typ, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			assert.Equal(t, websocket.BinaryMessage, typ)
			f, err := blockwise.ParseFrame(b)
			if !assert.NoError(t, err) {
				return
			}
			s.mu.Lock()
			s.frames = append(s.frames, f)
			s.mu.Unlock()
		}
	}
}

func (s *wsSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestWebSocketUpload(t *testing.T) {
	sink := &wsSink{}
	srv := httptest.NewServer(sink.handler(t))
	defer srv.Close()

	w, err := NewWebSocket("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/upload", "dev 7", 16)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Upload(context.Background(), "window", blockwise.NewDriver(payload(36))))
	select {
	case <-w.Connected():
	default:
		t.Fatal("expected connected after upload")
	}

	require.Eventually(t, func() bool { return sink.count() == 3 }, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "dev 7", sink.device)
	var out []byte
	for _, f := range sink.frames {
		out = append(out, f.Data...)
	}
	assert.Equal(t, payload(36), out)
	assert.True(t, sink.frames[2].Last)
}

func TestWebSocketUploadFailsWithoutServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	w, err := NewWebSocket("ws"+strings.TrimPrefix(srv.URL, "http"), "d", 16)
	require.NoError(t, err)
	err = w.Upload(context.Background(), "window", blockwise.NewDriver(payload(4)))
	assert.Error(t, err)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "a/b/c", Topic("a", "b", "c"))
}
