// Package transport streams blockwise payloads to the remote endpoint. Every
// transport carries the same frame format; they differ only in how one frame
// reaches the receiver.
package transport

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"github.com/relabs-tech/motion_classifier/internal/blockwise"
	"github.com/relabs-tech/motion_classifier/internal/config"
)

// Transport names accepted by New.
const (
	KindMQTT      = "mqtt"
	KindWebSocket = "websocket"
)

// Transport uploads payloads as blockwise sessions.
type Transport interface {
	// Upload streams every block of p under path as one new session.
	Upload(ctx context.Context, path string, p blockwise.BlockProducer) error
	// Connected is closed once the transport has reached the remote end.
	Connected() <-chan struct{}
	Close() error
}

// New builds the transport selected by cfg.UploadTransport.
func New(cfg *config.Config) (Transport, error) {
	switch cfg.UploadTransport {
	case KindMQTT:
		return NewMQTT(MQTTOptions{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.UploadTopicPrefix,
			DeviceID:    cfg.DeviceID,
			BlockSize:   cfg.MaxChunkSize,
		})
	case KindWebSocket:
		return NewWebSocket(cfg.UploadWSURL, cfg.DeviceID, cfg.MaxChunkSize)
	default:
		return nil, fmt.Errorf("unknown upload transport %q", cfg.UploadTransport)
	}
}

// sessions hands out upload session ids. The first id is random so a
// restarted device does not collide with sessions the receiver still holds.
type sessions struct {
	next atomic.Uint32
}

func newSessions() *sessions {
	s := &sessions{}
	s.next.Store(rand.Uint32())
	return s
}

func (s *sessions) take() uint32 {
	return s.next.Add(1)
}
