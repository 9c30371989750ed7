package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/motion_classifier/internal/blockwise"
)

// UploadQoS is at-least-once; the receiver drops duplicate blocks.
const UploadQoS = 1

// publisher is the subset of mqtt.Client used for uploads.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTTOptions struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	DeviceID    string
	BlockSize   int
}

// MQTT publishes each frame of an upload to <prefix>/<device>/<path>.
type MQTT struct {
	client    publisher
	prefix    string
	device    string
	blockSize int
	sessions  *sessions

	connected chan struct{}
	connOnce  sync.Once
}

// Topic is where frames for path are published by device.
func Topic(prefix, device, path string) string {
	return prefix + "/" + device + "/" + path
}

// NewMQTT starts connecting to the broker and returns at once. The client
// keeps retrying in the background; Connected is closed on the first success.
func NewMQTT(o MQTTOptions) (*MQTT, error) {
	if o.BlockSize <= 0 {
		return nil, blockwise.ErrZeroBlockSize
	}
	m := &MQTT{
		prefix:    o.TopicPrefix,
		device:    o.DeviceID,
		blockSize: o.BlockSize,
		sessions:  newSessions(),
		connected: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Info().Msgf("upload: connected to MQTT broker at %s", o.Broker)
			m.markConnected()
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("upload: MQTT connection lost")
		})

	client := mqtt.NewClient(opts)
	client.Connect()
	m.client = client
	return m, nil
}

func newMQTTWithPublisher(p publisher, prefix, device string, blockSize int) *MQTT {
	m := &MQTT{
		client:    p,
		prefix:    prefix,
		device:    device,
		blockSize: blockSize,
		sessions:  newSessions(),
		connected: make(chan struct{}),
	}
	m.markConnected()
	return m
}

func (m *MQTT) markConnected() {
	m.connOnce.Do(func() { close(m.connected) })
}

func (m *MQTT) Connected() <-chan struct{} {
	return m.connected
}

func (m *MQTT) Upload(ctx context.Context, path string, p blockwise.BlockProducer) error {
	topic := Topic(m.prefix, m.device, path)
	session := m.sessions.take()

	st, err := blockwise.Stream(ctx, path, session, p, m.blockSize, func(ctx context.Context, f blockwise.Frame, b []byte) error {
		// paho keeps a reference to the payload until the broker acks it
		payload := append([]byte(nil), b...)
		token := m.client.Publish(topic, UploadQoS, false, payload)
		select {
		case <-token.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		log.Debug().Msgf("upload: %s session %d block %d (%d bytes, last=%t)", topic, session, f.Index, len(f.Data), f.Last)
		return nil
	})
	if err != nil {
		return err
	}
	log.Debug().Msgf("upload: %s session %d done, %d blocks / %d bytes", topic, session, st.Blocks, st.Bytes)
	return nil
}

func (m *MQTT) Close() error {
	if m.client == nil {
		return errors.New("mqtt transport not started")
	}
	m.client.Disconnect(250)
	return nil
}
