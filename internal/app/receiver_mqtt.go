package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/motion_classifier/internal/config"
	"github.com/relabs-tech/motion_classifier/internal/transport"
)

// splitTopic extracts device and path from <prefix>/<device>/<path>.
func splitTopic(prefix, topic string) (device, path string, err error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", "", fmt.Errorf("topic %q outside prefix %q", topic, prefix)
	}
	device, path, ok = strings.Cut(rest, "/")
	if !ok || device == "" || path == "" || strings.Contains(path, "/") {
		return "", "", fmt.Errorf("malformed upload topic %q", topic)
	}
	return device, path, nil
}

// HandleMessage feeds one MQTT upload message.
func (r *Receiver) HandleMessage(prefix, topic string, payload []byte) (*Upload, error) {
	device, path, err := splitTopic(prefix, topic)
	if err != nil {
		return nil, err
	}
	if n := len(path); len(payload) < 3+n || string(payload[3:3+n]) != path {
		return nil, fmt.Errorf("frame on %s does not carry path %q", topic, path)
	}
	return r.HandleFrame(device, viaMQTT, payload)
}

// SubscribeMQTT receives uploads of every device under prefix.
func (r *Receiver) SubscribeMQTT(client mqtt.Client, prefix string) error {
	filter := transport.Topic(prefix, "+", "+")
	token := client.Subscribe(filter, transport.UploadQoS, func(_ mqtt.Client, msg mqtt.Message) {
		u, err := r.HandleMessage(prefix, msg.Topic(), msg.Payload())
		if err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("receiver: frame rejected")
			return
		}
		if u != nil {
			log.Info().Str("device", u.Device).Str("path", u.Path).Uint32("session", u.Session).Msg("receiver: upload complete")
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Info().Msgf("receiver: subscribed to %s", filter)
	return nil
}

// RunReceiver serves the receiver until ctx ends. MQTT is used only when a
// broker is configured; WebSocket uploads are always accepted.
func RunReceiver(ctx context.Context, cfg *config.Config) error {
	recv := NewReceiver(cfg.FrameSize, cfg.MaxPayload)

	if cfg.MQTTBroker != "" {
		opts := mqtt.NewClientOptions().
			AddBroker(cfg.MQTTBroker).
			SetClientID(cfg.MQTTClientID+"-receiver").
			SetAutoReconnect(true).
			SetOnConnectHandler(func(c mqtt.Client) {
				// subscriptions are not kept across a clean reconnect
				if err := recv.SubscribeMQTT(c, cfg.UploadTopicPrefix); err != nil {
					log.Error().Err(err).Msg("receiver: subscribe failed")
				}
			})

		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return token.Error()
		}
		log.Info().Msgf("receiver: connected to MQTT broker at %s", cfg.MQTTBroker)
		defer client.Disconnect(250)
	}

	srv := &http.Server{Addr: cfg.ReceiverListenAddr, Handler: recv.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("receiver: listening on %s", cfg.ReceiverListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
