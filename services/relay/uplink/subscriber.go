package uplink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/config"
	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/pipeline"
	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/telemetry"
)

const (
	subscribeQoS   = 1
	connectTimeout = 10 * time.Second
	quiesceMillis  = 250
)

// Ingester is the part of the pipeline the subscriber feeds.
type Ingester interface {
	Ingest(ctx context.Context, raw map[string]any) (pipeline.IngestResult, error)
}

// Subscriber receives gateway uplinks from an MQTT broker and pushes each
// JSON payload through the same ingest path as POST /api/data.
type Subscriber struct {
	cfg        config.MQTT
	deviceKeys []string
	ing        Ingester
	log        *slog.Logger
}

// New returns a subscriber for cfg. deviceKeys are the payload keys that
// carry a device id, in schema order; the topic-derived id is stored under
// the first one. It does not connect until Run.
func New(cfg config.MQTT, deviceKeys []string, ing Ingester, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	if len(deviceKeys) == 0 {
		deviceKeys = telemetry.DefaultSchema().DeviceKeys
	}
	return &Subscriber{
		cfg:        cfg,
		deviceKeys: deviceKeys,
		ing:        ing,
		log:        logger.With(slog.String("component", "uplink")),
	}
}

// Run connects, subscribes on every (re)connect and blocks until ctx ends.
func (s *Subscriber) Run(ctx context.Context) error {
	clientID := fmt.Sprintf("%s-%s", s.cfg.ClientID, uuid.NewString()[:8])
	handler := s.handler(ctx)

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false).
		SetOnConnectHandler(func(c mqtt.Client) {
			token := c.Subscribe(s.cfg.Topic, subscribeQoS, handler)
			token.Wait()
			if err := token.Error(); err != nil {
				s.log.Error("subscribe", slog.String("topic", s.cfg.Topic), slog.Any("error", err))
				return
			}
			s.log.Info("subscribed", slog.String("topic", s.cfg.Topic))
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.log.Warn("connection lost", slog.Any("error", err))
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		s.log.Warn("broker not reachable yet, retrying in background", slog.String("broker", s.cfg.BrokerURL))
	} else if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	<-ctx.Done()
	client.Disconnect(quiesceMillis)
	return nil
}

func (s *Subscriber) handler(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		raw, err := telemetry.DecodePayload(bytes.NewReader(msg.Payload()))
		if err != nil {
			s.log.Warn("discarding uplink", slog.String("topic", msg.Topic()), slog.Any("error", err))
			return
		}
		if id := deviceFromTopic(s.cfg.Topic, msg.Topic()); id != "" && !s.hasDeviceKey(raw) {
			raw[s.deviceKeys[0]] = id
		}

		// Ingest logs rejections and storage failures itself.
		_, _ = s.ing.Ingest(ctx, raw)
	}
}

func (s *Subscriber) hasDeviceKey(raw map[string]any) bool {
	for _, key := range s.deviceKeys {
		if _, ok := raw[key]; ok {
			return true
		}
	}
	return false
}

// deviceFromTopic returns the topic level matched by the first single-level
// wildcard of filter, e.g. "st-1" for filter "lora/+/up" and topic
// "lora/st-1/up".
func deviceFromTopic(filter, topic string) string {
	fparts := strings.Split(filter, "/")
	tparts := strings.Split(topic, "/")
	for i, f := range fparts {
		if i >= len(tparts) {
			return ""
		}
		if f == "+" {
			return tparts[i]
		}
		if f == "#" {
			return ""
		}
	}
	return ""
}
