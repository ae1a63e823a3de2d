package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/austinmroczek/neovolta/internal/inverter"
)

const publishTimeout = 10 * time.Second

type Publisher struct {
	client          mqtt.Client
	topicPrefix     string
	discoveryPrefix string
	enabled         bool
	logger          *zap.Logger
}

type PublisherConfig struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	TopicPrefix     string
	DiscoveryPrefix string
	Enabled         bool
	Logger          *zap.Logger
}

// Message is one MQTT publication.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.L()
	}
	if !cfg.Enabled {
		return &Publisher{enabled: false, logger: logger}, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return newPublisher(client, cfg.TopicPrefix, cfg.DiscoveryPrefix, logger), nil
}

func newPublisher(client mqtt.Client, topicPrefix, discoveryPrefix string, logger *zap.Logger) *Publisher {
	if discoveryPrefix == "" {
		discoveryPrefix = "homeassistant"
	}
	return &Publisher{
		client:          client,
		topicPrefix:     topicPrefix,
		discoveryPrefix: discoveryPrefix,
		enabled:         true,
		logger:          logger,
	}
}

// Publish sends one state message per value and the retained JSON status.
func (p *Publisher) Publish(snap *inverter.Snapshot) error {
	if !p.enabled || snap == nil {
		return nil
	}

	msgs, err := StateMessages(p.topicPrefix, snap)
	if err != nil {
		return err
	}
	return p.send(msgs)
}

// PublishHomeAssistantDiscovery announces every catalogued sensor of the
// inverter identified by serial.
func (p *Publisher) PublishHomeAssistantDiscovery(serial string) error {
	if !p.enabled {
		return nil
	}

	msgs, err := DiscoveryMessages(p.discoveryPrefix, p.topicPrefix, serial)
	if err != nil {
		return err
	}
	return p.send(msgs)
}

func (p *Publisher) send(msgs []Message) error {
	var failed int
	for _, m := range msgs {
		token := p.client.Publish(m.Topic, 0, m.Retained, m.Payload)
		if !token.WaitTimeout(publishTimeout) {
			failed++
			p.logger.Warn("mqtt publish timed out", zap.String("topic", m.Topic))
			continue
		}
		if err := token.Error(); err != nil {
			failed++
			p.logger.Warn("mqtt publish failed", zap.String("topic", m.Topic), zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to publish %d of %d messages", failed, len(msgs))
	}
	return nil
}

func (p *Publisher) IsConnected() bool {
	if !p.enabled {
		return false
	}
	return p.client.IsConnected()
}

func (p *Publisher) Close() {
	if p.enabled && p.client != nil {
		p.client.Disconnect(1000)
	}
}

// DeviceTopic is the topic root for one inverter.
func DeviceTopic(prefix, serial string) string {
	return fmt.Sprintf("%s/%s", prefix, slug.Make(serial))
}

func StateMessages(prefix string, snap *inverter.Snapshot) ([]Message, error) {
	base := DeviceTopic(prefix, snap.SerialNumber)

	msgs := make([]Message, 0, len(snap.Values)+1)
	for _, key := range inverter.Keys(inverter.RegisterMap) {
		v, ok := snap.Get(key)
		if !ok {
			continue
		}
		msgs = append(msgs, Message{
			Topic:   fmt.Sprintf("%s/%s", base, key),
			Payload: []byte(v.String()),
		})
	}

	status, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status: %w", err)
	}
	msgs = append(msgs, Message{Topic: base + "/status", Payload: status, Retained: true})

	return msgs, nil
}

func DiscoveryMessages(discoveryPrefix, prefix, serial string) ([]Message, error) {
	id := slug.Make(serial)
	base := DeviceTopic(prefix, serial)
	device := map[string]interface{}{
		"identifiers":   []string{"neovolta_" + id},
		"name":          "NeoVolta " + serial,
		"manufacturer":  "NeoVolta",
		"model":         "NV14",
		"serial_number": serial,
	}

	msgs := make([]Message, 0, len(inverter.Sensors))
	for _, sensor := range inverter.Sensors {
		config := map[string]interface{}{
			"name":        sensor.Name,
			"unique_id":   fmt.Sprintf("%s_%s", serial, sensor.Key),
			"state_topic": fmt.Sprintf("%s/%s", base, sensor.Key),
			"device":      device,
		}
		if sensor.Unit != "" {
			config["unit_of_measurement"] = sensor.Unit
		}
		if sensor.DeviceClass != "" {
			config["device_class"] = sensor.DeviceClass
		}
		if sensor.StateClass != "" {
			config["state_class"] = sensor.StateClass
		}

		payload, err := json.Marshal(config)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal discovery for %s: %w", sensor.Key, err)
		}
		msgs = append(msgs, Message{
			Topic:    fmt.Sprintf("%s/sensor/neovolta_%s/%s/config", discoveryPrefix, id, sensor.Key),
			Payload:  payload,
			Retained: true,
		})
	}

	return msgs, nil
}
