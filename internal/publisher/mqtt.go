package publisher

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jgoulah/bchydro/internal/config"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 10 * time.Second
	qos            = 1
)

// MQTTTransport publishes to an MQTT broker
type MQTTTransport struct {
	client mqtt.Client
}

// NewMQTT connects to the broker. willTopic, if set, receives a retained "offline" when the
// connection drops.
func NewMQTT(cfg config.MQTTConfig, willTopic string, log logrus.FieldLogger) (*MQTTTransport, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required when enabled")
	}

	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "bchydro-" + uuid.NewString()[:8]
	}

	// Configure MQTT client options
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if willTopic != "" {
		opts.SetWill(willTopic, PayloadOffline, qos, true)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.WithField("broker", broker).Info("Connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("Lost connection to MQTT broker")
	})

	// Create and connect client
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connecting to MQTT broker %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", err)
	}

	return &MQTTTransport{client: client}, nil
}

// Publish sends a payload at QoS 1
func (t *MQTTTransport) Publish(topic string, retained bool, payload []byte) error {
	token := t.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the MQTT broker
func (t *MQTTTransport) Close() {
	if t.client != nil && t.client.IsConnected() {
		t.client.Disconnect(250)
	}
}
