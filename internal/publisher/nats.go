package publisher

import (
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/jgoulah/bchydro/internal/config"
)

// NATSTransport publishes to NATS subjects. Topic separators map to subject tokens,
// matching the NATS MQTT bridge, so "homeassistant/sensor/x/config" becomes
// "homeassistant.sensor.x.config". Core NATS has no retained messages.
type NATSTransport struct {
	conn *nats.Conn
}

// NewNATS connects to the NATS server
func NewNATS(cfg config.NATSConfig, log logrus.FieldLogger) (*NATSTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("NATS url is required when enabled")
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("bchydro"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	return &NATSTransport{conn: nc}, nil
}

// Conn exposes the connection for other publishers such as the log hook
func (t *NATSTransport) Conn() *nats.Conn {
	return t.conn
}

// Publish sends payload on the subject derived from topic
func (t *NATSTransport) Publish(topic string, _ bool, payload []byte) error {
	subject := Subject(topic)
	if err := t.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (t *NATSTransport) Close() {
	if t.conn != nil {
		t.conn.Flush()
		t.conn.Close()
	}
}

// Subject converts an MQTT topic to a NATS subject
func Subject(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}
