// Package publisher announces the sensor views to Home Assistant via MQTT discovery and
// publishes their state.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jgoulah/bchydro/internal/sensor"
	"github.com/jgoulah/bchydro/pkg/models"
)

// ParallelUpdates caps concurrent view publications
const ParallelUpdates = 4

// Availability payloads
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Transport delivers payloads to a broker
type Transport interface {
	Publish(topic string, retained bool, payload []byte) error
	Close()
}

type multiTransport []Transport

// Multi fans out to every transport. A failing transport does not stop the others.
func Multi(transports ...Transport) Transport {
	if len(transports) == 1 {
		return transports[0]
	}
	return multiTransport(transports)
}

func (m multiTransport) Publish(topic string, retained bool, payload []byte) error {
	var errs []error
	for _, t := range m {
		if err := t.Publish(topic, retained, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiTransport) Close() {
	for _, t := range m {
		t.Close()
	}
}

// Publisher handles publishing to Home Assistant
type Publisher struct {
	transport       Transport
	topicPrefix     string
	discoveryPrefix string
	log             logrus.FieldLogger
}

// New creates a publisher over the given transport
func New(transport Transport, topicPrefix, discoveryPrefix string, log logrus.FieldLogger) *Publisher {
	return &Publisher{
		transport:       transport,
		topicPrefix:     topicPrefix,
		discoveryPrefix: discoveryPrefix,
		log:             log.WithField("component", "publisher"),
	}
}

// https://www.home-assistant.io/integrations/sensor.mqtt/
type discoveryConfig struct {
	Name                   string `json:"name"`
	UniqueID               string `json:"unique_id"`
	ObjectID               string `json:"object_id"`
	Icon                   string `json:"icon,omitempty"`
	UnitOfMeasurement      string `json:"unit_of_measurement,omitempty"`
	DeviceClass            string `json:"device_class,omitempty"`
	StateClass             string `json:"state_class,omitempty"`
	StateTopic             string `json:"state_topic"`
	ValueTemplate          string `json:"value_template"`
	JSONAttributesTopic    string `json:"json_attributes_topic"`
	LastResetValueTemplate string `json:"last_reset_value_template,omitempty"`
	AvailabilityTopic      string `json:"availability_topic"`
	Device                 device `json:"device"`
}

type device struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// statePayload is published on the state topic; a null value renders as unknown
type statePayload struct {
	Value     *float64 `json:"value"`
	LastReset string   `json:"last_reset,omitempty"`
}

// StateTopic returns the topic carrying a view's value
func (p *Publisher) StateTopic(v *sensor.View) string {
	return fmt.Sprintf("%s/%s/state", p.topicPrefix, v.UniqueID())
}

// AttributesTopic returns the topic carrying a view's attributes
func (p *Publisher) AttributesTopic(v *sensor.View) string {
	return fmt.Sprintf("%s/%s/attributes", p.topicPrefix, v.UniqueID())
}

// DiscoveryTopic returns the Home Assistant discovery topic of a view
func (p *Publisher) DiscoveryTopic(v *sensor.View) string {
	return fmt.Sprintf("%s/sensor/%s/config", p.discoveryPrefix, v.UniqueID())
}

// AvailabilityTopic returns the account-wide availability topic
func (p *Publisher) AvailabilityTopic(account models.Account) string {
	return AvailabilityTopic(p.topicPrefix, account)
}

// AvailabilityTopic is usable before a Publisher exists, e.g. for an MQTT will
func AvailabilityTopic(topicPrefix string, account models.Account) string {
	return fmt.Sprintf("%s/%s/availability", topicPrefix, account.ID)
}

func (p *Publisher) discovery(v *sensor.View) discoveryConfig {
	account := v.Account()
	cfg := discoveryConfig{
		Name:                v.Name,
		UniqueID:            v.UniqueID(),
		ObjectID:            "bchydro_" + v.UniqueID(),
		Icon:                v.Icon,
		UnitOfMeasurement:   v.Unit,
		DeviceClass:         v.DeviceClass,
		StateClass:          v.StateClass,
		StateTopic:          p.StateTopic(v),
		ValueTemplate:       "{{ value_json.value }}",
		JSONAttributesTopic: p.AttributesTopic(v),
		AvailabilityTopic:   p.AvailabilityTopic(account),
		Device: device{
			Name:         "BC Hydro " + account.Number,
			Identifiers:  []string{"bchydro_" + account.ID},
			Manufacturer: "BC Hydro",
			Model:        "Customer Portal",
		},
	}
	if v.HasReset() {
		cfg.LastResetValueTemplate = "{{ value_json.last_reset }}"
	}
	return cfg
}

// Announce publishes retained discovery configs for every view
func (p *Publisher) Announce(views []*sensor.View) error {
	for _, v := range views {
		payload, err := json.Marshal(p.discovery(v))
		if err != nil {
			return fmt.Errorf("encoding discovery config: %w", err)
		}
		if err := p.transport.Publish(p.DiscoveryTopic(v), true, payload); err != nil {
			return fmt.Errorf("announcing %s: %w", v.UniqueID(), err)
		}
		p.log.WithField("unique_id", v.UniqueID()).Debug("Announced sensor")
	}
	return nil
}

// PublishStates publishes value and attributes of every view, at most ParallelUpdates at a time
func (p *Publisher) PublishStates(ctx context.Context, views []*sensor.View) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(ParallelUpdates)

	for _, v := range views {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return p.publishState(v)
		})
	}

	return g.Wait()
}

func (p *Publisher) publishState(v *sensor.View) error {
	state, attrs, err := encodeState(v.State())
	if err != nil {
		return fmt.Errorf("encoding state of %s: %w", v.UniqueID(), err)
	}

	if err := p.transport.Publish(p.StateTopic(v), true, state); err != nil {
		return fmt.Errorf("publishing state of %s: %w", v.UniqueID(), err)
	}
	if err := p.transport.Publish(p.AttributesTopic(v), true, attrs); err != nil {
		return fmt.Errorf("publishing attributes of %s: %w", v.UniqueID(), err)
	}
	return nil
}

func encodeState(s sensor.State) (state, attrs []byte, err error) {
	var payload statePayload
	if s.Known {
		value := s.Value
		payload.Value = &value
	}
	if s.LastReset != nil {
		payload.LastReset = s.LastReset.Format(time.RFC3339)
	}

	state, err = json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}

	if s.Attributes == nil {
		return state, []byte("{}"), nil
	}
	attrs, err = json.Marshal(s.Attributes)
	if err != nil {
		return nil, nil, err
	}
	return state, attrs, nil
}

// PublishAvailability marks every view of the account online or offline
func (p *Publisher) PublishAvailability(account models.Account, online bool) error {
	payload := PayloadOffline
	if online {
		payload = PayloadOnline
	}
	if err := p.transport.Publish(p.AvailabilityTopic(account), true, []byte(payload)); err != nil {
		return fmt.Errorf("publishing availability: %w", err)
	}
	return nil
}

// Close closes the transport
func (p *Publisher) Close() {
	p.transport.Close()
}
