package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rwirdemann/rtusensors"
)

const DefaultTopic = "v1/devices/me/telemetry"

var errNoBroker = errors.New("no mqtt broker configured")

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher sends batches to a ThingsBoard style broker. The device access
// token is the MQTT user name.
type MQTTPublisher struct {
	client client
	topic  string
}

// NewMQTTPublisher connects to the broker configured in c.
func NewMQTTPublisher(c rtusensors.MQTT) (*MQTTPublisher, error) {
	if c.Broker == "" {
		return nil, errNoBroker
	}
	clientID := c.ClientID
	if clientID == "" {
		clientID = "rtusensors"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("mqtt connection lost", "broker", c.Broker, "err", err)
		})
	if c.Token != "" {
		opts.SetUsername(c.Token)
	}
	mc := mqtt.NewClient(opts)
	if tok := mc.Connect(); !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %v", c.Broker, tok.Error())
	}
	slog.Info("mqtt connected", "broker", c.Broker, "client_id", clientID)
	return newMQTTPublisher(mc, c.Topic), nil
}

func newMQTTPublisher(c client, topic string) *MQTTPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTPublisher{client: c, topic: topic}
}

// Publish sends b with QoS 1 and waits for the broker's acknowledgement or
// the end of ctx.
func (p *MQTTPublisher) Publish(ctx context.Context, b Batch) error {
	if len(b) == 0 {
		return nil
	}
	payload, err := Payload(b)
	if err != nil {
		return err
	}
	tok := p.client.Publish(p.topic, 1, false, payload)
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt publish to %s: %w", p.topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
