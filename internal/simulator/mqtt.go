package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/fleetsim/internal/fleet"
	"github.com/nerrad567/fleetsim/internal/infrastructure/mqtt"
)

// ErrEmptyArtifact is returned when an OTA message carries no artifact name.
var ErrEmptyArtifact = errors.New("simulator: empty artifact payload")

// MQTTClient is the subset of *mqtt.Client the Bridge needs.
type MQTTClient interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// artifactMessage is the JSON form of an OTA channel message.
type artifactMessage struct {
	Artifact string `json:"artifact"`
}

// DecodeArtifact extracts the artifact name from an OTA channel payload.
// The payload is either the bare filename or {"artifact": "<filename>"}.
func DecodeArtifact(payload []byte) (string, error) {
	raw := strings.TrimSpace(string(payload))
	if strings.HasPrefix(raw, "{") {
		var msg artifactMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return "", fmt.Errorf("simulator: decoding artifact message: %w", err)
		}
		raw = strings.TrimSpace(msg.Artifact)
	}
	if raw == "" {
		return "", ErrEmptyArtifact
	}
	return raw, nil
}

// Bridge connects a Service to an MQTT broker. Artifacts published on
// fleetsim/ota/<channel> are posted to the fleet; node, endpoint and event
// changes are published back out.
type Bridge struct {
	client  MQTTClient
	service *Service
	qos     byte
	topics  mqtt.Topics
	logger  Logger
}

// NewBridge creates a Bridge. It does not subscribe until Start.
func NewBridge(client MQTTClient, service *Service, qos byte, logger Logger) *Bridge {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{
		client:  client,
		service: service,
		qos:     qos,
		logger:  logger,
	}
}

// Start subscribes to every OTA channel topic.
func (b *Bridge) Start(ctx context.Context) error {
	handler := func(topic string, payload []byte) error {
		return b.handleOTA(ctx, topic, payload)
	}
	if err := b.client.Subscribe(b.topics.AllOTAChannels(), b.qos, handler); err != nil {
		return fmt.Errorf("subscribing to OTA channels: %w", err)
	}
	b.logger.Info("mqtt bridge started", "topic", b.topics.AllOTAChannels())
	return nil
}

func (b *Bridge) handleOTA(ctx context.Context, topic string, payload []byte) error {
	channel, ok := b.topics.ParseOTAChannel(topic)
	if !ok {
		return fmt.Errorf("simulator: not an OTA channel topic: %q", topic)
	}
	artifact, err := DecodeArtifact(payload)
	if err != nil {
		return err
	}

	status := b.service.PostToChannel(ctx, channel, artifact)
	b.logger.Info("artifact received over mqtt",
		"channel", channel,
		"artifact", artifact,
		"status", int(status),
	)
	return nil
}

// PublishNode publishes a retained node state.
func (b *Bridge) PublishNode(node fleet.NodeSnapshot) error {
	return b.client.PublishJSON(b.topics.NodeState(node.UUID), node, true)
}

// PublishEndpoint publishes a retained endpoint state.
func (b *Bridge) PublishEndpoint(ep fleet.EndpointSnapshot) error {
	return b.client.PublishJSON(b.topics.EndpointState(ep.SerialNumber), ep, true)
}

// PublishEvent publishes a fleet event on its kind's topic.
func (b *Bridge) PublishEvent(ev Event) error {
	return b.client.PublishJSON(b.topics.Event(string(ev.Kind)), ev, false)
}
