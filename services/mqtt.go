package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"plantops/config"
	"plantops/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTPublisher streams readings, decision records and actuator state to an
// MQTT broker for dashboards.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	logger *zap.Logger
}

// NewMQTTPublisher connects to the broker configured in cfg.
func NewMQTTPublisher(cfg *config.Config, logger *zap.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.MQTTBroker))
	opts.SetClientID(fmt.Sprintf("plantops-%d", time.Now().UnixNano()))
	opts.SetUsername(cfg.MQTTUser)
	opts.SetPassword(cfg.MQTTPass)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(15*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return newMQTTPublisher(client, cfg.MQTTTopicPrefix, logger), nil
}

func newMQTTPublisher(client mqtt.Client, prefix string, logger *zap.Logger) *MQTTPublisher {
	if prefix == "" {
		prefix = "plantops"
	}
	return &MQTTPublisher{client: client, prefix: prefix, logger: logger}
}

func (p *MQTTPublisher) Topic(kind string) string {
	return p.prefix + "/" + kind
}

func (p *MQTTPublisher) RecordReading(ctx context.Context, reading *models.SensorReading) error {
	return p.publish(ctx, p.Topic("sensors"), false, reading)
}

func (p *MQTTPublisher) RecordDecision(ctx context.Context, record *models.DecisionRecord) error {
	return p.publish(ctx, p.Topic("decisions"), false, record)
}

// PublishActuatorState publishes the reconciled actuator state as a retained
// message so new subscribers see the latest state.
func (p *MQTTPublisher) PublishActuatorState(ctx context.Context, state models.ActuatorState) error {
	return p.publish(ctx, p.Topic("actuators"), true, state)
}

func (p *MQTTPublisher) publish(ctx context.Context, topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal MQTT payload: %w", err)
	}

	token := p.client.Publish(topic, 1, retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.logger.Debug("Published MQTT message", zap.String("topic", topic))
	return nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
