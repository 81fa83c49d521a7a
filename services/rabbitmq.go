package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"plantops/config"
	"plantops/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	RoutingKeySensorReading  = "sensor.reading"
	RoutingKeyDecisionRecord = "decision.record"
	RoutingKeyCommand        = "command.manual"
)

// CommandHandler processes one manual command taken off the queue.
type CommandHandler func(ctx context.Context, cmd *models.ManualCommand) error

// RabbitMQService mirrors audit records to a topic exchange and consumes
// manual commands from a durable queue.
type RabbitMQService struct {
	config    *config.Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	logger    *zap.Logger
	mu        sync.RWMutex
	reconnect chan bool
	isClosing atomic.Bool
}

// NewRabbitMQService creates a new RabbitMQ service instance
func NewRabbitMQService(cfg *config.Config, logger *zap.Logger) (*RabbitMQService, error) {
	service := &RabbitMQService{
		config:    cfg,
		logger:    logger,
		reconnect: make(chan bool, 1),
	}

	if err := service.connect(); err != nil {
		return nil, err
	}

	return service, nil
}

// connect dials the broker, declares the exchange and the command queue.
func (r *RabbitMQService) connect() error {
	r.logger.Info("Connecting to RabbitMQ", zap.String("url", redactURL(r.config.RabbitMQURL)))

	var conn *amqp.Connection
	var err error
	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(r.config.RabbitMQURL)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// Commands are handled one at a time.
	if err := channel.Qos(1, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	err = channel.ExchangeDeclare(
		r.config.RabbitMQExchange, // name
		"topic",                   // type
		true,                      // durable
		false,                     // auto-deleted
		false,                     // internal
		false,                     // no-wait
		nil,                       // arguments
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := channel.QueueDeclare(
		r.config.RabbitMQCommandQueue, // name
		true,                          // durable
		false,                         // delete when unused
		false,                         // exclusive
		false,                         // no-wait
		nil,                           // arguments
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, RoutingKeyCommand, r.config.RabbitMQExchange, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	// Chat front-ends publishing through the broker's MQTT plugin land on amq.topic.
	mqttKey := r.config.MQTTTopicPrefix + ".commands"
	if err := channel.QueueBind(queue.Name, mqttKey, "amq.topic", false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to bind queue to MQTT exchange: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.channel = channel
	r.mu.Unlock()

	r.logger.Info("Connected to RabbitMQ",
		zap.String("exchange", r.config.RabbitMQExchange),
		zap.String("command_queue", queue.Name))

	go r.handleReconnect(conn)

	return nil
}

// handleReconnect re-dials when the broker drops the connection.
func (r *RabbitMQService) handleReconnect(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if r.isClosing.Load() {
		r.logger.Info("RabbitMQ connection closed gracefully")
		return
	}

	r.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

	for !r.isClosing.Load() {
		r.logger.Info("Attempting to reconnect to RabbitMQ...")
		err := r.connect()
		if err == nil {
			select {
			case r.reconnect <- true:
			default:
			}
			return
		}

		r.logger.Error("Failed to reconnect", zap.Error(err))
		time.Sleep(5 * time.Second)
	}
}

// ConsumeCommands delivers queued manual commands to handler until ctx is
// done. Malformed messages are dropped. Handler errors are logged and the
// message is still acked.
func (r *RabbitMQService) ConsumeCommands(ctx context.Context, handler CommandHandler) error {
	for {
		r.mu.RLock()
		channel := r.channel
		r.mu.RUnlock()

		msgs, err := channel.Consume(
			r.config.RabbitMQCommandQueue, // queue
			"plantops-agent",              // consumer tag
			false,                         // auto-ack
			false,                         // exclusive
			false,                         // no-local
			false,                         // no-wait
			nil,                           // args
		)
		if err != nil {
			return fmt.Errorf("failed to register consumer: %w", err)
		}

		r.logger.Info("Consuming manual commands",
			zap.String("queue", r.config.RabbitMQCommandQueue))

	consumeLoop:
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Stopping command consumer")
				return nil

			case <-r.reconnect:
				r.logger.Info("Reconnection detected, restarting consumer")
				break consumeLoop

			case msg, ok := <-msgs:
				if !ok {
					r.logger.Warn("Command channel closed")
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(time.Second):
					}
					break consumeLoop
				}
				r.processCommand(ctx, msg, handler)
			}
		}
	}
}

func (r *RabbitMQService) processCommand(ctx context.Context, msg amqp.Delivery, handler CommandHandler) {
	cmd, err := DecodeManualCommand(msg.Body)
	if err != nil {
		r.logger.Error("Dropping malformed command",
			zap.String("message_id", msg.MessageId),
			zap.Error(err))
		msg.Nack(false, false)
		return
	}

	if err := handler(ctx, cmd); err != nil {
		r.logger.Error("Manual command failed",
			zap.String("action", string(cmd.Action)),
			zap.Error(err))
	}
	msg.Ack(false)
}

// DecodeManualCommand parses a command message. The source defaults to
// manual; only manual and chat are accepted.
func DecodeManualCommand(body []byte) (*models.ManualCommand, error) {
	var cmd models.ManualCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal command: %w", err)
	}
	cmd.Action = models.ActionKind(strings.TrimSpace(string(cmd.Action)))
	if cmd.Action == "" {
		return nil, fmt.Errorf("invalid command: missing action")
	}
	switch cmd.Source {
	case "":
		cmd.Source = models.SourceManual
	case models.SourceManual, models.SourceChat:
	default:
		return nil, fmt.Errorf("invalid command source %q", cmd.Source)
	}
	return &cmd, nil
}

// RecordReading publishes a sensor reading.
func (r *RabbitMQService) RecordReading(ctx context.Context, reading *models.SensorReading) error {
	return r.publish(ctx, RoutingKeySensorReading, "", reading)
}

// RecordDecision publishes a decision record.
func (r *RabbitMQService) RecordDecision(ctx context.Context, record *models.DecisionRecord) error {
	return r.publish(ctx, RoutingKeyDecisionRecord, record.ID, record)
}

// PublishCommand queues a manual command, e.g. from the CLI of another host.
func (r *RabbitMQService) PublishCommand(ctx context.Context, cmd *models.ManualCommand) error {
	return r.publish(ctx, RoutingKeyCommand, "", cmd)
}

func (r *RabbitMQService) publish(ctx context.Context, routingKey, messageID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	r.mu.RLock()
	channel := r.channel
	r.mu.RUnlock()

	err = channel.PublishWithContext(ctx,
		r.config.RabbitMQExchange, // exchange
		routingKey,                // routing key
		false,                     // mandatory
		false,                     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    messageID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	r.logger.Debug("Published to RabbitMQ", zap.String("routing_key", routingKey))
	return nil
}

// Close gracefully closes RabbitMQ connection
func (r *RabbitMQService) Close() error {
	r.isClosing.Store(true)

	r.logger.Info("Closing RabbitMQ connection")

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}

// redactURL hides the password of an amqp:// URL for logging.
func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	creds := raw[scheme+3 : at]
	if user, _, ok := strings.Cut(creds, ":"); ok {
		return raw[:scheme+3] + user + ":***" + raw[at:]
	}
	return raw
}
