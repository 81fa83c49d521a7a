package main

import (
	"context"
	"errors"
	"os"
	"time"

	"plantops/config"
	"plantops/log"
	"plantops/services"

	"go.uber.org/zap"
)

// app holds the wired services shared by every subcommand.
type app struct {
	cfg    *config.Config
	limits *config.SafetyLimits
	logger *zap.Logger

	agent     *services.PlantAgent
	decisions *services.DecisionLog
	state     *services.ActuatorStateStore
	health    *services.BridgeHealthMonitor
	usage     *services.UsageTracker

	telegram *services.TelegramService
	webhook  *services.WebhookAlertService
	mqtt     *services.MQTTPublisher
	rabbit   *services.RabbitMQService
	firebase *services.FirebaseService
	batch    *services.BatchWriterService

	stopBatch context.CancelFunc
}

// loadConfig reads the environment and the safety limits file. A missing
// limits file falls back to the built-in defaults.
func loadConfig(logger *zap.Logger) (*config.Config, *config.SafetyLimits, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	limits, err := config.LoadSafetyLimits(cfg.SafetyLimitsPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, nil, err
		}
		logger.Warn("Safety limits file not found, using defaults",
			zap.String("path", cfg.SafetyLimitsPath))
	}
	return cfg, limits, nil
}

// newApp wires the agent. Optional integrations (Telegram, webhook, MQTT,
// RabbitMQ, Firebase) are only connected when configured, and a failed
// connection is logged and skipped.
func newApp(ctx context.Context, cfg *config.Config, limits *config.SafetyLimits) (*app, error) {
	logger := log.GetInstance()
	a := &app{
		cfg:    cfg,
		limits: limits,
		logger: logger,
		usage:  services.NewUsageTracker(),
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}

	sink := services.NewMultiSink(logger)
	a.connectMirrors(ctx, sink)

	decisions, err := services.NewDecisionLog(cfg.DataDir, sink, logger)
	if err != nil {
		return nil, err
	}
	a.decisions = decisions
	a.state = services.NewActuatorStateStore(cfg.DataDir, logger)

	var notifiers []services.CheckNotifier
	var bridgeAlerters []services.BridgeAlerter
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		telegram, err := services.NewTelegramService(cfg, logger)
		if err != nil {
			logger.Warn("Telegram disabled", zap.Error(err))
		} else {
			a.telegram = telegram
			notifiers = append(notifiers, telegram)
			bridgeAlerters = append(bridgeAlerters, telegram)
		}
	}
	if cfg.AlertWebhookURL != "" {
		a.webhook = services.NewWebhookAlertService(logger, cfg.AlertWebhookURL)
		notifiers = append(notifiers, a.webhook)
		logger.Info("Webhook alerts enabled", zap.String("url", cfg.AlertWebhookURL))
	}

	a.health = services.NewBridgeHealthMonitor(cfg, logger, bridgeAlerters...)

	bridge := services.NewBridgeFromConfig(cfg)
	var sensors services.ReadingSource = services.NewSensorReader(cfg, bridge, logger)
	if cfg.UseMockSensors {
		sensors = services.MockSensorSource{}
	}

	deps := services.AgentDeps{
		Sensors: sensors,
		// Photos are always taken for real so the reasoning service sees the
		// plant even when actuation is simulated.
		Executor:      services.NewActionExecutor(cfg, bridge, cfg.DryRun, logger),
		PhotoExecutor: services.NewActionExecutor(cfg, bridge, false, logger),
		Validator:     services.NewSafetyValidator(limits, logger),
		State:         a.state,
		Decisions:     decisions,
		SensorLog:     services.NewSensorLog(cfg.DataDir, sink, logger),
		Reasoner:      services.NewReasoner(ctx, cfg, a.usage, logger),
		Fallback:      services.NewFallbackRules(cfg.Fallback),
		Profiles:      services.NewProfileStore(cfg, logger),
		Health:        a.health,
		Notifiers:     notifiers,
	}
	if a.mqtt != nil {
		deps.Publisher = a.mqtt
	}
	a.agent = services.NewPlantAgent(cfg, deps, logger)
	return a, nil
}

// connectMirrors attaches the configured audit mirrors to sink.
func (a *app) connectMirrors(ctx context.Context, sink *services.MultiSink) {
	cfg, logger := a.cfg, a.logger

	if cfg.MQTTBroker != "" {
		mqttPub, err := services.NewMQTTPublisher(cfg, logger)
		if err != nil {
			logger.Warn("MQTT telemetry disabled", zap.Error(err))
		} else {
			a.mqtt = mqttPub
			sink.Add(mqttPub)
		}
	}

	if cfg.RabbitMQURL != "" {
		rabbit, err := services.NewRabbitMQService(cfg, logger)
		if err != nil {
			logger.Warn("RabbitMQ disabled", zap.Error(err))
		} else {
			a.rabbit = rabbit
			sink.Add(rabbit)
		}
	}

	if cfg.FirebaseDbUrl != "" {
		fb, err := services.NewFirebaseService(ctx, cfg, logger)
		if err != nil {
			logger.Warn("Firebase mirror disabled", zap.Error(err))
		} else {
			a.firebase = fb
			a.batch = services.NewBatchWriterService(cfg, fb, logger)
			batchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			a.stopBatch = cancel
			go a.batch.Start(batchCtx)
			sink.Add(a.batch)
		}
	}
}

// Close flushes the mirrors and releases every connection.
func (a *app) Close() {
	if a.batch != nil {
		a.stopBatch()
		if !a.batch.WaitForShutdown(10 * time.Second) {
			a.logger.Warn("Batch writer did not finish flushing in time")
		}
	}
	if a.firebase != nil {
		if err := a.firebase.Close(); err != nil {
			a.logger.Error("Error closing Firebase service", zap.Error(err))
		}
	}
	if a.rabbit != nil {
		a.rabbit.Close()
	}
	if a.mqtt != nil {
		a.mqtt.Close()
	}

	usage := a.usage.Summary()
	if usage.Calls > 0 {
		a.logger.Info("Reasoning service usage",
			zap.Int("calls", usage.Calls),
			zap.Int64("input_tokens", usage.InputTokens),
			zap.Int64("output_tokens", usage.OutputTokens),
			zap.Float64("estimated_cost_usd", usage.EstimatedCostUSD))
	}
}

// stopAlerters returns the configured emergency-stop alert channels.
func (a *app) stopAlerters() []services.StopAlerter {
	var out []services.StopAlerter
	if a.telegram != nil {
		out = append(out, a.telegram)
	}
	if a.webhook != nil {
		out = append(out, a.webhook)
	}
	return out
}
