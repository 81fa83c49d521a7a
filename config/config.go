package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Hardware bridge
	BridgePath         string
	BridgeInterpreter  string
	SensorReadAttempts int
	SensorReadSeconds  float64
	ActionTimeout      time.Duration
	PhotoTimeout       time.Duration
	PhotoSettle        time.Duration

	// Agent behaviour
	DataDir        string
	DryRun         bool
	UseMockSensors bool
	IncludePhoto   bool
	CheckInterval  time.Duration

	SafetyLimitsPath    string
	PlantProfilePath    string
	HardwareProfilePath string

	// Reasoning service
	ReasoningProvider string
	AnthropicAPIKey   string
	AnthropicModel    string
	GeminiAPIKey      string
	GeminiModel       string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
	NotifyEveryCheck bool
	AlertWebhookURL  string

	// Telemetry and audit fan-out
	MQTTBroker                 string
	MQTTUser                   string
	MQTTPass                   string
	MQTTTopicPrefix            string
	RabbitMQURL                string
	RabbitMQExchange           string
	RabbitMQCommandQueue       string
	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string
	FirebaseBatchSize          int
	FirebaseBatchTimeout       int

	BridgeHealthTimeout time.Duration

	Fallback FallbackConfig
}

// FallbackConfig holds the thresholds of the offline rules used when the
// reasoning service cannot be reached.
type FallbackConfig struct {
	SoilCriticalPct float64
	TempLowC        float64
	TempHighC       float64
	WaterSec        int
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "data")

	config := &Config{
		BridgePath:         getEnv("BRIDGE_PATH", filepath.Join("farmctl", "farmctl.py")),
		BridgeInterpreter:  getEnv("BRIDGE_INTERPRETER", ""),
		SensorReadAttempts: getEnvInt("SENSOR_READ_ATTEMPTS", 3),
		SensorReadSeconds:  getEnvFloat("SENSOR_READ_SECONDS", 2.0),
		ActionTimeout:      getEnvDuration("ACTION_TIMEOUT", 30*time.Second),
		PhotoTimeout:       getEnvDuration("PHOTO_TIMEOUT", 20*time.Second),
		PhotoSettle:        getEnvDuration("PHOTO_SETTLE", 2*time.Second),

		DataDir:        dataDir,
		DryRun:         getEnv("AGENT_MODE", "dry-run") != "live",
		UseMockSensors: getEnvBool("USE_MOCK_SENSORS", false),
		IncludePhoto:   getEnvBool("INCLUDE_PHOTO", true),
		CheckInterval:  getEnvDuration("CHECK_INTERVAL", 30*time.Minute),

		SafetyLimitsPath:    getEnv("SAFETY_LIMITS_PATH", filepath.Join("config", "safety_limits.yaml")),
		PlantProfilePath:    getEnv("PLANT_PROFILE_PATH", filepath.Join("config", "plant_profile.yaml")),
		HardwareProfilePath: getEnv("HARDWARE_PROFILE_PATH", filepath.Join("config", "hardware_profile.yaml")),

		ReasoningProvider: strings.ToLower(getEnv("REASONING_PROVIDER", "")),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:    getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		NotifyEveryCheck: getEnvBool("NOTIFY_EVERY_CHECK", false),
		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),

		MQTTBroker:           getEnv("MQTT_BROKER", ""),
		MQTTUser:             getEnv("MQTT_USER", ""),
		MQTTPass:             getEnv("MQTT_PASS", ""),
		MQTTTopicPrefix:      getEnv("MQTT_TOPIC_PREFIX", "plantops"),
		RabbitMQURL:          getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:     getEnv("RABBITMQ_EXCHANGE", "plantops"),
		RabbitMQCommandQueue: getEnv("RABBITMQ_COMMAND_QUEUE", "plantops_commands"),

		FirebaseDbUrl:              getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		FirebaseBatchSize:          getEnvInt("FIREBASE_BATCH_SIZE", 20),
		FirebaseBatchTimeout:       getEnvInt("FIREBASE_BATCH_TIMEOUT", 30),

		BridgeHealthTimeout: getEnvDuration("BRIDGE_HEALTH_TIMEOUT", 90*time.Minute),

		Fallback: FallbackConfig{
			SoilCriticalPct: getEnvFloat("FALLBACK_SOIL_CRITICAL_PCT", 25.0),
			TempLowC:        getEnvFloat("FALLBACK_TEMP_LOW_C", 15.0),
			TempHighC:       getEnvFloat("FALLBACK_TEMP_HIGH_C", 32.0),
			WaterSec:        getEnvInt("FALLBACK_WATER_SEC", 5),
		},
	}

	return config, nil
}

// DefaultFallbackConfig returns the conservative offline thresholds.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		SoilCriticalPct: 25.0,
		TempLowC:        15.0,
		TempHighC:       32.0,
		WaterSec:        5,
	}
}

// BridgeCommand returns the argv prefix used to invoke the hardware bridge.
func (c *Config) BridgeCommand() []string {
	if c.BridgeInterpreter == "" {
		return []string{c.BridgePath}
	}
	return []string{c.BridgeInterpreter, c.BridgePath}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("45s") or plain seconds ("45").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
