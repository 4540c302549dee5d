// Package config loads service configuration from the environment.
// Every knob has a sensible default so a bare `concierge` starts against
// local Redis, Kafka, and backend instances.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	// HTTP server.
	Port        string
	CORSOrigins []string

	// Logging.
	LogLevel  string
	LogFormat string // "json" or "text"

	// Redis session store.
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration

	// Kafka event bus.
	KafkaBrokers       []string
	KafkaConsumerGroup string
	KafkaTopics        []string

	// Project-generation backend.
	MCPServerURL string
	MCPTimeout   time.Duration

	// Reply generation. An empty key disables the LLM and the service
	// falls back on template replies.
	OpenAIAPIKey string
	OpenAIModel  string

	// Background work.
	CleanupInterval        time.Duration
	MaxConcurrentWorkflows int
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("APP_PORT", "8080"),
		CORSOrigins:        splitList(getEnv("CORS_ORIGINS", "*")),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		RedisHost:          getEnv("REDIS_HOST", "localhost"),
		RedisPort:          getEnv("REDIS_PORT", "6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		KafkaBrokers:       splitList(getEnv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")),
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "concierge"),
		KafkaTopics:        splitList(getEnv("KAFKA_TOPICS", "project-updates,conversation-events")),
		MCPServerURL:       getEnv("MCP_SERVER_URL", "http://localhost:9000"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        os.Getenv("OPENAI_MODEL"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getEnvDuration("SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.MCPTimeout, err = getEnvDuration("MCP_SERVER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.CleanupInterval, err = getEnvDuration("CLEANUP_INTERVAL", 1*time.Hour); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentWorkflows, err = getEnvInt("MAX_CONCURRENT_WORKFLOWS", 4); err != nil {
		return nil, err
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BOOTSTRAP_SERVERS must not be empty")
	}
	if len(cfg.KafkaTopics) == 0 {
		return nil, fmt.Errorf("KAFKA_TOPICS must not be empty")
	}
	return cfg, nil
}

// RedisAddr returns the host:port address of the Redis server.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (e.g. 30s, 24h): %w", key, err)
	}
	return d, nil
}

// splitList parses a comma-separated list, trimming whitespace and
// dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
