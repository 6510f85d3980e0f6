package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName                       string `env:"APP_NAME" env-default:"petal"`
	Version                       string `env:"APP_VERSION" env-default:"dev"`
	Port                          int    `env:"PORT" env-default:"3000"`
	LogLevel                      string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool   `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerReadTimeoutSeconds  int    `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerWriteTimeoutSeconds int    `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerIdleTimeoutSeconds  int    `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"60"`
	HttpClientTimeoutSeconds      int    `env:"HTTP_CLIENT_TIMEOUT_SECONDS" env-default:"10"`
	ShutdownTimeoutSeconds        int    `env:"SHUTDOWN_TIMEOUT_SECONDS" env-default:"15"`
	StartupMaxAttempts            int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Bearer token auth on /v1; needs the issuer and client ID
	AuthEnabled   bool   `env:"AUTH_ENABLED" env-default:"false"`
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	AuthClientID  string `env:"AUTH_CLIENT_ID" env-default:""`

	RedisEnabled  bool   `env:"REDIS_ENABLED" env-default:"true"`
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Comma separated
	KafkaBrokers         string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaInputTopic      string `env:"KAFKA_INPUT_TOPIC" env-default:"petal-events"`
	KafkaConsumerGroup   string `env:"KAFKA_CONSUMER_GROUP" env-default:"petal"`
	KafkaOutputTopic     string `env:"KAFKA_OUTPUT_TOPIC" env-default:"petal-results"`
	KafkaErrorTopic      string `env:"KAFKA_ERROR_TOPIC" env-default:"petal-errors"`
	KafkaConsumerEnabled bool   `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`
	KafkaCompression     string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	ProcessorWorkerCount    int `env:"PROCESSOR_WORKER_COUNT" env-default:"4"`
	ProcessorTimeoutSeconds int `env:"PROCESSOR_TIMEOUT_SECONDS" env-default:"30"`

	OAuthLockTTLSeconds int    `env:"OAUTH_LOCK_TTL_SECONDS" env-default:"30"`
	OAuthTokenURL       string `env:"OAUTH_TOKEN_URL" env-default:""`

	SchemaCacheEnabled bool `env:"SCHEMA_CACHE_ENABLED" env-default:"true"`

	TracingEnabled  bool   `env:"TRACING_ENABLED" env-default:"false"`
	TracingExporter string `env:"TRACING_EXPORTER" env-default:"grpc"`
	TracingEndpoint string `env:"TRACING_ENDPOINT" env-default:"localhost:4317"`
	TracingInsecure bool   `env:"TRACING_INSECURE" env-default:"true"`
}

// Load reads the environment, after an optional .env file in the working
// directory and an optional config file named by CONFIG_FILE. Real
// environment variables win over both files.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	v := viper.New()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	if err := exportFileSettings(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return nil, fmt.Errorf("bind environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// exportFileSettings copies config file keys into the environment as upper
// case variables (nested keys joined with "_"). Variables that are already
// set are left alone.
func exportFileSettings(v *viper.Viper) error {
	for _, key := range v.AllKeys() {
		name := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if os.Getenv(name) != "" {
			continue
		}

		value := v.GetString(key)
		if _, isList := v.Get(key).([]any); isList {
			value = strings.Join(v.GetStringSlice(key), ",")
		}
		if err := os.Setenv(name, value); err != nil {
			return fmt.Errorf("export %s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.AuthEnabled && (c.AuthIssuerURL == "" || c.AuthClientID == "") {
		return errors.New("AUTH_ISSUER_URL and AUTH_CLIENT_ID are required when AUTH_ENABLED is set")
	}
	if c.TracingEnabled && c.TracingExporter != "grpc" && c.TracingExporter != "http" {
		return fmt.Errorf("TRACING_EXPORTER must be grpc or http, got %q", c.TracingExporter)
	}
	if c.ProcessorWorkerCount < 1 {
		return fmt.Errorf("PROCESSOR_WORKER_COUNT must be at least 1, got %d", c.ProcessorWorkerCount)
	}
	return nil
}

func (c *Config) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func (c *Config) ProcessorTimeout() time.Duration {
	return time.Duration(c.ProcessorTimeoutSeconds) * time.Second
}

func (c *Config) OAuthLockTTL() time.Duration {
	return time.Duration(c.OAuthLockTTLSeconds) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
