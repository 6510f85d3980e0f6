package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "petal", cfg.AppName)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers())
	assert.Equal(t, "petal-events", cfg.KafkaInputTopic)
	assert.Equal(t, 30*time.Second, cfg.ProcessorTimeout())
	assert.Equal(t, 30*time.Second, cfg.OAuthLockTTL())
	assert.True(t, cfg.SchemaCacheEnabled)
	assert.False(t, cfg.AuthEnabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("PRETTY_LOGS", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("PROCESSOR_TIMEOUT_SECONDS", "5")
	t.Setenv("SCHEMA_CACHE_ENABLED", "false")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACING_EXPORTER", "http")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Port)
	assert.True(t, cfg.PrettyLogs)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers())
	assert.Equal(t, 5*time.Second, cfg.ProcessorTimeout())
	assert.False(t, cfg.SchemaCacheEnabled)
	assert.Equal(t, "http", cfg.TracingExporter)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "auth without issuer",
			env:     map[string]string{"AUTH_ENABLED": "true", "AUTH_CLIENT_ID": "petal"},
			wantErr: "AUTH_ISSUER_URL and AUTH_CLIENT_ID are required",
		},
		{
			name:    "unknown exporter",
			env:     map[string]string{"TRACING_ENABLED": "true", "TRACING_EXPORTER": "zipkin"},
			wantErr: "TRACING_EXPORTER must be grpc or http",
		},
		{
			name:    "no workers",
			env:     map[string]string{"PROCESSOR_WORKER_COUNT": "0"},
			wantErr: "PROCESSOR_WORKER_COUNT must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := load(viper.New())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "petal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9090
kafka_brokers:
  - kafka-a:9092
  - kafka-b:9092
redis:
  host: redis.internal
`), 0o600))

	// registered so the exported values are restored afterwards
	for _, name := range []string{"PORT", "KAFKA_BROKERS", "REDIS_HOST"} {
		t.Setenv(name, "")
	}
	t.Setenv("REDIS_HOST", "redis.env")

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := load(v)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"kafka-a:9092", "kafka-b:9092"}, cfg.Brokers())
	assert.Equal(t, "redis.env", cfg.RedisHost)
}
