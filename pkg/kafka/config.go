package kafka

import "time"

const (
	FirstOffset int64 = -2
	LastOffset  int64 = -1
)

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// Workers is the number of fetch loops sharing the reader.
	Workers           int
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	CommitInterval    time.Duration
	StartOffset       int64
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	RebalanceTimeout  time.Duration
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:           []string{"localhost:9092"},
		Topic:             "petal-events",
		GroupID:           "petal",
		Workers:           4,
		MinBytes:          1,
		MaxBytes:          10e6,
		MaxWait:           3 * time.Second,
		CommitInterval:    time.Second,
		StartOffset:       LastOffset,
		SessionTimeout:    30 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		RebalanceTimeout:  30 * time.Second,
	}
}

type ProducerConfig struct {
	Brokers      []string
	BatchSize    int
	BatchTimeout time.Duration
	// RequiredAcks is 0 (none), 1 (leader) or -1 (all replicas).
	RequiredAcks int
	MaxAttempts  int
	WriteTimeout time.Duration
	// Compression is one of none, gzip, snappy, lz4 or zstd.
	Compression string
}

func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		BatchSize:    100,
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: 1,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		Compression:  "snappy",
	}
}
