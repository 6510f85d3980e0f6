package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/petal/pkg/metrics"
)

// MessageHandler processes one message. Returned errors are logged and the
// message is committed regardless.
type MessageHandler func(ctx context.Context, msg *ReceivedMessage) error

type ReceivedMessage struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   Headers
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader  reader
	logger  ectologger.Logger
	config  ConsumerConfig
	handler MessageHandler
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	running bool
	mu      sync.Mutex
}

func NewConsumer(config ConsumerConfig, logger ectologger.Logger) (*Consumer, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if config.GroupID == "" {
		return nil, fmt.Errorf("group ID is required")
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           config.Brokers,
		Topic:             config.Topic,
		GroupID:           config.GroupID,
		MinBytes:          config.MinBytes,
		MaxBytes:          config.MaxBytes,
		MaxWait:           config.MaxWait,
		CommitInterval:    config.CommitInterval,
		StartOffset:       config.StartOffset,
		SessionTimeout:    config.SessionTimeout,
		HeartbeatInterval: config.HeartbeatInterval,
		RebalanceTimeout:  config.RebalanceTimeout,
	})
	return newConsumer(r, config, logger), nil
}

func newConsumer(r reader, config ConsumerConfig, logger ectologger.Logger) *Consumer {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Consumer{reader: r, logger: logger, config: config}
}

// Start runs the fetch loops in the background until Stop or ctx is done.
func (c *Consumer) Start(ctx context.Context, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("consumer is already running")
	}
	c.running = true
	c.handler = handler

	ctx, c.cancel = context.WithCancel(ctx)
	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go c.consumeLoop(ctx)
	}

	c.logger.Infof("Kafka consumer started for topic %s (group: %s, workers: %d)", c.config.Topic, c.config.GroupID, c.config.Workers)
	return nil
}

// Stop waits for in-flight messages and closes the reader.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close reader: %w", err)
	}
	c.logger.Info("Kafka consumer stopped")
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.logger.WithError(err).Error("Failed to fetch message")
			continue
		}

		status := "success"
		if err := c.handler(ctx, toReceived(msg)); err != nil {
			status = "error"
			c.logger.WithContext(ctx).WithError(err).Errorf("Handler failed for message at offset %d", msg.Offset)
		}
		metrics.RecordKafkaConsume(msg.Topic, status)

		// the handler already reported failures, a retry would repeat the delivery
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.WithError(err).Errorf("Failed to commit message at offset %d", msg.Offset)
		}
	}
}

func toReceived(msg kafka.Message) *ReceivedMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &ReceivedMessage{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headersFromMap(headers),
	}
}
