package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeReader struct {
	messages  chan kafka.Message
	mu        sync.Mutex
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case msg := <-r.messages:
		return msg, nil
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestConsumerHandlesAndCommitsEveryMessage(t *testing.T) {
	reader := &fakeReader{messages: make(chan kafka.Message, 3)}
	reader.messages <- kafka.Message{Topic: "in", Offset: 1, Value: []byte(`{}`), Headers: []kafka.Header{{Key: "message_id", Value: []byte("m1")}}}
	reader.messages <- kafka.Message{Topic: "in", Offset: 2, Value: []byte(`{}`)}
	reader.messages <- kafka.Message{Topic: "in", Offset: 3, Value: []byte(`{}`)}

	consumer := newConsumer(reader, ConsumerConfig{Topic: "in", GroupID: "g", Workers: 2}, testLogger())

	var mu sync.Mutex
	var ids []string
	err := consumer.Start(context.Background(), func(_ context.Context, msg *ReceivedMessage) error {
		mu.Lock()
		ids = append(ids, msg.Headers.MessageID)
		mu.Unlock()
		if msg.Offset == 2 {
			return errors.New("handler failed")
		}
		return nil
	})
	require.NoError(t, err)
	require.Error(t, consumer.Start(context.Background(), nil))

	assert.Eventually(t, func() bool { return reader.committedCount() == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, consumer.Stop())
	require.NoError(t, consumer.Stop())

	assert.True(t, reader.closed)
	assert.Len(t, ids, 3)
	assert.Contains(t, ids, "m1")
}

func TestNewConsumerValidatesConfig(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{}, testLogger())
	assert.EqualError(t, err, "at least one broker is required")

	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"b"}}, testLogger())
	assert.EqualError(t, err, "topic is required")

	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"b"}, Topic: "t"}, testLogger())
	assert.EqualError(t, err, "group ID is required")
}

func TestProducerPublishesJSON(t *testing.T) {
	w := &fakeWriter{}
	producer := &Producer{writer: w, logger: testLogger()}

	err := producer.Publish(context.Background(), "out", "webhook:m1", Headers{MessageID: "m1", Destination: "webhook"}, DeliveryResult{
		Destination: "webhook",
		MessageID:   "m1",
	})
	require.NoError(t, err)

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "out", msg.Topic)
	assert.Equal(t, "webhook:m1", string(msg.Key))
	assert.Len(t, msg.Headers, 2)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "webhook", decoded["destination"])
	assert.Equal(t, "m1", decoded["message_id"])
}

func TestProducerWrapsWriteError(t *testing.T) {
	producer := &Producer{writer: &fakeWriter{err: errors.New("broker down")}, logger: testLogger()}
	err := producer.Publish(context.Background(), "out", "k", Headers{}, map[string]any{})
	assert.EqualError(t, err, "failed to publish message: broker down")
}

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		batch   bool
		wantErr string
	}{
		{name: "single event", input: `{"destination":"webhook","settings":{},"event":{"type":"track"}}`},
		{name: "batch", input: `{"destination":"webhook","settings":{},"events":[{"type":"track"}]}`, batch: true},
		{name: "empty batch is a batch", input: `{"destination":"webhook","events":[]}`, batch: true},
		{name: "no destination", input: `{"event":{}}`, wantErr: "event envelope has no destination"},
		{name: "no event", input: `{"destination":"webhook"}`, wantErr: "event envelope has neither event nor events"},
		{name: "not json", input: `nope`, wantErr: "failed to parse event envelope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope, err := ParseEnvelope([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "webhook", envelope.Destination)
			assert.Equal(t, tt.batch, envelope.IsBatch())
		})
	}
}
