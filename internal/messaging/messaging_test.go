package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Additional-Code/procura/internal/config"
)

func TestHeadersRoundTrip(t *testing.T) {
	assert.Nil(t, toKafkaHeaders(nil))

	msg := kafka.Message{
		Topic:   "orders.events",
		Key:     []byte("order-7"),
		Value:   []byte(`{"id":7}`),
		Offset:  42,
		Headers: toKafkaHeaders(map[string]string{HeaderEventType: "order.deleted"}),
	}
	got := fromKafka(msg)

	assert.Equal(t, "order-7", string(got.Key))
	assert.Equal(t, int64(42), got.Offset)
	assert.Equal(t, map[string]string{HeaderEventType: "order.deleted"}, got.Headers)

	msg.Key[0] = 'X'
	assert.Equal(t, "order-7", string(got.Key), "consumed bytes are copied")

	assert.Nil(t, fromKafka(kafka.Message{}).Headers)
}

func TestDisabledMessagingIsNoop(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	client, err := NewClient(lc, config.Config{Messaging: config.Messaging{Kafka: config.Kafka{Topic: "orders.events"}}}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "orders.events", client.Topic())
	require.NoError(t, client.Publish(context.Background(), []byte("k"), []byte("v"), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, client.Consume(ctx, func(context.Context, Message) error { return nil }), context.DeadlineExceeded)
}

func TestKafkaClientDefersGroupReader(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cfg := config.Config{Messaging: config.Messaging{
		Enabled:       true,
		Driver:        "kafka",
		ConsumerGroup: "procura-worker",
		Kafka:         config.Kafka{Brokers: []string{"127.0.0.1:1"}, Topic: "orders.events"},
	}}
	client, err := NewClient(lc, cfg, zap.NewNop())
	require.NoError(t, err)

	kc, ok := client.(*kafkaClient)
	require.True(t, ok)
	assert.Nil(t, kc.reader)
	assert.Equal(t, "procura-worker", kc.readerCfg.GroupID)

	lc.RequireStart().RequireStop()
}
