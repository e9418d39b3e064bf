package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDLQTopic(t *testing.T) {
	tests := []struct {
		originalTopic string
		want          string
	}{
		{"ecommerce.product.updated", "ecommerce.dlq.ecommerce.product.updated"},
		{"ecommerce.inventory.stock-changed", "ecommerce.dlq.ecommerce.inventory.stock-changed"},
		{"", "ecommerce.dlq."},
	}

	for _, tt := range tests {
		t.Run(tt.originalTopic, func(t *testing.T) {
			assert.Equal(t, tt.want, DLQTopic(tt.originalTopic))
		})
	}
}

func TestDLQProducer_Publish_AddsProvenanceHeaders(t *testing.T) {
	w := &fakeWriter{}
	d := &DLQProducer{writer: w, logger: quietLogger()}

	orig := kafka.Message{
		Topic:     "ecommerce.product.updated",
		Partition: 2,
		Offset:    41,
		Key:       []byte("prod-1"),
		Value:     []byte(`{"event_id":"e-1"}`),
		Headers:   []kafka.Header{{Key: "event_type", Value: []byte("product.updated")}},
	}

	err := d.Publish(context.Background(), orig, errors.New("index write failed"), "search-service")
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	got := w.msgs[0]
	assert.Equal(t, "ecommerce.dlq.ecommerce.product.updated", got.Topic)
	assert.Equal(t, orig.Value, got.Value)
	assert.Equal(t, orig.Key, got.Key)

	headers := map[string]string{}
	for _, h := range got.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "product.updated", headers["event_type"])
	assert.Equal(t, "2", headers["dlq.original_partition"])
	assert.Equal(t, "41", headers["dlq.original_offset"])
	assert.Equal(t, "search-service", headers["dlq.consumer_group"])
	assert.Equal(t, "index write failed", headers["dlq.error"])
}

func TestDLQProducer_Publish_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	d := &DLQProducer{writer: w, logger: quietLogger()}

	err := d.Publish(context.Background(), kafka.Message{Topic: "t"}, nil, "g")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ecommerce.dlq.t")
}
