package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type productPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
}

func TestNewEvent_Fields(t *testing.T) {
	data := productPayload{ProductID: "prod-123", Name: "Trail Runner"}
	event, err := NewEvent("product.updated", "prod-123", "product", "product-service", data)
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "product.updated", event.EventType)
	assert.Equal(t, "prod-123", event.AggregateID)
	assert.Equal(t, "product", event.AggregateType)
	assert.Equal(t, "product-service", event.Source)
	assert.Equal(t, 1, event.Version)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, 2*time.Second)
	assert.NotNil(t, event.Metadata)

	var got productPayload
	require.NoError(t, json.Unmarshal(event.Data, &got))
	assert.Equal(t, data, got)
}

func TestNewEvent_InvalidData(t *testing.T) {
	_, err := NewEvent("product.updated", "prod-1", "product", "product-service", make(chan int))
	require.Error(t, err)
}

func TestEvent_WithHelpersChain(t *testing.T) {
	event, err := NewEvent("search.reindex-completed", "run-1", "sync_run", "search-service", nil)
	require.NoError(t, err)

	got := event.WithCorrelationID("corr-1").WithMetadata("trigger", "startup")
	assert.Same(t, event, got)
	assert.Equal(t, "corr-1", event.CorrelationID)
	assert.Equal(t, "startup", event.Metadata["trigger"])

	bare := &Event{}
	bare.WithMetadata("k", "v")
	assert.Equal(t, "v", bare.Metadata["k"])
}

func TestUnmarshalEvent(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid", raw: `{"event_id":"e1","event_type":"product.deleted","aggregate_id":"prod-1","data":{}}`},
		{name: "broken json", raw: `{broken`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
		{name: "missing type", raw: `{"event_id":"e1","aggregate_id":"prod-1"}`, wantErr: true},
		{name: "missing aggregate", raw: `{"event_id":"e1","event_type":"product.deleted"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := UnmarshalEvent([]byte(tt.raw))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidEvent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "prod-1", ev.AggregateID)
		})
	}
}

func TestEvent_UnmarshalData(t *testing.T) {
	event, err := NewEvent("product.created", "prod-1", "product", "product-service", productPayload{ProductID: "prod-1"})
	require.NoError(t, err)

	var target productPayload
	require.NoError(t, event.UnmarshalData(&target))
	assert.Equal(t, "prod-1", target.ProductID)

	assert.ErrorIs(t, (&Event{}).UnmarshalData(&target), ErrInvalidEvent)
	assert.Error(t, (&Event{Data: json.RawMessage(`nope`)}).UnmarshalData(&target))
}

func TestDefaultProducerConfig(t *testing.T) {
	brokers := []string{"broker1:9092", "broker2:9092"}
	cfg := DefaultProducerConfig(brokers)

	assert.Equal(t, brokers, cfg.Brokers)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.BatchTimeout)
	assert.False(t, cfg.Async)
}

func TestProducer_Publish_WritesKeyedMessage(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	w := &fakeWriter{}
	p := &Producer{writer: w, logger: quietLogger()}

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	event, err := NewEvent("search.reindex-completed", "run-1", "sync_run", "search-service", map[string]int{"indexed": 3})
	require.NoError(t, err)
	event.WithCorrelationID("corr-9")

	require.NoError(t, p.Publish(ctx, "ecommerce.search.reindex-completed", event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "ecommerce.search.reindex-completed", msg.Topic)
	assert.Equal(t, []byte("run-1"), msg.Key)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "search.reindex-completed", headers["event_type"])
	assert.Equal(t, "search-service", headers["source"])
	assert.Equal(t, "corr-9", headers["correlation_id"])
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", headers["traceparent"])

	restored, err := UnmarshalEvent(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, event.EventID, restored.EventID)
}

func TestProducer_Publish_WriteError(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("broker down")}, logger: quietLogger()}
	event, err := NewEvent("search.reindex-completed", "run-1", "sync_run", "search-service", nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), "topic-a", event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic-a")
}

func TestExtractTraceContext_FromPublishedHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	headers := []kafka.Header{{Key: "traceparent", Value: []byte("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")}}

	ctx := ExtractTraceContext(context.Background(), headers)
	sc := trace.SpanContextFromContext(ctx)
	assert.True(t, sc.IsValid())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())
}

func TestNewProducer_CreatesInstance(t *testing.T) {
	p := NewProducer(DefaultProducerConfig([]string{"localhost:19092"}), quietLogger())
	require.NotNil(t, p)
	assert.Equal(t, []string{"localhost:19092"}, p.brokers)
	assert.NoError(t, p.Close())
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	for _, brokers := range [][]string{nil, {}} {
		err := PingBrokers(t.Context(), brokers)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no brokers configured")
	}
}
