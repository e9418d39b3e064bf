// Package event turns catalog and inventory domain events into targeted
// index updates.
package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/catalogsearch/pkg/kafka"
)

// Kafka topics consumed by the search service. Event types equal the topic
// they are published on.
var (
	TopicProductCreated    = pkgkafka.Topic("product", "created")
	TopicProductUpdated    = pkgkafka.Topic("product", "updated")
	TopicProductDeleted    = pkgkafka.Topic("product", "deleted")
	TopicInventoryUpdated  = pkgkafka.Topic("inventory", "updated")
	TopicInventoryReserved = pkgkafka.Topic("inventory", "reserved")
	TopicInventoryReleased = pkgkafka.Topic("inventory", "released")
)

// Topics returns every topic the consumer subscribes to.
func Topics() []string {
	return []string{
		TopicProductCreated,
		TopicProductUpdated,
		TopicProductDeleted,
		TopicInventoryUpdated,
		TopicInventoryReserved,
		TopicInventoryReleased,
	}
}

// ProductEventData is the part of a product event payload the index needs.
// The document itself is always rebuilt from the catalog.
type ProductEventData struct {
	ID string `json:"id"`
}

// InventoryEventData is the part of an inventory event payload the index
// needs.
type InventoryEventData struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
}

// Indexer receives write-path notifications. Implementations handle their
// own failures.
type Indexer interface {
	HandleProductChanged(ctx context.Context, id string)
	HandleProductDeleted(ctx context.Context, id string)
}

// Consumer dispatches Kafka events to the indexer.
type Consumer struct {
	indexer Indexer
	logger  *slog.Logger
}

// NewConsumer creates a new event consumer.
func NewConsumer(indexer Indexer, logger *slog.Logger) *Consumer {
	return &Consumer{
		indexer: indexer,
		logger:  logger,
	}
}

// Handle processes a Kafka event based on its type. Only undecodable payloads
// fail, so that they end up on the dead-letter topic.
func (c *Consumer) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.EventType {
	case TopicProductCreated, TopicProductUpdated:
		id, err := productID(event)
		if err != nil {
			return err
		}
		c.indexer.HandleProductChanged(ctx, id)
	case TopicProductDeleted:
		id, err := productID(event)
		if err != nil {
			return err
		}
		c.indexer.HandleProductDeleted(ctx, id)
	case TopicInventoryUpdated, TopicInventoryReserved, TopicInventoryReleased:
		var data InventoryEventData
		if err := event.UnmarshalData(&data); err != nil {
			return fmt.Errorf("unmarshal %s data: %w", event.EventType, err)
		}
		if data.ProductID == "" {
			c.logger.WarnContext(ctx, "inventory event without product id",
				slog.String("event_id", event.EventID),
				slog.String("variant_id", data.VariantID),
			)
			return nil
		}
		c.indexer.HandleProductChanged(ctx, data.ProductID)
	default:
		c.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
	}
	return nil
}

// productID reads the product id from the payload, falling back to the
// aggregate id.
func productID(event *pkgkafka.Event) (string, error) {
	var data ProductEventData
	if err := event.UnmarshalData(&data); err != nil {
		return "", fmt.Errorf("unmarshal %s data: %w", event.EventType, err)
	}
	if data.ID == "" {
		data.ID = event.AggregateID
	}
	if data.ID == "" {
		return "", fmt.Errorf("%s event %s carries no product id", event.EventType, event.EventID)
	}
	return data.ID, nil
}
