package consumer

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"pantry-service/internal/entity"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// DemandRecorder updates the analytics fields of the ledger.
type DemandRecorder interface {
	RecordDemand(ctx context.Context, itemID string, amount float64) error
}

// Consumer is the analytics side of the stock events: withdrawn quantities
// raise an item's demand score and low stock is reported.
type Consumer struct {
	reader MessageReader
	demand DemandRecorder
}

func NewConsumer(reader MessageReader, demand DemandRecorder) *Consumer {
	return &Consumer{reader: reader, demand: demand}
}

// StartKafkaConsumer reads stock events until ctx is cancelled.
func (c *Consumer) StartKafkaConsumer(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Stock event consumer stopped")
				return
			}
			log.Error().Msgf("Error reading message: %v", err)
			continue
		}

		c.processMessage(ctx, msg)
	}
}

// processMessage handles one message keyed "stock.<type>.<transaction id>".
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	var event entity.StockEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Error().Msgf("Error unmarshalling message: %v", err)
		return
	}

	parts := strings.SplitN(string(msg.Key), ".", 3)
	if len(parts) < 2 {
		log.Error().Msgf("Malformed message key %q", string(msg.Key))
		return
	}

	switch entity.TransactionType(parts[1]) {
	case entity.TransactionWithdrawal:
		for _, item := range event.Items {
			if item.Delta >= 0 {
				continue
			}
			if err := c.demand.RecordDemand(ctx, item.ItemID, float64(-item.Delta)); err != nil {
				log.Error().Msgf("Error recording demand for item %s: %v", item.ItemID, err)
			}
		}
	case entity.TransactionRestock:
	default:
		log.Error().Msgf("Unknown stock event type: %s", parts[1])
		return
	}

	for _, item := range event.Items {
		if item.CurrentStock < item.Threshold {
			log.Warn().
				Str("item_id", item.ItemID).
				Int("current_stock", item.CurrentStock).
				Int("threshold", item.Threshold).
				Msg("Item below low-stock threshold")
		}
	}
}
