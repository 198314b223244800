// Package events publishes committed stock movements to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"pantry-service/internal/entity"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// EventKey is "stock.<type>.<transaction id>"; consumers switch on the
// middle segment.
func EventKey(event *entity.StockEvent) string {
	return fmt.Sprintf("stock.%s.%s", event.Type, event.TransactionID)
}

func (p *KafkaPublisher) PublishStockEvent(ctx context.Context, event *entity.StockEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(EventKey(event)),
		Value: value,
	}
	return p.writer.WriteMessages(ctx, msg)
}
