package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantry-service/internal/entity"
)

type demandRecorder struct {
	calls map[string]float64
}

func (d *demandRecorder) RecordDemand(_ context.Context, itemID string, amount float64) error {
	if d.calls == nil {
		d.calls = map[string]float64{}
	}
	d.calls[itemID] += amount
	return nil
}

type sliceReader struct {
	msgs   []kafka.Message
	cancel context.CancelFunc
}

func (r *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func message(t *testing.T, event entity.StockEvent) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{
		Key:   []byte("stock." + string(event.Type) + "." + event.TransactionID),
		Value: value,
	}
}

func TestProcessMessage_Withdrawal(t *testing.T) {
	d := &demandRecorder{}
	c := NewConsumer(nil, d)

	c.processMessage(context.Background(), message(t, entity.StockEvent{
		TransactionID: "WD-1",
		Type:          entity.TransactionWithdrawal,
		Items: []entity.StockEventItem{
			{ItemID: "X1", Delta: -3, CurrentStock: 7, Threshold: 2},
			{ItemID: "X2", Delta: -1, CurrentStock: 0, Threshold: 1},
		},
	}))

	assert.Equal(t, map[string]float64{"X1": 3, "X2": 1}, d.calls)
}

func TestProcessMessage_IgnoresRestockAndGarbage(t *testing.T) {
	d := &demandRecorder{}
	c := NewConsumer(nil, d)

	c.processMessage(context.Background(), message(t, entity.StockEvent{
		TransactionID: "RS-1",
		Type:          entity.TransactionRestock,
		Items:         []entity.StockEventItem{{ItemID: "X1", Delta: 5, CurrentStock: 5, Threshold: 1}},
	}))
	c.processMessage(context.Background(), kafka.Message{Key: []byte("stock.withdrawal.WD-2"), Value: []byte("{")})
	c.processMessage(context.Background(), kafka.Message{Key: []byte("nokey"), Value: []byte("{}")})

	assert.Empty(t, d.calls)
}

func TestStartKafkaConsumer_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &demandRecorder{}
	r := &sliceReader{cancel: cancel, msgs: []kafka.Message{message(t, entity.StockEvent{
		TransactionID: "WD-1",
		Type:          entity.TransactionWithdrawal,
		Items:         []entity.StockEventItem{{ItemID: "X1", Delta: -2}},
	})}}

	NewConsumer(r, d).StartKafkaConsumer(ctx)

	assert.Equal(t, map[string]float64{"X1": 2}, d.calls)
	assert.True(t, errors.Is(ctx.Err(), context.Canceled))
}
