package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"stock-ledger/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	key   string
	value []byte
}

type fakeProducer struct {
	sent []captured
}

func (f *fakeProducer) PublishEvent(_ context.Context, key string, event interface{}) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, captured{key: key, value: raw})
	return nil
}

func base(eventType string) models.BaseEvent {
	return models.BaseEvent{EventID: "e-1", EventType: eventType, Timestamp: time.Now()}
}

func TestPublishAndRoute(t *testing.T) {
	ctx := context.Background()
	producer := &fakeProducer{}
	pub := NewEventPublisher(producer)

	require.NoError(t, pub.PublishStockChanged(ctx, &models.StockChangedEvent{
		BaseEvent: base(models.EventTypeStockChanged),
		Reason:    "receive",
		Items:     []models.StockDeltaData{{Name: "widget", Expiry: "2030-01-01", Delta: 5}},
	}))
	require.NoError(t, pub.PublishLoanRecorded(ctx, &models.LoanRecordedEvent{
		BaseEvent: base(models.EventTypeLoanRecorded),
		LoanID:    "l-1",
		Direction: models.DirectionLoanOut,
	}))
	require.NoError(t, pub.PublishLoanDeleted(ctx, &models.LoanDeletedEvent{
		BaseEvent: base(models.EventTypeLoanDeleted),
		LoanID:    "l-1",
	}))
	require.NoError(t, pub.PublishProductChanged(ctx, &models.ProductChangedEvent{
		BaseEvent: base(models.EventTypeProductChanged),
		Name:      "widget",
		Action:    "updated",
	}))

	require.Len(t, producer.sent, 4)
	assert.Equal(t, "stock", producer.sent[0].key)
	assert.Equal(t, "loan-l-1", producer.sent[1].key)
	assert.Equal(t, "product-widget", producer.sent[3].key)

	var got []string
	h := NewEventHandler()
	h.OnStockChanged(func(_ context.Context, e *models.StockChangedEvent) error {
		got = append(got, e.Reason+":"+e.Items[0].Name)
		return nil
	})
	h.OnLoanRecorded(func(_ context.Context, e *models.LoanRecordedEvent) error {
		got = append(got, "recorded:"+e.LoanID)
		return nil
	})
	h.OnLoanDeleted(func(_ context.Context, e *models.LoanDeletedEvent) error {
		got = append(got, "deleted:"+e.LoanID)
		return nil
	})
	h.OnProductChanged(func(_ context.Context, e *models.ProductChangedEvent) error {
		got = append(got, e.Action+":"+e.Name)
		return nil
	})

	for _, msg := range producer.sent {
		require.NoError(t, h.HandleMessage(ctx, kafka.Message{Key: []byte(msg.key), Value: msg.value}))
	}
	assert.Equal(t, []string{"receive:widget", "recorded:l-1", "deleted:l-1", "updated:widget"}, got)
}

func TestHandleMessageIgnoresUnknownTypes(t *testing.T) {
	h := NewEventHandler()

	err := h.HandleMessage(context.Background(), kafka.Message{Value: []byte(`{"event_type":"ORDER_CREATED"}`)})
	assert.NoError(t, err)

	err = h.HandleMessage(context.Background(), kafka.Message{Value: []byte(`{"event_type":"STOCK_CHANGED"}`)})
	assert.NoError(t, err, "no handler registered")

	err = h.HandleMessage(context.Background(), kafka.Message{Value: []byte(`not json`)})
	assert.Error(t, err)
}
