package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"checkout-payments/internal/model"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestPublishWritesKeyedMessage(t *testing.T) {
	w := &recordingWriter{}
	p := newPublisher(w, zaptest.NewLogger(t))

	intent := "order_rzp_1"
	o := &model.Order{
		ID:               "o-1",
		UserID:           "u-1",
		Status:           model.OrderStatusPaid,
		AmountMinor:      650000,
		Currency:         "INR",
		GatewayIntentID:  &intent,
		GatewayPaymentID: "pay_1",
		Metadata:         model.OrderMetadata{Reconciled: true},
	}

	require.NoError(t, p.Publish(context.Background(), FromOrder(OrderPaid, o)))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "o-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, OrderPaid, string(msg.Headers[0].Value))

	var got OrderEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, OrderPaid, got.Type)
	assert.Equal(t, "order_rzp_1", got.IntentID)
	assert.Equal(t, "pay_1", got.PaymentID)
	assert.Equal(t, int64(650000), got.AmountMinor)
	assert.True(t, got.Reconciled)
}

func TestPublishReturnsWriterError(t *testing.T) {
	p := newPublisher(&recordingWriter{err: errors.New("broker down")}, zaptest.NewLogger(t))

	err := p.Publish(context.Background(), OrderEvent{Type: OrderFailed, OrderID: "o-2"})
	assert.ErrorContains(t, err, "broker down")
}

func TestWriterDoesNotHoldRequestsForBatches(t *testing.T) {
	w := newWriter([]string{"localhost:9092"}, "order-events")
	t.Cleanup(func() { _ = w.Close() })

	assert.Equal(t, "order-events", w.Topic)
	assert.LessOrEqual(t, w.BatchTimeout, 10*time.Millisecond)
	assert.Positive(t, w.BatchTimeout)
	assert.False(t, w.Async)
}
