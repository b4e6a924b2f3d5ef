// Package event publishes order lifecycle events to Kafka.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"checkout-payments/internal/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	OrderCreated   = "order.created"
	OrderPaid      = "order.paid"
	OrderFailed    = "order.failed"
	OrderCancelled = "order.cancelled"
)

type OrderEvent struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	IntentID    string    `json:"intent_id,omitempty"`
	PaymentID   string    `json:"payment_id,omitempty"`
	Reconciled  bool      `json:"reconciled,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func FromOrder(eventType string, o *model.Order) OrderEvent {
	return OrderEvent{
		Type:        eventType,
		OrderID:     o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		AmountMinor: o.AmountMinor,
		Currency:    o.Currency,
		IntentID:    o.IntentID(),
		PaymentID:   o.GatewayPaymentID,
		Reconciled:  o.Metadata.Reconciled,
		OccurredAt:  time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt OrderEvent) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer  messageWriter
	log     *zap.Logger
	timeout time.Duration
}

// batchTimeout bounds how long a synchronous publish waits for its batch to
// fill. Events are written from request handlers one message at a time.
const batchTimeout = 10 * time.Millisecond

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	return newPublisher(newWriter(brokers, topic), log)
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}
}

func newPublisher(w messageWriter, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, log: log, timeout: 5 * time.Second}
}

// Publish keys messages by order id so events for one order stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, evt OrderEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.log.Debug("order event published",
		zap.String("type", evt.Type),
		zap.String("order_id", evt.OrderID))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops events; used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, OrderEvent) error { return nil }
func (NopPublisher) Close() error                              { return nil }
