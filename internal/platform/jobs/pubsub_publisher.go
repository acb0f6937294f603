package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/shopnest/api/internal/domain"
)

const (
	eventOrderCreated     = "order.created"
	eventPaymentConfirmed = "order.payment.confirmed"
)

// orderEventEnvelope is the wire shape for order lifecycle events.
type orderEventEnvelope struct {
	Event         string    `json:"event"`
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber"`
	CustomerID    string    `json:"customerId,omitempty"`
	TotalAmount   int64     `json:"totalAmount"`
	PaymentMethod string    `json:"paymentMethod"`
	ReceiptNumber string    `json:"mpesaReceiptNumber,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// PubSubOrderEventPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	clock   func() time.Time
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	return &PubSubOrderEventPublisher{
		topic:   topic,
		clock:   time.Now,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderCreated emits an order.created event for a freshly stored order.
func (p *PubSubOrderEventPublisher) PublishOrderCreated(ctx context.Context, order domain.Order) error {
	envelope := orderEventEnvelope{
		Event:         eventOrderCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerID:    order.CustomerID,
		TotalAmount:   order.TotalAmount,
		PaymentMethod: string(order.PaymentMethod),
		OccurredAt:    p.clock().UTC(),
	}
	return p.publish(ctx, envelope)
}

// PublishPaymentConfirmed emits an order.payment.confirmed event once a push
// payment settles against the order.
func (p *PubSubOrderEventPublisher) PublishPaymentConfirmed(ctx context.Context, order domain.Order, txn domain.PaymentTransaction) error {
	envelope := orderEventEnvelope{
		Event:         eventPaymentConfirmed,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerID:    order.CustomerID,
		TotalAmount:   order.TotalAmount,
		PaymentMethod: string(order.PaymentMethod),
		ReceiptNumber: txn.MpesaReceiptNumber,
		OccurredAt:    p.clock().UTC(),
	}
	return p.publish(ctx, envelope)
}

func (p *PubSubOrderEventPublisher) publish(ctx context.Context, envelope orderEventEnvelope) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}

	data, err := p.marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "event", envelope.Event)
	setAttr(attrs, "orderId", envelope.OrderID)
	setAttr(attrs, "orderNumber", envelope.OrderNumber)
	setAttr(attrs, "customerId", envelope.CustomerID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
