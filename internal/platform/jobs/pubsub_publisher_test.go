package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/shopnest/api/internal/domain"
)

func newTestTopic(t *testing.T) (*pubsub.Topic, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	return topic, srv
}

func TestPublishOrderCreated(t *testing.T) {
	topic, srv := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	publisher.clock = func() time.Time { return now }

	order := domain.Order{
		ID:            "order-1",
		OrderNumber:   "SN260314001",
		CustomerID:    "cust-1",
		TotalAmount:   7200,
		PaymentMethod: domain.PaymentMethodMpesa,
	}
	if err := publisher.PublishOrderCreated(context.Background(), order); err != nil {
		t.Fatalf("PublishOrderCreated: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload orderEventEnvelope
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Event != eventOrderCreated || payload.OrderNumber != "SN260314001" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if !payload.OccurredAt.Equal(now) {
		t.Fatalf("expected occurredAt %v, got %v", now, payload.OccurredAt)
	}
	if attr := messages[0].Attributes["event"]; attr != eventOrderCreated {
		t.Fatalf("expected event attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["orderNumber"]; attr != "SN260314001" {
		t.Fatalf("expected orderNumber attribute, got %q", attr)
	}
}

func TestPublishPaymentConfirmedCarriesReceipt(t *testing.T) {
	topic, srv := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	order := domain.Order{
		ID:            "order-1",
		OrderNumber:   "SN260314001",
		TotalAmount:   7200,
		PaymentMethod: domain.PaymentMethodMpesa,
	}
	txn := domain.PaymentTransaction{
		ID:                 "ws_CO_14032026",
		MpesaReceiptNumber: "QK12XYZ789",
	}
	if err := publisher.PublishPaymentConfirmed(context.Background(), order, txn); err != nil {
		t.Fatalf("PublishPaymentConfirmed: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload orderEventEnvelope
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Event != eventPaymentConfirmed {
		t.Fatalf("unexpected event %q", payload.Event)
	}
	if payload.ReceiptNumber != "QK12XYZ789" {
		t.Fatalf("expected receipt in payload, got %q", payload.ReceiptNumber)
	}
	if _, ok := messages[0].Attributes["customerId"]; ok {
		t.Fatalf("customerId attribute should be absent for guest orders")
	}
}

func TestNewPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
