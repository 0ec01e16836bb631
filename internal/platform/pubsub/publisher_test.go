package pubsub

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

	"github.com/tableorder/api/internal/services"
)

func TestOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewOrderEventPublisher: %v", err)
	}
	defer publisher.Stop()

	event := services.OrderEvent{
		Type:           services.OrderEventStatusChanged,
		TenantID:       "tenant-a",
		OrderID:        "ord_1",
		OrderNumber:    7,
		PreviousStatus: "Pending",
		CurrentStatus:  "Making",
		ActorID:        "staff-1",
		Total:          4250,
		Currency:       "USD",
		OccurredAt:     time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != "ord_1" || payload.Total != 4250 || payload.CurrentStatus != "Making" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["type"] != services.OrderEventStatusChanged || attrs["orderNumber"] != "7" || attrs["tenantId"] != "tenant-a" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	if messages[0].OrderingKey != "tenant-a/ord_1" {
		t.Fatalf("unexpected ordering key %q", messages[0].OrderingKey)
	}
}

func TestNewOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error without topic")
	}
}
