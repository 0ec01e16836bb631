// Package pubsub publishes order events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/tableorder/api/internal/services"
)

// OrderEventPublisher implements services.OrderEventPublisher on a Pub/Sub topic. Messages of one
// order share an ordering key so subscribers observe transitions in commit order.
type OrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*OrderEventPublisher)(nil)

// NewOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewOrderEventPublisher(topic *pubsub.Topic) (*OrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &OrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent publishes the event and waits for the server acknowledgement.
func (p *OrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "tenantId", event.TenantID)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", event.CurrentStatus)
	if event.OrderNumber > 0 {
		attrs["orderNumber"] = strconv.FormatInt(event.OrderNumber, 10)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: event.TenantID + "/" + event.OrderID,
	})

	if _, err := result.Get(ctx); err != nil {
		p.topic.ResumePublish(event.TenantID + "/" + event.OrderID)
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *OrderEventPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
