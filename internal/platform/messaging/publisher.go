package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tableorder/api/internal/services"
)

const publishTimeout = 10 * time.Second

// OrderEventPublisher implements services.OrderEventPublisher on the connection's topic exchange.
// Routing keys take the form <event type>.<tenant id>, e.g. order.status.changed.tenant-a.
type OrderEventPublisher struct {
	conn *Connection
}

var _ services.OrderEventPublisher = (*OrderEventPublisher)(nil)

// NewOrderEventPublisher constructs a RabbitMQ backed order event publisher.
func NewOrderEventPublisher(conn *Connection) (*OrderEventPublisher, error) {
	if conn == nil {
		return nil, errors.New("amqp order event publisher: connection is required")
	}
	return &OrderEventPublisher{conn: conn}, nil
}

func (p *OrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	publishing, err := buildPublishing(event)
	if err != nil {
		return err
	}
	channel, err := p.conn.channelFor(ctx)
	if err != nil {
		return fmt.Errorf("amqp order event publisher: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := channel.PublishWithContext(ctx, p.conn.Exchange(), RoutingKey(event), false, false, publishing); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// RoutingKey derives the topic routing key for event.
func RoutingKey(event services.OrderEvent) string {
	if event.TenantID == "" {
		return event.Type
	}
	return event.Type + "." + event.TenantID
}

func buildPublishing(event services.OrderEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal order event: %w", err)
	}
	timestamp := event.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    timestamp.UTC(),
		Type:         event.Type,
		MessageId:    event.OrderID + ":" + event.CurrentStatus,
		Headers: amqp.Table{
			"tenantId":    event.TenantID,
			"orderId":     event.OrderID,
			"orderNumber": strconv.FormatInt(event.OrderNumber, 10),
		},
		Body: body,
	}, nil
}
