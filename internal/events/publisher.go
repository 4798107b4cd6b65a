package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publisherAppID = "batch-orchestrator"

var _ Publisher = (*RabbitMQPublisher)(nil)

// RabbitMQPublisher announces batch lifecycle changes on the events exchange.
type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, evt BatchEvent) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid batch event: %w", err)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal batch event: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	routingKey := RoutingKey(evt)
	if err := ch.PublishWithContext(ctx, ExchangeName, routingKey, false, false, eventPublishing(evt, payload)); err != nil {
		return fmt.Errorf("failed to publish %s event for batch %s: %w", evt.Type, evt.BatchID, err)
	}

	return nil
}

// eventPublishing builds the broker message for evt with the batch identity
// repeated in its headers.
func eventPublishing(evt BatchEvent, payload []byte) amqp.Publishing {
	headers := amqp.Table{
		"batchType": evt.BatchType,
		"status":    string(evt.Status),
	}
	if evt.JobID != "" {
		headers["jobId"] = evt.JobID
	}

	return amqp.Publishing{
		AppId:         publisherAppID,
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     evt.OccurredAt.UTC(),
		MessageId:     evt.EventID,
		CorrelationId: evt.BatchID,
		Type:          string(evt.Type),
		Headers:       headers,
		Body:          payload,
	}
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
