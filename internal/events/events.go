package events

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
)

// Publisher publishes batch lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, evt BatchEvent) error
	Close() error
}

// TriggerHandler handles a consumed job trigger.
type TriggerHandler func(ctx context.Context, msg TriggerMessage) error

// Consumer consumes job triggers from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler TriggerHandler) error
	Close() error
}

const (
	// ExchangeName is the topic exchange batch lifecycle events are published to.
	ExchangeName = "batch.events"
	// TriggerQueue receives externally requested job runs.
	TriggerQueue = "batch.triggers"

	dlxExchangeName = "batch.dlx"
)

// RoutingKey returns the topic routing key of an event, e.g. batch.completed.
func RoutingKey(evt BatchEvent) string {
	return fmt.Sprintf("batch.%s", evt.Type)
}

// DLQName returns the dead-letter queue name for a queue, e.g. dlq.batch.triggers.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// TypeForStatus maps a batch status to the event type emitted when a run
// reaches it.
func TypeForStatus(status domain.BatchStatus) EventType {
	switch {
	case status == domain.BatchStatusCancelled:
		return EventBatchCancelled
	case status.IsTerminal():
		return EventBatchFinished
	default:
		return EventBatchStarted
	}
}

var _ Publisher = NoopPublisher{}

// NoopPublisher drops every event. It is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, BatchEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }
