package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var _ Consumer = (*RabbitMQConsumer)(nil)

type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionDeadLetter
)

func (d disposition) String() string {
	switch d {
	case dispositionAck:
		return "ack"
	case dispositionRequeue:
		return "requeue"
	default:
		return "dead-letter"
	}
}

// RabbitMQConsumer delivers job triggers to a handler. Triggers the handler
// can never satisfy (unknown job, invalid overrides) are dead-lettered;
// other handler failures are requeued.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQConsumer{
		client:   client,
		prefetch: max(prefetch, 1),
		logger:   logger,
	}
}

// Consume blocks until ctx is done, re-subscribing with backoff whenever the
// delivery stream breaks.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler TriggerHandler) error {
	switch {
	case c == nil || c.client == nil:
		return fmt.Errorf("consumer is not initialized")
	case queue == "":
		return fmt.Errorf("queue name is required")
	case handler == nil:
		return fmt.Errorf("trigger handler is required")
	}

	wait := redialInitial
	for ctx.Err() == nil {
		err := c.subscribe(ctx, queue, handler)
		if err == nil || ctx.Err() != nil {
			wait = redialInitial
			continue
		}

		c.logger.Warn("trigger subscription interrupted",
			zap.String("queue", queue),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		wait = min(wait*2, redialCeiling)
	}
	return nil
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler TriggerHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery stream of %q closed", queue)
			}
			if err := settle(d, c.dispatch(ctx, d.Body, handler)); err != nil {
				return err
			}
		}
	}
}

// dispatch decodes one trigger, hands it to the handler and decides how the
// delivery is settled.
func (c *RabbitMQConsumer) dispatch(ctx context.Context, body []byte, handler TriggerHandler) disposition {
	var msg TriggerMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Warn("dead-lettering trigger with malformed body", zap.Error(err))
		return dispositionDeadLetter
	}
	if err := msg.Validate(); err != nil {
		c.logger.Warn("dead-lettering invalid trigger", zap.Error(err))
		return dispositionDeadLetter
	}

	err := handler(ctx, msg)
	outcome := dispositionFor(err)
	if err != nil {
		c.logger.Warn("trigger handler failed",
			zap.String("jobId", msg.JobID),
			zap.String("requestedBy", msg.RequestedBy),
			zap.Stringer("disposition", outcome),
			zap.Error(err),
		)
	}
	return outcome
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func settle(d amqp.Delivery, outcome disposition) error {
	var err error
	switch outcome {
	case dispositionAck:
		err = d.Ack(false)
	case dispositionRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Reject(false)
	}
	if err != nil {
		return fmt.Errorf("failed to %s delivery: %w", outcome, err)
	}
	return nil
}

func dispositionFor(err error) disposition {
	switch {
	case err == nil:
		return dispositionAck
	case isPermanentTriggerError(err):
		return dispositionDeadLetter
	default:
		return dispositionRequeue
	}
}

func isPermanentTriggerError(err error) bool {
	return errors.Is(err, domain.ErrConfigNotFound) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInvalidBatchType)
}
