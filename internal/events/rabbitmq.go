package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dialTimeout       = 15 * time.Second
	redialInitial     = time.Second
	redialCeiling     = 30 * time.Second
	triggerBindingKey = "batch.trigger.#"
)

type exchangeDecl struct {
	name string
	kind string
}

type queueDecl struct {
	name string
	args amqp.Table
	// bindings maps exchange name to routing key.
	bindings map[string]string
}

// topology is declared on every channel handed out by RabbitMQ.
var topology = struct {
	exchanges []exchangeDecl
	queues    []queueDecl
}{
	exchanges: []exchangeDecl{
		{name: ExchangeName, kind: amqp.ExchangeTopic},
		{name: dlxExchangeName, kind: amqp.ExchangeDirect},
	},
	queues: []queueDecl{
		{
			name:     DLQName(TriggerQueue),
			bindings: map[string]string{dlxExchangeName: TriggerQueue},
		},
		{
			name: TriggerQueue,
			args: amqp.Table{
				"x-dead-letter-exchange":    dlxExchangeName,
				"x-dead-letter-routing-key": TriggerQueue,
			},
			bindings: map[string]string{ExchangeName: triggerBindingKey},
		},
	},
}

// RabbitMQ owns the broker connection shared by the event publisher and the
// trigger consumer. A dropped connection is redialled lazily the next time a
// channel is requested.
type RabbitMQ struct {
	url string

	mu     sync.RWMutex
	dialMu sync.Mutex
	conn   *amqp.Connection
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	r := &RabbitMQ{url: url}
	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if !isOpen(conn) {
		return nil
	}
	return conn.Close()
}

// channel opens a channel with the batch topology declared on it. One redial
// is attempted when the current connection refuses the channel.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		r.drop(conn)
		if conn, err = r.connection(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel after redial: %w", err)
		}
	}

	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (r *RabbitMQ) current() *amqp.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

// connection returns an open connection, dialling with exponential backoff
// until ctx is done.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	if conn := r.current(); isOpen(conn) {
		return conn, nil
	}

	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	if conn := r.current(); isOpen(conn) {
		return conn, nil
	}

	wait := redialInitial
	for attempt := 1; ; attempt++ {
		conn, err := amqp.Dial(r.url)
		if err == nil {
			r.swap(conn)
			return conn, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("rabbitmq dial gave up after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
		wait = min(wait*2, redialCeiling)
	}
}

func (r *RabbitMQ) swap(conn *amqp.Connection) {
	r.mu.Lock()
	old := r.conn
	r.conn = conn
	r.mu.Unlock()

	if isOpen(old) {
		_ = old.Close()
	}
}

func (r *RabbitMQ) drop(conn *amqp.Connection) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()

	if isOpen(conn) {
		_ = conn.Close()
	}
}

func isOpen(conn *amqp.Connection) bool {
	return conn != nil && !conn.IsClosed()
}

func declareTopology(ch *amqp.Channel) error {
	for _, ex := range topology.exchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %q: %w", ex.name, err)
		}
	}

	for _, q := range topology.queues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", q.name, err)
		}
		for exchange, key := range q.bindings {
			if err := ch.QueueBind(q.name, key, exchange, false, nil); err != nil {
				return fmt.Errorf("failed to bind queue %q to %q: %w", q.name, exchange, err)
			}
		}
	}
	return nil
}
