package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler processes one delivery body. Returning false requeues the message.
type Handler func(body []byte) bool

// Consumer owns a connection and channel used for a single consumption loop.
type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *zap.Logger
}

// NewConsumer dials RabbitMQ and opens a channel for consuming.
func NewConsumer(amqpURL string, logger *zap.Logger) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch, logger: logger.With(zap.String("component", "rabbitmq_consumer"))}, nil
}

// Run declares the exchange and queue, binds every routing key in bindings and dispatches
// deliveries until ctx is cancelled or the channel closes. An empty queueName declares a
// server-named exclusive queue, giving each instance its own copy of every message.
func (c *Consumer) Run(ctx context.Context, exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return errors.New("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	opts := queueOptionsFor(queueName)
	q, err := c.ch.QueueDeclare(queueName, opts.durable, opts.autoDelete, opts.exclusive, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", queueName, err)
	}

	handlers := make(map[string]Handler, len(bindings))
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", routingKey, q.Name, err)
		}
	}

	msgs, err := c.ch.ConsumeWithContext(ctx, q.Name, "", false, opts.exclusive, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return amqp.ErrClosed
			}
			c.dispatch(handlers, d)
		}
	}
}

type queueOptions struct {
	durable    bool
	autoDelete bool
	exclusive  bool
}

// queueOptionsFor returns a durable shared work queue for a named queue, and a private
// queue that dies with the connection for an empty name. Consumers of a shared queue
// compete for messages; each private queue sees every message.
func queueOptionsFor(queueName string) queueOptions {
	if queueName == "" {
		return queueOptions{autoDelete: true, exclusive: true}
	}
	return queueOptions{durable: true}
}

func (c *Consumer) dispatch(handlers map[string]Handler, d amqp.Delivery) {
	handler, ok := handlers[d.RoutingKey]
	if !ok {
		c.logger.Warn("no handler for routing key; acknowledging to drop", zap.String("routing_key", d.RoutingKey))
		_ = d.Ack(false)
		return
	}
	if handler(d.Body) {
		_ = d.Ack(false)
		return
	}
	c.logger.Warn("handler failed; re-queuing", zap.String("routing_key", d.RoutingKey))
	_ = d.Nack(false, true)
}

// Close releases the channel and connection.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
