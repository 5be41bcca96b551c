package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// FulfillmentRoutingKey — routing key сообщений службы доставки о смене статуса.
const FulfillmentRoutingKey = "fulfillment.status"

// Config содержит параметры подключения к RabbitMQ.
type Config struct {
	URL              string
	Exchange         string
	FulfillmentQueue string
	DeadLetterQueue  string
}

// RabbitMQ держит соединение и канал брокера.
type RabbitMQ struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	cfg    Config
	logger *zap.Logger
}

// NewRabbitMQ подключается к брокеру и объявляет обменники и очереди.
func NewRabbitMQ(cfg Config, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	r := &RabbitMQ{conn: conn, ch: ch, cfg: cfg, logger: logger}
	if err := r.setup(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) deadLetterExchange() string {
	return r.cfg.DeadLetterQueue + "_exchange"
}

func (r *RabbitMQ) setup() error {
	if err := r.ch.ExchangeDeclare(
		r.cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", r.cfg.Exchange, err)
	}

	if err := r.ch.ExchangeDeclare(
		r.deadLetterExchange(),
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare dead letter exchange: %w", err)
	}

	if _, err := r.ch.QueueDeclare(
		r.cfg.DeadLetterQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-queue-type": "classic"},
	); err != nil {
		return fmt.Errorf("declare dead letter queue: %w", err)
	}

	if err := r.ch.QueueBind(r.cfg.DeadLetterQueue, r.cfg.DeadLetterQueue, r.deadLetterExchange(), false, nil); err != nil {
		return fmt.Errorf("bind dead letter queue: %w", err)
	}

	if _, err := r.ch.QueueDeclare(
		r.cfg.FulfillmentQueue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    r.deadLetterExchange(),
			"x-dead-letter-routing-key": r.cfg.DeadLetterQueue,
		},
	); err != nil {
		return fmt.Errorf("declare fulfillment queue: %w", err)
	}

	if err := r.ch.QueueBind(r.cfg.FulfillmentQueue, FulfillmentRoutingKey, r.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind fulfillment queue: %w", err)
	}

	return nil
}

// Publish отправляет событие заказа в обменник с routing key, равным типу события.
func (r *RabbitMQ) Publish(ctx context.Context, e OrderEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		MessageId:    e.ID,
		Body:         body,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ch.PublishWithContext(ctx, r.cfg.Exchange, string(e.Type), false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Consume читает очередь статусов доставки и очередь недоставленных сообщений, пока не отменён ctx.
func (r *RabbitMQ) Consume(ctx context.Context, c *Consumer) error {
	msgs, err := r.ch.Consume(
		r.cfg.FulfillmentQueue,
		"storefront", // consumer tag
		false,        // auto-ack
		false,        // exclusive
		false,        // no-local
		false,        // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", r.cfg.FulfillmentQueue, err)
	}

	dlqMsgs, err := r.ch.Consume(r.cfg.DeadLetterQueue, "storefront-dlq", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", r.cfg.DeadLetterQueue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("fulfillment deliveries channel closed")
			}
			r.deliver(ctx, c, msg)
		case msg, ok := <-dlqMsgs:
			if !ok {
				return errors.New("dead letter deliveries channel closed")
			}
			r.logger.Warn("dead letter received",
				zap.String("message_id", msg.MessageId),
				zap.ByteString("body", msg.Body),
			)
			if err := msg.Ack(false); err != nil {
				r.logger.Error("ack dead letter", zap.Error(err))
			}
		}
	}
}

func (r *RabbitMQ) deliver(ctx context.Context, c *Consumer, msg amqp.Delivery) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("recovered from panic in message processing", zap.Any("panic", rec))
			_ = msg.Nack(false, false)
		}
	}()

	err := c.Handle(ctx, msg.Body)
	var ackErr error
	switch Decide(err, msg.Redelivered) {
	case ActionAck:
		ackErr = msg.Ack(false)
	case ActionRequeue:
		ackErr = msg.Nack(false, true)
	case ActionDeadLetter:
		ackErr = msg.Nack(false, false)
	}
	if ackErr != nil {
		r.logger.Error("settle delivery", zap.Error(ackErr))
	}
}

// Close закрывает канал и соединение.
func (r *RabbitMQ) Close() {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			r.logger.Debug("close channel", zap.Error(err))
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.logger.Debug("close connection", zap.Error(err))
		}
	}
}
