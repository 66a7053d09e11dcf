package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает сообщение.
//
// nil — ack. Ошибка, обёрнутая Permanent, отправляет сообщение в DLQ.
// Любая другая ошибка возвращает сообщение в очередь один раз;
// повторный сбой на redelivered сообщении тоже уходит в DLQ.
type Handler func(ctx context.Context, msg *Message) error

// Outcome — что сделать с доставкой после обработки.
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeRequeue
	OutcomeReject
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRequeue:
		return "requeue"
	case OutcomeReject:
		return "reject"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неустранимую повтором.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent проверяет, помечена ли ошибка Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Decide выбирает Outcome по результату обработчика.
func Decide(err error, redelivered bool) Outcome {
	switch {
	case err == nil:
		return OutcomeAck
	case IsPermanent(err), redelivered:
		return OutcomeReject
	default:
		return OutcomeRequeue
	}
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	Queue   Queue
	Handler Handler

	// Prefetch — сколько сообщений брокер отдаёт без ack. По умолчанию 1.
	Prefetch int
}

// Consumer потребляет сообщения из очереди RabbitMQ.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    Queue
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start потребляет сообщения до отмены ctx или Stop.
// После обрыва соединения ждёт переподключения и продолжает.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// до setupConsume: переподключение во время работы не должно потеряться
		reconnected := c.conn.ReconnectNotify()

		deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "error", err)
		} else {
			c.logger.Info("consumer started")
			c.processDeliveries(ctx, deliveries)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconnected:
			c.logger.Info("reconnected, restarting consumer")
		}
	}
}

func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		string(c.queue), // queue
		"",              // consumer tag (auto-generated)
		false,           // auto-ack
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return deliveries, nil
}

func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				return
			}
			c.handleDelivery(ctx, raw)
		}
	}
}

// handleDelivery обрабатывает одно сообщение и возвращает применённый Outcome.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) Outcome {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message", "error", err, "body", string(raw.Body))
		c.settle(raw, OutcomeReject)
		return OutcomeReject
	}

	log := c.logger.With("message_id", msg.ID, "type", msg.Type)
	log.Debug("received message", "redelivered", raw.Redelivered)

	err := c.handler(ctx, &msg)
	outcome := Decide(err, raw.Redelivered)
	if err != nil {
		log.Error("handler failed", "error", err, "outcome", outcome)
	}

	c.settle(raw, outcome)
	return outcome
}

func (c *Consumer) settle(raw amqp.Delivery, outcome Outcome) {
	var err error
	switch outcome {
	case OutcomeAck:
		err = raw.Ack(false)
	case OutcomeRequeue:
		err = raw.Nack(false, true)
	case OutcomeReject:
		// очередь объявлена с x-dead-letter-exchange
		err = raw.Nack(false, false)
	}
	if err != nil {
		c.logger.Warn("failed to settle delivery", "outcome", outcome, "error", err)
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// ParsePayload разбирает payload сообщения в T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T
	if len(msg.Payload) == 0 {
		return result, errors.New("empty payload")
	}
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
