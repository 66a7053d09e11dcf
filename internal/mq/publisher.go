package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/automata-ecs/internal/domain"
)

// ErrNotConfirmed — брокер не подтвердил публикацию.
var ErrNotConfirmed = errors.New("publish not confirmed by broker")

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	// Запросы к Coordinator.
	MessageTypeRunLaunch    MessageType = "run.launch"
	MessageTypeRunTerminate MessageType = "run.terminate"

	// События для внешних подписчиков.
	MessageTypeRunLaunched   MessageType = "run.launched"
	MessageTypeRunTerminated MessageType = "run.terminated"
)

// Message — конверт сообщения.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// RunRequestPayload — payload запросов run.launch и run.terminate.
type RunRequestPayload struct {
	RunID string `json:"run_id"`
}

// RunEventPayload — payload событий run.launched и run.terminated.
type RunEventPayload struct {
	RunID      string `json:"run_id"`
	TaskARN    string `json:"task_arn"`
	ClusterARN string `json:"cluster_arn"`
}

// NewMessage собирает конверт с новым ID.
func NewMessage(msgType MessageType, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Publisher публикует сообщения в RabbitMQ и ждёт подтверждения брокера.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в exchange с routing key.
// Возвращается после confirm от брокера.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.withPublishChannel(func(ch *amqp.Channel) error {
		confirm, err := ch.PublishWithDeferredConfirmWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		ok, err := confirm.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("wait confirm %s: %w", msg.ID, err)
		}
		if !ok {
			return fmt.Errorf("publish %s: %w", msg.ID, ErrNotConfirmed)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

func (p *Publisher) publish(ctx context.Context, exchange Exchange, key RoutingKey, msgType MessageType, payload any) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, exchange, key, msg)
}

// PublishRunLaunch ставит run в очередь на запуск. Потребитель: Coordinator.
func (p *Publisher) PublishRunLaunch(ctx context.Context, runID string) error {
	return p.publish(ctx, ExchangeRuns, RoutingKeyLaunch, MessageTypeRunLaunch, RunRequestPayload{RunID: runID})
}

// PublishRunTerminate ставит run в очередь на остановку. Потребитель: Coordinator.
func (p *Publisher) PublishRunTerminate(ctx context.Context, runID string) error {
	return p.publish(ctx, ExchangeRuns, RoutingKeyTerminate, MessageTypeRunTerminate, RunRequestPayload{RunID: runID})
}

// PublishRunLaunched сообщает, что run связан с ECS task.
func (p *Publisher) PublishRunLaunched(ctx context.Context, runID string, ref domain.TaskRef) error {
	return p.publish(ctx, ExchangeEvents, RoutingKeyLaunched, MessageTypeRunLaunched, eventPayload(runID, ref))
}

// PublishRunTerminated сообщает, что ECS task run остановлен.
func (p *Publisher) PublishRunTerminated(ctx context.Context, runID string, ref domain.TaskRef) error {
	return p.publish(ctx, ExchangeEvents, RoutingKeyTerminated, MessageTypeRunTerminated, eventPayload(runID, ref))
}

func eventPayload(runID string, ref domain.TaskRef) RunEventPayload {
	return RunEventPayload{RunID: runID, TaskARN: ref.TaskARN, ClusterARN: ref.ClusterARN}
}
