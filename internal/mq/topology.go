package mq

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges.
const (
	ExchangeRuns   Exchange = "automata.runs"
	ExchangeEvents Exchange = "automata.events"
	ExchangeDLQ    Exchange = "automata.dlq"
)

// Queues.
const (
	QueueRunsLaunch    Queue = "runs.launch"
	QueueRunsTerminate Queue = "runs.terminate"
	QueueRunsEvents    Queue = "runs.events"
	QueueDLQRuns       Queue = "dlq.runs"
)

// Routing keys. События публикуются с ключом, равным типу сообщения.
const (
	RoutingKeyLaunch     RoutingKey = "launch"
	RoutingKeyTerminate  RoutingKey = "terminate"
	RoutingKeyRunEvents  RoutingKey = "run.*"
	RoutingKeyDLQRuns    RoutingKey = "runs"
	RoutingKeyLaunched   RoutingKey = RoutingKey(MessageTypeRunLaunched)
	RoutingKeyTerminated RoutingKey = RoutingKey(MessageTypeRunTerminated)
)

// ExchangeDecl — объявление обменника.
type ExchangeDecl struct {
	Name Exchange
	Kind string
}

// QueueDecl — объявление очереди и её привязки.
type QueueDecl struct {
	Name       Queue
	Exchange   Exchange
	RoutingKey RoutingKey
	Consumer   string

	// DeadLetter — отклонённые сообщения уходят в dlq.runs.
	DeadLetter bool
}

// Topology — набор обменников и очередей сервиса.
type Topology struct {
	Exchanges []ExchangeDecl
	Queues    []QueueDecl
}

// DefaultTopology возвращает топологию run launcher.
func DefaultTopology() Topology {
	return Topology{
		Exchanges: []ExchangeDecl{
			{ExchangeRuns, amqp.ExchangeDirect},
			{ExchangeEvents, amqp.ExchangeTopic},
			{ExchangeDLQ, amqp.ExchangeDirect},
		},
		Queues: []QueueDecl{
			{Name: QueueRunsLaunch, Exchange: ExchangeRuns, RoutingKey: RoutingKeyLaunch, Consumer: "Coordinator", DeadLetter: true},
			{Name: QueueRunsTerminate, Exchange: ExchangeRuns, RoutingKey: RoutingKeyTerminate, Consumer: "Coordinator", DeadLetter: true},
			{Name: QueueRunsEvents, Exchange: ExchangeEvents, RoutingKey: RoutingKeyRunEvents, Consumer: "external subscribers"},
			{Name: QueueDLQRuns, Exchange: ExchangeDLQ, RoutingKey: RoutingKeyDLQRuns, Consumer: "manual processing"},
		},
	}
}

// queueArgs возвращает аргументы очереди.
func (q QueueDecl) queueArgs() amqp.Table {
	if !q.DeadLetter {
		return nil
	}
	return amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
	}
}

// SetupTopology объявляет DefaultTopology.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return DefaultTopology().Declare(ch)
	})
}

// Declare объявляет обменники, очереди и привязки. Операции идемпотентны.
func (t Topology) Declare(ch *amqp.Channel) error {
	for _, ex := range t.Exchanges {
		err := ch.ExchangeDeclare(
			string(ex.Name), // name
			ex.Kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.Name, err)
		}
	}

	for _, q := range t.Queues {
		_, err := ch.QueueDeclare(
			string(q.Name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.queueArgs(),  // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}

		err = ch.QueueBind(string(q.Name), string(q.RoutingKey), string(q.Exchange), false, nil)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", q.Name, q.Exchange, err)
		}
	}

	return nil
}

// String описывает топологию для логирования при старте.
func (t Topology) String() string {
	var b strings.Builder
	b.WriteString("Automata ECS RabbitMQ topology:\n")

	for _, ex := range t.Exchanges {
		fmt.Fprintf(&b, "  %s (%s)\n", ex.Name, ex.Kind)
		for _, q := range t.Queues {
			if q.Exchange != ex.Name {
				continue
			}
			fmt.Fprintf(&b, "    %s [routing: %s] consumer: %s", q.Name, q.RoutingKey, q.Consumer)
			if q.DeadLetter {
				fmt.Fprintf(&b, " dlq: %s", QueueDLQRuns)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}
