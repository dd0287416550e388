package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeTasks     Exchange = "courier.tasks"
	ExchangeCallbacks Exchange = "courier.callbacks"
	ExchangeDLQ       Exchange = "courier.dlq"
)

// Queues — имена очередей.
const (
	QueueTasksSubmitted    Queue = "tasks.submitted"
	QueueCallbacksReceived Queue = "callbacks.received"
	QueueDLQTasks          Queue = "dlq.tasks"
	QueueDLQCallbacks      Queue = "dlq.callbacks"
)

// Routing keys.
const (
	RoutingKeySubmitted    RoutingKey = "submitted"
	RoutingKeyReceived     RoutingKey = "received"
	RoutingKeyDLQTasks     RoutingKey = "tasks"
	RoutingKeyDLQCallbacks RoutingKey = "callbacks"
)

// SetupTopology создаёт exchanges, очереди и привязки.
// Идемпотентна: declare существующих объектов с теми же аргументами — no-op.
func SetupTopology(conn *Connection) error {
	return conn.WithChannel(func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []Exchange{ExchangeTasks, ExchangeCallbacks, ExchangeDLQ}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex), // name
			"direct",   // type
			true,       // durable
			false,      // auto-deleted
			false,      // internal
			false,      // no-wait
			nil,        // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	queues := []struct {
		name   Queue
		dlqKey RoutingKey // пустой — без DLQ
	}{
		{QueueTasksSubmitted, RoutingKeyDLQTasks},
		{QueueCallbacksReceived, RoutingKeyDLQCallbacks},
		{QueueDLQTasks, ""},
		{QueueDLQCallbacks, ""},
	}

	for _, q := range queues {
		var args amqp.Table
		if q.dlqKey != "" {
			args = amqp.Table{
				"x-dead-letter-exchange":    string(ExchangeDLQ),
				"x-dead-letter-routing-key": string(q.dlqKey),
			}
		}

		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			args,           // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueTasksSubmitted, RoutingKeySubmitted, ExchangeTasks},
		{QueueCallbacksReceived, RoutingKeyReceived, ExchangeCallbacks},
		{QueueDLQTasks, RoutingKeyDLQTasks, ExchangeDLQ},
		{QueueDLQCallbacks, RoutingKeyDLQCallbacks, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}
