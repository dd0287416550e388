package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeTaskSubmitted    MessageType = "task.submitted"
	MessageTypeCallbackReceived MessageType = "callback.received"
)

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// TaskSubmittedPayload — payload для сообщения о принятом task.
// Потребитель: Dispatcher.
type TaskSubmittedPayload struct {
	TaskID uuid.UUID `json:"task_id"`
	Topic  string    `json:"topic"`
}

// CallbackReceivedPayload — payload для сообщения о полученном callback.
// Потребитель: Correlator.
type CallbackReceivedPayload struct {
	CallbackID     uuid.UUID `json:"callback_id"`
	CorrelationKey string    `json:"correlation_key,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
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

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
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

// PublishTaskSubmitted публикует событие о принятом task.
func (p *Publisher) PublishTaskSubmitted(ctx context.Context, taskID uuid.UUID, topic string) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskSubmitted,
		Payload:   TaskSubmittedPayload{TaskID: taskID, Topic: topic},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, RoutingKeySubmitted, msg)
}

// PublishCallbackReceived публикует событие о полученном callback.
func (p *Publisher) PublishCallbackReceived(ctx context.Context, callbackID uuid.UUID, correlationKey string) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeCallbackReceived,
		Payload:   CallbackReceivedPayload{CallbackID: callbackID, CorrelationKey: correlationKey},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeCallbacks, RoutingKeyReceived, msg)
}
