package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/ratingflow/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRateRequested        MessageType = "rate.requested"
	MessageTypeTransactionCompleted MessageType = "transaction.completed"
	MessageTypeEvent                MessageType = "event"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения. Для publish_event — event_type из конфигурации шага.
	Type MessageType `json:"type"`

	// CorrelationID — x-correlation-id исходного запроса.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// RateRequestedPayload — асинхронный запрос на рейтинг.
type RateRequestedPayload struct {
	TransactionID   uuid.UUID      `json:"transaction_id"`
	ProductLineCode string         `json:"product_line_code"`
	EndpointPath    string         `json:"endpoint_path"`
	Payload         map[string]any `json:"payload"`
	Scope           map[string]any `json:"scope,omitempty"`
}

// TransactionCompletedPayload — итог транзакции.
type TransactionCompletedPayload struct {
	TransactionID   uuid.UUID `json:"transaction_id"`
	ProductLineCode string    `json:"product_line_code"`
	EndpointPath    string    `json:"endpoint_path"`
	Status          string    `json:"status"`
	PremiumResult   *float64  `json:"premium_result,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	RejectReason    string    `json:"reject_reason,omitempty"`
	DurationMs      int64     `json:"duration_ms"`

	Flags []domain.RuleFlag `json:"flags,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:   "application/json",
				DeliveryMode:  amqp.Persistent,
				MessageId:     msg.ID,
				CorrelationId: msg.CorrelationID,
				Type:          string(msg.Type),
				Timestamp:     msg.Timestamp,
				Body:          body,
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
			"correlation_id", msg.CorrelationID,
		)

		return nil
	})
}

// PublishRateRequested ставит запрос на рейтинг в очередь rating.requests.
// Потребитель: rating-worker.
func (p *Publisher) PublishRateRequested(ctx context.Context, correlationID string, payload RateRequestedPayload) error {
	msg := newMessage(MessageTypeRateRequested, correlationID, payload)
	return p.Publish(ctx, ExchangeRequests, RoutingKeyRate, msg)
}

// PublishTransactionCompleted публикует итог транзакции.
func (p *Publisher) PublishTransactionCompleted(ctx context.Context, correlationID string, payload TransactionCompletedPayload) error {
	msg := newMessage(MessageTypeTransactionCompleted, correlationID, payload)
	return p.Publish(ctx, ExchangeEvents, RoutingKeyTransactionCompleted, msg)
}

// PublishEvent публикует бизнес-событие шага publish_event в rating.events.
func (p *Publisher) PublishEvent(ctx context.Context, routingKey, eventType, correlationID string, payload any) error {
	if eventType == "" {
		eventType = string(MessageTypeEvent)
	}
	msg := newMessage(MessageType(eventType), correlationID, payload)
	return p.Publish(ctx, ExchangeEvents, RoutingKey(routingKey), msg)
}

func newMessage(t MessageType, correlationID string, payload any) *Message {
	return &Message{
		ID:            uuid.New().String(),
		Type:          t,
		CorrelationID: correlationID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}
}
