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
	// ExchangeEvents — topic-обменник бизнес-событий (publish_event, transaction.completed).
	ExchangeEvents Exchange = "rating.events"

	// ExchangeRequests — direct-обменник асинхронных запросов на рейтинг.
	ExchangeRequests Exchange = "rating.requests"

	ExchangeDLQ Exchange = "rating.dlq"
)

// Queues — имена очередей.
const (
	QueueRateRequests          Queue = "rating.requests"
	QueueTransactionsCompleted Queue = "rating.transactions.completed"
	QueueDLQRequests           Queue = "dlq.rating.requests"
)

// Routing keys.
const (
	RoutingKeyRate                 RoutingKey = "rate"
	RoutingKeyTransactionCompleted RoutingKey = "transaction.completed"
	RoutingKeyDLQRequests          RoutingKey = "requests"
)

// DeclareTopology объявляет exchange, очереди и привязки на канале.
// Передаётся в ConnectionConfig.OnConnect и выполняется после каждого подключения.
func DeclareTopology(ch *amqp.Channel) error {
	if err := declareExchanges(ch); err != nil {
		return err
	}
	if err := declareQueues(ch); err != nil {
		return err
	}
	return bindQueues(ch)
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeEvents, "topic"},
		{ExchangeRequests, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQRequests),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// rating.requests — с DLQ: запрос, который не удалось даже начать, уходит туда
		{QueueRateRequests, dlqArgs},

		// rating.transactions.completed — для внешних подписчиков и аудита
		{QueueTransactionsCompleted, nil},

		{QueueDLQRequests, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
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
		{QueueRateRequests, RoutingKeyRate, ExchangeRequests},
		{QueueTransactionsCompleted, RoutingKeyTransactionCompleted, ExchangeEvents},
		{QueueDLQRequests, RoutingKeyDLQRequests, ExchangeDLQ},
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

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Rating RabbitMQ Topology:

    rating.requests (direct)
    └── rating.requests [routing: rate]
            Consumer: rating-worker
            DLQ: dlq.rating.requests

    rating.events (topic)
    ├── rating.transactions.completed [routing: transaction.completed]
    │       Consumer: external subscribers
    └── <publish_event routing keys>
            Consumer: external subscribers

    rating.dlq (direct)
    └── dlq.rating.requests [routing: requests]
            Manual processing
  `
}
