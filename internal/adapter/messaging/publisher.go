package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/rl1809/restock/internal/core/domain"
)

// Publisher sends domain events to a topic exchange. amqp channels are not safe for
// concurrent use, so publishes are serialized.
type Publisher struct {
	ch       *amqp.Channel
	exchange string
	mu       sync.Mutex
}

func NewPublisher(ch *amqp.Channel, exchange string) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Publisher{ch: ch, exchange: exchange}
}

func (p *Publisher) Publish(ctx context.Context, e domain.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx,
		p.exchange,    // exchange
		RoutingKey(e), // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID,
			Timestamp:    e.OccurredAt,
			Type:         string(e.Type),
			Body:         body,
		},
	)
}

// RoutingKey is restock.<entity>.<action>, e.g. restock.cabinet.executed.
func RoutingKey(e domain.Event) string {
	return "restock." + strings.ToLower(string(e.Type))
}

// LogPublisher writes events to the log. It stands in when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e domain.Event) error {
	p.logger.Info("domain event",
		zap.String("routing_key", RoutingKey(e)),
		zap.String("event_id", e.ID),
		zap.String("order_id", e.OrderID),
		zap.String("cabinet_order_id", e.CabinetOrderID),
		zap.String("status", string(e.Status)),
		zap.Int("units", e.Units),
		zap.String("actor_id", e.ActorID),
	)
	return nil
}
