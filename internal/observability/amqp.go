package observability

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"alumni-messaging/internal/rabbitmq"
)

// EventPublisher carries websocket lifecycle events to the platform's
// topic exchange. It differs from the audit path (internal/rabbitmq) in
// attaching per-connection correlation headers so consumers can tie a
// lifecycle event back to its handshake request and trace.
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, event interface{}, headers map[string]string) error
	Close() error
}

type amqpEventPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// ConnectEventPublisher dials the broker over the shared rabbitmq dialer
// and returns a lifecycle publisher bound to the exchange.
func ConnectEventPublisher(url, exchange string) (EventPublisher, error) {
	conn, ch, err := rabbitmq.Dial(url, exchange)
	if err != nil {
		return nil, err
	}
	return &amqpEventPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *amqpEventPublisher) PublishJSON(ctx context.Context, routingKey string, event interface{}, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	table := amqp.Table{}
	for key, value := range headers {
		table[key] = value
	}

	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      table,
		Body:         body,
	})
}

func (p *amqpEventPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

var lifecyclePublisher EventPublisher

// SetPublisher installs the process-wide lifecycle publisher. With none
// installed, PublishEvent is a no-op so the websocket paths never depend
// on a broker being configured.
func SetPublisher(publisher EventPublisher) {
	lifecyclePublisher = publisher
}

// PublishEvent sends one lifecycle event through the installed publisher.
// Failures are counted but never propagated into the connection handling
// that triggered them.
func PublishEvent(ctx context.Context, routingKey string, event interface{}, headers map[string]string) error {
	if lifecyclePublisher == nil {
		return nil
	}

	if err := lifecyclePublisher.PublishJSON(ctx, routingKey, event, headers); err != nil {
		IncAMQPPublishError()
		return err
	}
	return nil
}
