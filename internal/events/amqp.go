// README: AMQP dispatcher; forwards bus events to a RabbitMQ topic exchange.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type AMQPDispatcher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQPDispatcher(url, exchange string) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &AMQPDispatcher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Run drains the subscription until ctx is cancelled. Publish failures are
// logged and dropped; notification delivery is not guaranteed.
func (d *AMQPDispatcher) Run(ctx context.Context, sub <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			d.publish(ctx, e)
		}
	}
}

func (d *AMQPDispatcher) publish(ctx context.Context, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		log.Printf("events: marshal %s: %v", e.Type, err)
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = d.ch.PublishWithContext(pubCtx, d.exchange, string(e.Type), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
	})
	if err != nil {
		log.Printf("events: publish %s: %v", e.Type, err)
	}
}

func (d *AMQPDispatcher) Close() {
	_ = d.ch.Close()
	_ = d.conn.Close()
}
