package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPSink publishes events to RabbitMQ, one durable queue per event type
// (routing key = queue name on the default exchange). A connection is
// opened per publish; event volume here is low and this keeps the sink
// robust against broker restarts without reconnect bookkeeping.
type AMQPSink struct {
	URL string
}

func NewAMQPSink(url string) *AMQPSink {
	return &AMQPSink{URL: url}
}

func (s *AMQPSink) Publish(ctx context.Context, e Event) error {
	conn, err := amqp.Dial(s.URL)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	queue := string(e.Type)
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return err
	}

	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key = queue name
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}
