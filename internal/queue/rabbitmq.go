// internal/queue/rabbitmq.go
package queue

import (
	"context"
	"fmt"

	"filegen/internal/config"
	"filegen/internal/models"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ carries the two at-least-once channels of the pipeline: one work
// queue per registered engine (dispatcher -> sandbox executor) and a single
// results queue (executor -> ingestor).
type RabbitMQ struct {
	conn          *amqp.Connection
	workChannel   *amqp.Channel
	resultChannel *amqp.Channel
	config        config.RabbitMQConfig
}

func NewRabbitMQ(cfg config.RabbitMQConfig) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	workCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open work channel: %w", err)
	}

	resultCh, err := conn.Channel()
	if err != nil {
		workCh.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to open result channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:          conn,
		workChannel:   workCh,
		resultChannel: resultCh,
		config:        cfg,
	}

	if err := rmq.setup(); err != nil {
		rmq.Close()
		return nil, fmt.Errorf("failed to setup queues: %w", err)
	}

	return rmq, nil
}

func (r *RabbitMQ) setup() error {
	err := r.workChannel.ExchangeDeclare(
		r.config.Exchange,     // name
		r.config.ExchangeType, // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return err
	}

	_, err = r.resultChannel.QueueDeclare(
		r.config.ResultsQueue, // name
		true,                  // durable
		false,                 // delete when unused
		false,                 // exclusive
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return err
	}

	return r.resultChannel.QueueBind(
		r.config.ResultsQueue, // queue name
		r.config.ResultsQueue, // routing key
		r.config.Exchange,     // exchange
		false,
		nil,
	)
}

// DeclareWorkQueue declares and binds one engine's work queue. Called once
// per registered engine at startup.
func (r *RabbitMQ) DeclareWorkQueue(queueName string) error {
	_, err := r.workChannel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return err
	}

	return r.workChannel.QueueBind(
		queueName,         // queue name
		queueName,         // routing key
		r.config.Exchange, // exchange
		false,
		nil,
	)
}

// PublishWork publishes a work message to the given engine queue and
// returns the broker message id recorded in SendRendererEnded.
func (r *RabbitMQ) PublishWork(ctx context.Context, queueName string, msg models.WorkMessage) (string, error) {
	data, err := msg.ToJSON()
	if err != nil {
		return "", fmt.Errorf("failed to marshal work message: %w", err)
	}

	messageID := uuid.New().String()
	err = r.workChannel.PublishWithContext(ctx,
		r.config.Exchange, // exchange
		queueName,         // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    messageID,
			Body:         data,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return "", err
	}
	return messageID, nil
}

// PublishResult publishes a terminal result message for the ingestor.
func (r *RabbitMQ) PublishResult(ctx context.Context, msg models.ResultMessage) error {
	data, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal result message: %w", err)
	}

	return r.resultChannel.PublishWithContext(ctx,
		r.config.Exchange,     // exchange
		r.config.ResultsQueue, // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    uuid.New().String(),
			Body:         data,
			DeliveryMode: amqp.Persistent,
		},
	)
}

// Consume starts delivery of a queue's messages with manual acknowledgement.
func (r *RabbitMQ) Consume(ctx context.Context, queueName string) (<-chan amqp.Delivery, error) {
	return r.workChannel.Consume(
		queueName, // queue
		"",        // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
}

// ConsumeResults starts delivery of the results queue.
func (r *RabbitMQ) ConsumeResults(ctx context.Context) (<-chan amqp.Delivery, error) {
	return r.resultChannel.Consume(
		r.config.ResultsQueue, // queue
		"",                    // consumer
		false,                 // auto-ack
		false,                 // exclusive
		false,                 // no-local
		false,                 // no-wait
		nil,                   // args
	)
}

func (r *RabbitMQ) Close() error {
	if err := r.workChannel.Close(); err != nil {
		return err
	}
	if err := r.resultChannel.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}
