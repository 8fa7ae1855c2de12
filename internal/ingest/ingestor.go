// internal/ingest/ingestor.go

// Package ingest consumes renderer result messages, folds them into the
// task event log and triggers tenant webhooks for terminal tasks.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"filegen/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// TaskStore is the slice of the task repository the ingestor needs.
type TaskStore interface {
	AppendEvent(ctx context.Context, taskID string, event models.Event) error
	Fetch(ctx context.Context, id string) (*models.Task, error)
}

// Notifier delivers terminal-state webhooks.
type Notifier interface {
	Notify(ctx context.Context, task *models.Task) error
}

// ResultConsumer subscribes to the renderer results queue.
type ResultConsumer interface {
	ConsumeResults(ctx context.Context) (<-chan amqp.Delivery, error)
}

// Ingestor is an at-least-once consumer: redeliveries append duplicate
// events, and the idempotent state projection keeps the task correct.
type Ingestor struct {
	tasks    TaskStore
	notifier Notifier
	consumer ResultConsumer
	log      *zap.Logger
}

func NewIngestor(tasks TaskStore, notifier Notifier, consumer ResultConsumer, log *zap.Logger) *Ingestor {
	return &Ingestor{tasks: tasks, notifier: notifier, consumer: consumer, log: log.Named("ingest")}
}

// Start consumes the results queue until the context is cancelled.
func (i *Ingestor) Start(ctx context.Context) error {
	deliveries, err := i.consumer.ConsumeResults(ctx)
	if err != nil {
		return fmt.Errorf("failed to consume results queue: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				i.handleDelivery(ctx, delivery)
			}
		}
	}()
	return nil
}

// handleDelivery settles one delivery. A first failure requeues; a
// redelivered message that fails again is recorded on the task as an
// internal error and dropped, so a poison result cannot cycle forever.
func (i *Ingestor) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var msg models.ResultMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		i.log.Error("discarding malformed result message", zap.Error(err))
		delivery.Nack(false, false)
		return
	}

	if err := i.Process(ctx, msg); err != nil {
		if !delivery.Redelivered {
			i.log.Error("failed to process result, requeueing",
				zap.String("taskId", msg.RefTaskID), zap.Error(err))
			delivery.Nack(false, true)
			return
		}

		i.log.Error("dropping result after repeated failures",
			zap.String("taskId", msg.RefTaskID), zap.Error(err))
		if msg.RefTaskID != "" {
			if err := i.tasks.AppendEvent(ctx, msg.RefTaskID, models.NewInternalServerError(msg.RefTaskID)); err != nil {
				i.log.Error("failed to record processing failure",
					zap.String("taskId", msg.RefTaskID), zap.Error(err))
			}
		}
		delivery.Ack(false)
		return
	}
	delivery.Ack(false)
}

// Process folds one result message into the task log and, if the task is
// now terminal, sends the tenant's webhooks.
func (i *Ingestor) Process(ctx context.Context, msg models.ResultMessage) error {
	event, err := msg.ToEvent()
	if err != nil {
		// A well-formed message of an unknown type cannot be folded; record
		// the failure on the task instead of cycling the message forever.
		i.log.Error("result message has unknown type",
			zap.String("taskId", msg.RefTaskID), zap.String("type", msg.Type))
		return i.tasks.AppendEvent(ctx, msg.RefTaskID, models.NewInternalServerError(msg.RefTaskID))
	}

	// A loading failure caused by a missing template object carries the
	// data-missing marker; it yields two events so the tenant sees both
	// what broke and what was absent.
	if msg.Type == models.ResultTemplateLoadingError && msg.Message == models.MsgDataMissing {
		if err := i.tasks.AppendEvent(ctx, msg.RefTaskID, models.NewDataMissingError(msg.RefTaskID, "templateRef")); err != nil {
			return fmt.Errorf("failed to append companion event: %w", err)
		}
	}

	if err := i.tasks.AppendEvent(ctx, msg.RefTaskID, event); err != nil {
		return fmt.Errorf("failed to append result event: %w", err)
	}

	i.log.Info("result folded into task",
		zap.String("taskId", msg.RefTaskID), zap.String("type", msg.Type))

	task, err := i.tasks.Fetch(ctx, msg.RefTaskID)
	if err != nil {
		return fmt.Errorf("failed to fetch task after result: %w", err)
	}
	if err := i.notifier.Notify(ctx, task); err != nil {
		return fmt.Errorf("failed to notify webhooks: %w", err)
	}
	return nil
}
