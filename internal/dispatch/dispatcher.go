// internal/dispatch/dispatcher.go

// Package dispatch hands prepared tasks to a rendering engine queue and
// records the hand-off in the task's event log.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"filegen/internal/models"
	"filegen/internal/repository"
	"filegen/internal/sandbox"
	"go.uber.org/zap"
)

// ErrNotPrepared means the task's log is missing the data dispatch needs;
// the API layer maps it to 422.
var ErrNotPrepared = errors.New("task is not ready for dispatch")

// TaskStore is the slice of the task repository the dispatcher writes to.
type TaskStore interface {
	AppendEvent(ctx context.Context, taskID string, event models.Event) error
	SetState(ctx context.Context, taskID string, state models.TaskState) error
}

// TemplateStore looks up template descriptors.
type TemplateStore interface {
	Fetch(ctx context.Context, id string) (*models.TemplateDescriptor, error)
}

// WorkPublisher publishes work messages and reports the broker message id.
type WorkPublisher interface {
	PublishWork(ctx context.Context, queueName string, msg models.WorkMessage) (string, error)
}

type Dispatcher struct {
	tasks     TaskStore
	templates TemplateStore
	publisher WorkPublisher
	registry  *sandbox.Registry
	log       *zap.Logger
}

func NewDispatcher(tasks TaskStore, templates TemplateStore, publisher WorkPublisher, registry *sandbox.Registry, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		tasks:     tasks,
		templates: templates,
		publisher: publisher,
		registry:  registry,
		log:       log.Named("dispatch"),
	}
}

// Dispatch moves the task to GENERATING and publishes its work message.
// It does not check for a previous hand-off: callers decide whether a task
// with a SendRendererEnded event should be dispatched again, so re-drives
// stay possible while normal flows stay single-shot.
func (d *Dispatcher) Dispatch(ctx context.Context, task *models.Task) error {
	if err := d.tasks.SetState(ctx, task.ID, models.TaskStateGenerating); err != nil {
		return fmt.Errorf("failed to mark task generating: %w", err)
	}

	prep := task.FindEvent(models.EventPreparationEnded)
	if prep == nil {
		d.log.Warn("task dispatched without preparation", zap.String("taskId", task.ID))
		if err := d.tasks.AppendEvent(ctx, task.ID, models.NewDataMissingError(task.ID, models.EventPreparationEnded)); err != nil {
			return fmt.Errorf("failed to record missing preparation: %w", err)
		}
		return ErrNotPrepared
	}

	tpl, err := d.templates.Fetch(ctx, task.TemplateID)
	if err != nil && !repository.IsTemplateNotFound(err) {
		return fmt.Errorf("failed to fetch template %s: %w", task.TemplateID, err)
	}
	if err != nil || !tpl.Enabled || tpl.IsDeleted {
		d.log.Warn("task references unusable template",
			zap.String("taskId", task.ID), zap.String("templateId", task.TemplateID))
		if err := d.tasks.AppendEvent(ctx, task.ID, models.NewDataMissingError(task.ID, "templateRef")); err != nil {
			return fmt.Errorf("failed to record unusable template: %w", err)
		}
		return ErrNotPrepared
	}

	engine, err := d.registry.Get(prep.Engine)
	if err != nil {
		d.log.Warn("task names unregistered engine",
			zap.String("taskId", task.ID), zap.String("engine", prep.Engine))
		if err := d.tasks.AppendEvent(ctx, task.ID, models.NewDataMissingError(task.ID, "engine")); err != nil {
			return fmt.Errorf("failed to record unknown engine: %w", err)
		}
		return ErrNotPrepared
	}

	// The descriptor decides the concrete source at dispatch time, so a
	// template compiled after preparation still wins, and the stored
	// output carries the descriptor's content type.
	msg := models.NewWorkMessage(*prep)
	if ref := tpl.SourceRef(); ref != "" {
		msg.TemplateRef = ref
	}
	if tpl.OutputType != "" {
		msg.ContentType = tpl.OutputType.ContentType()
	}

	messageID, err := d.publisher.PublishWork(ctx, engine.Queue, msg)
	if err != nil {
		return fmt.Errorf("failed to publish work message: %w", err)
	}

	d.log.Info("task handed to renderer",
		zap.String("taskId", task.ID),
		zap.String("engine", engine.Name),
		zap.String("messageId", messageID),
	)
	return d.tasks.AppendEvent(ctx, task.ID, models.NewSendRendererEnded(task.ID, messageID))
}
