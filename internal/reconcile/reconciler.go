// internal/reconcile/reconciler.go

// Package reconcile periodically sweeps stuck tasks back into motion. It
// is the safety net under the at-least-once pipeline: lost messages,
// crashed renderers and half-applied writes all surface here as tasks
// whose last edit is older than the timeout.
package reconcile

import (
	"context"
	"time"

	"filegen/internal/models"
	"go.uber.org/zap"
)

// TaskStore is the slice of the task repository the reconciler drives.
type TaskStore interface {
	FetchTimedOut(ctx context.Context, threshold time.Duration) ([]*models.Task, error)
	Fetch(ctx context.Context, id string) (*models.Task, error)
	Repair(ctx context.Context, taskID string, state models.TaskState, outputRef string) error
	RecordEvent(ctx context.Context, taskID string, event models.Event) error
}

// Dispatcher re-drives a task through the normal hand-off path.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *models.Task) error
}

// Notifier delivers terminal-state webhooks.
type Notifier interface {
	Notify(ctx context.Context, task *models.Task) error
}

type Reconciler struct {
	tasks      TaskStore
	dispatcher Dispatcher
	notifier   Notifier
	interval   time.Duration
	timeout    time.Duration
	log        *zap.Logger
}

func NewReconciler(tasks TaskStore, dispatcher Dispatcher, notifier Notifier, interval, timeout time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{
		tasks:      tasks,
		dispatcher: dispatcher,
		notifier:   notifier,
		interval:   interval,
		timeout:    timeout,
		log:        log.Named("reconcile"),
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("reconciler started",
		zap.Duration("interval", r.interval),
		zap.Duration("timeout", r.timeout),
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep examines every timed-out task once. Failures on a single task are
// logged and do not stop the rest of the sweep.
func (r *Reconciler) Sweep(ctx context.Context) error {
	tasks, err := r.tasks.FetchTimedOut(ctx, r.timeout)
	if err != nil {
		return err
	}
	if len(tasks) > 0 {
		r.log.Info("sweeping timed-out tasks", zap.Int("count", len(tasks)))
	}

	for _, task := range tasks {
		if err := r.reconcile(ctx, task); err != nil {
			r.log.Error("failed to reconcile task",
				zap.String("taskId", task.ID), zap.Error(err))
		}
	}
	return nil
}

// reconcile applies the correction the task's event log calls for.
func (r *Reconciler) reconcile(ctx context.Context, task *models.Task) error {
	derived := models.DeriveState(task.State, task.Events)

	// The log proves a terminal outcome the projection missed: repair the
	// stored state and deliver the webhooks that never went out.
	if derived != task.State {
		outputRef := ""
		if generated := task.FindEvent(models.EventGenerationEnded); generated != nil {
			outputRef = generated.OutputRef
		}
		if err := r.tasks.Repair(ctx, task.ID, derived, outputRef); err != nil {
			return err
		}
		r.log.Info("repaired task state",
			zap.String("taskId", task.ID),
			zap.String("from", string(task.State)),
			zap.String("to", string(derived)),
		)

		repaired, err := r.tasks.Fetch(ctx, task.ID)
		if err != nil {
			return err
		}
		return r.notifier.Notify(ctx, repaired)
	}

	// Stuck before hand-off: the work message was lost or never sent, so
	// dispatching again is safe.
	if task.State == models.TaskStatePreparing {
		r.log.Info("re-dispatching stalled task", zap.String("taskId", task.ID))
		return r.dispatcher.Dispatch(ctx, task)
	}
	if task.State == models.TaskStateGenerating && !task.HasEvent(models.EventSendRendererEnded) {
		r.log.Info("re-dispatching task with lost hand-off", zap.String("taskId", task.ID))
		return r.dispatcher.Dispatch(ctx, task)
	}

	// Handed off and never heard from again. Record the timeout without
	// projecting it; the next sweep sees the log disagree with the stored
	// state and takes the repair-and-notify branch above.
	r.log.Warn("task timed out in renderer", zap.String("taskId", task.ID))
	return r.tasks.RecordEvent(ctx, task.ID, models.NewExecutionTimeoutError(task.ID))
}
