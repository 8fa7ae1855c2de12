// internal/reconcile/reconciler_test.go
package reconcile

import (
	"context"
	"testing"
	"time"

	"filegen/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTaskStore struct {
	timedOut []*models.Task

	repairedState models.TaskState
	repairedRef   string
	repaired      bool

	recorded []models.Event
}

func (f *fakeTaskStore) FetchTimedOut(ctx context.Context, threshold time.Duration) ([]*models.Task, error) {
	return f.timedOut, nil
}

func (f *fakeTaskStore) Fetch(ctx context.Context, id string) (*models.Task, error) {
	return &models.Task{ID: id, State: f.repairedState}, nil
}

func (f *fakeTaskStore) Repair(ctx context.Context, taskID string, state models.TaskState, outputRef string) error {
	f.repaired = true
	f.repairedState = state
	f.repairedRef = outputRef
	return nil
}

func (f *fakeTaskStore) RecordEvent(ctx context.Context, taskID string, event models.Event) error {
	f.recorded = append(f.recorded, event)
	return nil
}

type fakeDispatcher struct {
	dispatched []*models.Task
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, task *models.Task) error {
	f.dispatched = append(f.dispatched, task)
	return nil
}

type fakeNotifier struct {
	notified []*models.Task
}

func (f *fakeNotifier) Notify(ctx context.Context, task *models.Task) error {
	f.notified = append(f.notified, task)
	return nil
}

func newReconciler(tasks *fakeTaskStore, dispatcher *fakeDispatcher, notifier *fakeNotifier) *Reconciler {
	return NewReconciler(tasks, dispatcher, notifier, 5*time.Minute, 5*time.Minute, zap.NewNop())
}

func sweep(t *testing.T, tasks *fakeTaskStore, dispatcher *fakeDispatcher, notifier *fakeNotifier) {
	t.Helper()
	require.NoError(t, newReconciler(tasks, dispatcher, notifier).Sweep(context.Background()))
}

func TestSweepRepairsTaskWithBuriedSuccess(t *testing.T) {
	task := &models.Task{ID: "t1", State: models.TaskStateGenerating}
	task.Events = []models.Event{
		models.NewSendRendererEnded("t1", "m1"),
		models.NewGenerationEnded("t1", "output/t1"),
	}

	tasks := &fakeTaskStore{timedOut: []*models.Task{task}}
	dispatcher := &fakeDispatcher{}
	notifier := &fakeNotifier{}
	sweep(t, tasks, dispatcher, notifier)

	require.True(t, tasks.repaired)
	require.Equal(t, models.TaskStateFinished, tasks.repairedState)
	require.Equal(t, "output/t1", tasks.repairedRef)
	require.Len(t, notifier.notified, 1)
	require.Empty(t, dispatcher.dispatched)
	require.Empty(t, tasks.recorded)
}

func TestSweepErrorEventWinsOverSuccess(t *testing.T) {
	task := &models.Task{ID: "t1", State: models.TaskStateGenerating}
	task.Events = []models.Event{
		models.NewGenerationEnded("t1", "output/t1"),
		models.NewInternalServerError("t1"),
	}

	tasks := &fakeTaskStore{timedOut: []*models.Task{task}}
	sweep(t, tasks, &fakeDispatcher{}, &fakeNotifier{})

	require.Equal(t, models.TaskStateError, tasks.repairedState)
}

func TestSweepRedispatchesStalledPreparingTask(t *testing.T) {
	task := &models.Task{ID: "t1", State: models.TaskStatePreparing}
	task.Events = []models.Event{{TaskID: "t1", Name: models.EventPreparationEnded, Engine: "mustache@1"}}

	tasks := &fakeTaskStore{timedOut: []*models.Task{task}}
	dispatcher := &fakeDispatcher{}
	notifier := &fakeNotifier{}
	sweep(t, tasks, dispatcher, notifier)

	require.Len(t, dispatcher.dispatched, 1)
	require.False(t, tasks.repaired)
	require.Empty(t, notifier.notified)
}

func TestSweepRedispatchesLostHandOff(t *testing.T) {
	task := &models.Task{ID: "t1", State: models.TaskStateGenerating}
	task.Events = []models.Event{{TaskID: "t1", Name: models.EventPreparationEnded, Engine: "mustache@1"}}

	tasks := &fakeTaskStore{timedOut: []*models.Task{task}}
	dispatcher := &fakeDispatcher{}
	sweep(t, tasks, dispatcher, &fakeNotifier{})

	require.Len(t, dispatcher.dispatched, 1)
}

func TestSweepRecordsTimeoutWithoutNotifying(t *testing.T) {
	task := &models.Task{ID: "t1", State: models.TaskStateGenerating}
	task.Events = []models.Event{
		{TaskID: "t1", Name: models.EventPreparationEnded, Engine: "mustache@1"},
		models.NewSendRendererEnded("t1", "m1"),
	}

	tasks := &fakeTaskStore{timedOut: []*models.Task{task}}
	dispatcher := &fakeDispatcher{}
	notifier := &fakeNotifier{}
	sweep(t, tasks, dispatcher, notifier)

	require.Len(t, tasks.recorded, 1)
	require.Equal(t, models.EventExecutionTimeoutError, tasks.recorded[0].Name)
	require.Empty(t, dispatcher.dispatched)
	// The webhook for the timeout goes out on a later sweep, once the
	// recorded event makes the derived state diverge from the stored one.
	require.Empty(t, notifier.notified)
	require.False(t, tasks.repaired)
}

func TestSweepTimedOutTaskIsNotifiedOnNextSweep(t *testing.T) {
	task := &models.Task{ID: "t1", State: models.TaskStateGenerating}
	task.Events = []models.Event{
		{TaskID: "t1", Name: models.EventPreparationEnded, Engine: "mustache@1"},
		models.NewSendRendererEnded("t1", "m1"),
		models.NewExecutionTimeoutError("t1"),
	}

	tasks := &fakeTaskStore{timedOut: []*models.Task{task}}
	notifier := &fakeNotifier{}
	sweep(t, tasks, &fakeDispatcher{}, notifier)

	require.True(t, tasks.repaired)
	require.Equal(t, models.TaskStateError, tasks.repairedState)
	require.Len(t, notifier.notified, 1)
}
