// internal/models/task_test.go
package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReduceStateClassifiesByName(t *testing.T) {
	errorEvents := []string{
		EventDataMissingError,
		EventDataSyntaxError,
		EventTemplateLoadingError,
		EventTemplateExecutionError,
		EventInternalServerError,
		EventExecutionTimeoutError,
	}
	for _, name := range errorEvents {
		require.Equal(t, TaskStateError, ReduceState(TaskStateGenerating, name), name)
	}

	require.Equal(t, TaskStateFinished, ReduceState(TaskStateGenerating, EventGenerationEnded))

	neutral := []string{EventPreparationEnded, EventSendRendererEnded, EventWebhookEnded}
	for _, name := range neutral {
		require.Equal(t, TaskStateGenerating, ReduceState(TaskStateGenerating, name), name)
	}
}

func TestReduceStateIsIdempotent(t *testing.T) {
	once := ReduceState(TaskStateGenerating, EventGenerationEnded)
	twice := ReduceState(once, EventGenerationEnded)
	require.Equal(t, once, twice)

	once = ReduceState(TaskStateGenerating, EventInternalServerError)
	twice = ReduceState(once, EventInternalServerError)
	require.Equal(t, once, twice)
}

func TestReduceStateNeverRegressesFromTerminal(t *testing.T) {
	neutral := []string{EventPreparationEnded, EventSendRendererEnded, EventWebhookEnded}
	for _, name := range neutral {
		require.Equal(t, TaskStateFinished, ReduceState(TaskStateFinished, name), name)
		require.Equal(t, TaskStateError, ReduceState(TaskStateError, name), name)
	}
}

func TestTerminalStateFor(t *testing.T) {
	state, terminal := TerminalStateFor(EventGenerationEnded)
	require.True(t, terminal)
	require.Equal(t, TaskStateFinished, state)

	state, terminal = TerminalStateFor(EventExecutionTimeoutError)
	require.True(t, terminal)
	require.Equal(t, TaskStateError, state)

	_, terminal = TerminalStateFor(EventSendRendererEnded)
	require.False(t, terminal)
}

func TestDeriveStateErrorWinsOverSuccess(t *testing.T) {
	events := []Event{
		NewGenerationEnded("t1", "out/t1"),
		NewTemplateExecutionError("t1", "boom"),
	}
	require.Equal(t, TaskStateError, DeriveState(TaskStateGenerating, events))
}

func TestDeriveStateFindsBuriedOutcome(t *testing.T) {
	task := Task{ID: "t1", State: TaskStateGenerating}
	task.Events = []Event{
		NewSendRendererEnded("t1", "m1"),
		NewGenerationEnded("t1", "out/t1"),
		NewWebhookEnded("t1", WebhookTypeFinished, "https://example.com", "200 OK"),
	}
	require.Equal(t, TaskStateFinished, DeriveState(task.State, task.Events))
}

func TestDeriveStateKeepsStoredStateWithoutOutcome(t *testing.T) {
	events := []Event{NewSendRendererEnded("t1", "m1")}
	require.Equal(t, TaskStateGenerating, DeriveState(TaskStateGenerating, events))
	require.Equal(t, TaskStatePreparing, DeriveState(TaskStatePreparing, nil))
}

func TestFindEvent(t *testing.T) {
	task := Task{
		Events: []Event{
			NewSendRendererEnded("t1", "m1"),
			NewSendRendererEnded("t1", "m2"),
		},
	}

	found := task.FindEvent(EventSendRendererEnded)
	require.NotNil(t, found)
	require.Equal(t, "m1", found.MessageID)

	require.Nil(t, task.FindEvent(EventGenerationEnded))
	require.False(t, task.HasEvent(EventPreparationEnded))
}
