// internal/models/task.go
package models

import (
	"strings"
	"time"
)

// TaskState represents the current state of a generation task
type TaskState string

const (
	TaskStatePreparing  TaskState = "PREPARING"
	TaskStateGenerating TaskState = "GENERATING"
	TaskStateFinished   TaskState = "FINISHED"
	TaskStateError      TaskState = "ERROR"
)

// Terminal reports whether the state is final. A terminal state is never
// replaced by a non-terminal one, regardless of which events arrive later.
func (s TaskState) Terminal() bool {
	return s == TaskStateFinished || s == TaskStateError
}

// Task represents a single file-generation request and its lifecycle.
// The Events slice is append-only and insertion-ordered; State is a pure
// projection of it and is only mutated through AppendEvent.
type Task struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	TemplateID  string    `json:"templateId"`
	State       TaskState `json:"state"`
	DownloadURL string    `json:"downloadURL,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	EditedAt    time.Time `json:"editedAt"`
	Events      []Event   `json:"events"`
}

// FindEvent returns the first event with the given name, or nil.
func (t *Task) FindEvent(name string) *Event {
	for i := range t.Events {
		if t.Events[i].Name == name {
			return &t.Events[i]
		}
	}
	return nil
}

// HasEvent reports whether any event with the given name has been appended.
func (t *Task) HasEvent(name string) bool {
	return t.FindEvent(name) != nil
}

// ReduceState applies a single event to the current state:
//   - event names ending in "Error" yield ERROR
//   - GenerationEnded yields FINISHED
//   - anything else leaves the state unchanged
//
// The guard at the end keeps the projection monotonic: once a task is
// terminal, a recomputation triggered by a stale or duplicate append can
// never drag it back to a non-terminal state.
func ReduceState(current TaskState, eventName string) TaskState {
	next := current
	switch {
	case strings.HasSuffix(eventName, "Error"):
		next = TaskStateError
	case eventName == EventGenerationEnded:
		next = TaskStateFinished
	}
	if current.Terminal() && !next.Terminal() {
		return current
	}
	return next
}

// TerminalStateFor returns the terminal state an event forces, if any.
func TerminalStateFor(eventName string) (TaskState, bool) {
	switch {
	case strings.HasSuffix(eventName, "Error"):
		return TaskStateError, true
	case eventName == EventGenerationEnded:
		return TaskStateFinished, true
	}
	return "", false
}

// DeriveState recomputes the "true" state strictly from the event log,
// starting from the stored state. Error events win over GenerationEnded,
// matching the reconciler's recovery rule.
func DeriveState(stored TaskState, events []Event) TaskState {
	for i := range events {
		if strings.HasSuffix(events[i].Name, "Error") {
			return TaskStateError
		}
	}
	for i := range events {
		if events[i].Name == EventGenerationEnded {
			return TaskStateFinished
		}
	}
	return stored
}
