// internal/models/message.go
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkMessage is the envelope the dispatcher publishes to an engine queue.
// It is built from the task's PreparationEnded event.
type WorkMessage struct {
	TaskID      string `json:"taskId"`
	UserID      string `json:"userId"`
	Filename    string `json:"filename,omitempty"`
	InputRef    string `json:"inputRef"`
	TemplateRef string `json:"templateRef"`
	Engine      string `json:"engine"`
	OutputRef   string `json:"outputRef"`

	// ContentType is resolved from the template descriptor at dispatch.
	// When empty, the executor falls back to the engine's content type.
	ContentType string `json:"contentType,omitempty"`
}

// NewWorkMessage builds the work message from a PreparationEnded event.
func NewWorkMessage(e Event) WorkMessage {
	return WorkMessage{
		TaskID:      e.TaskID,
		UserID:      e.UserID,
		Filename:    e.Filename,
		InputRef:    e.InputRef,
		TemplateRef: e.TemplateRef,
		Engine:      e.Engine,
		OutputRef:   e.OutputRef,
	}
}

// Result message types, published by the sandbox executor. Exactly one per
// invocation, regardless of branch.
const (
	ResultGenerationEnded        = EventGenerationEnded
	ResultDataSyntaxError        = EventDataSyntaxError
	ResultTemplateLoadingError   = EventTemplateLoadingError
	ResultTemplateExecutionError = EventTemplateExecutionError
	ResultInternalServerError    = EventInternalServerError
)

// ResultMessage is the envelope flowing executor -> ingestor.
type ResultMessage struct {
	RefTaskID string `json:"refTaskId"`
	Type      string `json:"type"`
	OutputRef string `json:"outputRef,omitempty"`
	Message   string `json:"message,omitempty"`
	Stack     string `json:"stack,omitempty"`
}

// ToEvent maps a result message to the event variant the ingestor appends.
func (m ResultMessage) ToEvent() (Event, error) {
	switch m.Type {
	case ResultGenerationEnded:
		return NewGenerationEnded(m.RefTaskID, m.OutputRef), nil
	case ResultDataSyntaxError:
		return NewDataSyntaxError(m.RefTaskID), nil
	case ResultTemplateLoadingError:
		return NewTemplateLoadingError(m.RefTaskID, m.Stack), nil
	case ResultTemplateExecutionError:
		return NewTemplateExecutionError(m.RefTaskID, m.Stack), nil
	case ResultInternalServerError:
		return NewInternalServerError(m.RefTaskID), nil
	}
	return Event{}, fmt.Errorf("unknown result message type %q", m.Type)
}

func (m ResultMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func (m WorkMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// PreparationEnded reconstructs the event the ingress would have appended;
// used by tests and by fixtures.
func (m WorkMessage) PreparationEnded() Event {
	return Event{
		TaskID:      m.TaskID,
		Name:        EventPreparationEnded,
		CreatedAt:   time.Now(),
		UserID:      m.UserID,
		Filename:    m.Filename,
		InputRef:    m.InputRef,
		TemplateRef: m.TemplateRef,
		Engine:      m.Engine,
		OutputRef:   m.OutputRef,
	}
}
