// internal/models/event.go
package models

import "time"

// Event names. State derivation keys off the names themselves: anything
// ending in "Error" is terminal-failure, GenerationEnded is terminal-success.
const (
	EventPreparationEnded       = "PreparationEnded"
	EventSendRendererEnded      = "SendRendererEnded"
	EventGenerationEnded        = "GenerationEnded"
	EventWebhookEnded           = "WebhookEnded"
	EventDataMissingError       = "DataMissingError"
	EventDataSyntaxError        = "DataSyntaxError"
	EventTemplateLoadingError   = "TemplateLoadingError"
	EventTemplateExecutionError = "TemplateExecutionError"
	EventInternalServerError    = "InternalServerError"
	EventExecutionTimeoutError  = "ExecutionTimeoutError"
)

// Fixed user-facing messages attached to error events.
const (
	MsgDataMissing       = "Required data is missing."
	MsgDataSyntax        = "Syntax error in uploading data. The data does not conform to JSON format."
	MsgTemplateLoading   = "Error occurred while loading the template."
	MsgTemplateExecution = "Error occurred while executing the template."
	MsgInternalServer    = "Internal Server Error: An unexpected issue occurred on our server."
	MsgExecutionTimeout  = "The generation was accepted by a renderer but never returned."
)

// Event is an immutable, timestamped fact appended to a task's history.
// Variants share one flat struct discriminated by Name; fields not used by
// a variant stay zero and are omitted from JSON.
type Event struct {
	TaskID    string    `json:"taskId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Message   string    `json:"message,omitempty"`

	// PreparationEnded
	UserID      string `json:"userId,omitempty"`
	Filename    string `json:"filename,omitempty"`
	InputRef    string `json:"inputRef,omitempty"`
	TemplateRef string `json:"templateRef,omitempty"`
	Engine      string `json:"engine,omitempty"`

	// SendRendererEnded
	MessageID string `json:"messageId,omitempty"`

	// DataMissingError
	MissingTarget string `json:"missingTarget,omitempty"`

	// TemplateLoadingError / TemplateExecutionError
	Error string `json:"error,omitempty"`

	// GenerationEnded
	OutputRef string `json:"outputRef,omitempty"`
	IsDeleted bool   `json:"isDeleted,omitempty"`

	// WebhookEnded
	WebhookType string `json:"type,omitempty"`
	URL         string `json:"url,omitempty"`
	Response    string `json:"response,omitempty"`
}

func NewSendRendererEnded(taskID, messageID string) Event {
	return Event{
		TaskID:    taskID,
		Name:      EventSendRendererEnded,
		CreatedAt: time.Now(),
		MessageID: messageID,
	}
}

func NewGenerationEnded(taskID, outputRef string) Event {
	return Event{
		TaskID:    taskID,
		Name:      EventGenerationEnded,
		CreatedAt: time.Now(),
		OutputRef: outputRef,
		IsDeleted: false,
	}
}

func NewWebhookEnded(taskID, webhookType, url, response string) Event {
	return Event{
		TaskID:      taskID,
		Name:        EventWebhookEnded,
		CreatedAt:   time.Now(),
		WebhookType: webhookType,
		URL:         url,
		Response:    response,
	}
}

func NewDataMissingError(taskID, missingTarget string) Event {
	return Event{
		TaskID:        taskID,
		Name:          EventDataMissingError,
		CreatedAt:     time.Now(),
		Message:       MsgDataMissing,
		MissingTarget: missingTarget,
	}
}

func NewDataSyntaxError(taskID string) Event {
	return Event{
		TaskID:    taskID,
		Name:      EventDataSyntaxError,
		CreatedAt: time.Now(),
		Message:   MsgDataSyntax,
	}
}

func NewTemplateLoadingError(taskID, detail string) Event {
	return Event{
		TaskID:    taskID,
		Name:      EventTemplateLoadingError,
		CreatedAt: time.Now(),
		Message:   MsgTemplateLoading,
		Error:     detail,
	}
}

func NewTemplateExecutionError(taskID, detail string) Event {
	return Event{
		TaskID:    taskID,
		Name:      EventTemplateExecutionError,
		CreatedAt: time.Now(),
		Message:   MsgTemplateExecution,
		Error:     detail,
	}
}

func NewInternalServerError(taskID string) Event {
	return Event{
		TaskID:    taskID,
		Name:      EventInternalServerError,
		CreatedAt: time.Now(),
		Message:   MsgInternalServer,
	}
}

func NewExecutionTimeoutError(taskID string) Event {
	return Event{
		TaskID:    taskID,
		Name:      EventExecutionTimeoutError,
		CreatedAt: time.Now(),
		Message:   MsgExecutionTimeout,
	}
}
