// internal/models/template.go
package models

import "time"

// OutputType identifies the kind of file a template produces.
type OutputType string

const (
	OutputTypePDF  OutputType = "PDF"
	OutputTypeHTML OutputType = "HTML"
	OutputTypeText OutputType = "TXT"
)

// ContentType returns the MIME type the generated output is stored with.
func (t OutputType) ContentType() string {
	switch t {
	case OutputTypePDF:
		return "application/pdf"
	case OutputTypeHTML:
		return "text/html"
	case OutputTypeText:
		return "text/plain"
	}
	return "application/octet-stream"
}

// TemplateDescriptor is the platform's view of a registered template.
// Templates are owned by the dashboard; the pipeline only reads them.
type TemplateDescriptor struct {
	ID                 string     `json:"id"`
	AuthorID           string     `json:"authorId"`
	Name               string     `json:"name"`
	Enabled            bool       `json:"enabled"`
	Engine             string     `json:"engine"`
	OutputType         OutputType `json:"outputType"`
	ContentRef         string     `json:"contentRef"`
	CompiledContentRef string     `json:"compiledContentRef,omitempty"`
	IsDeleted          bool       `json:"isDeleted"`
	CreatedAt          time.Time  `json:"createdAt"`
	EditedAt           time.Time  `json:"editedAt"`
}

// SourceRef returns the object-store location the sandbox should load:
// the compiled form when one exists, otherwise the raw content.
func (t *TemplateDescriptor) SourceRef() string {
	if t.CompiledContentRef != "" {
		return t.CompiledContentRef
	}
	return t.ContentRef
}

// Webhook type discriminators match terminal task states.
const (
	WebhookTypeFinished = string(TaskStateFinished)
	WebhookTypeError    = string(TaskStateError)
)

const (
	WebhookRetryMin = 1
	WebhookRetryMax = 5
)

// WebhookConfig is one tenant-configured callback.
type WebhookConfig struct {
	Type       string `json:"type"`
	URL        string `json:"url"`
	RetryLimit int    `json:"retryLimit"`
}

// Retries clamps RetryLimit into the documented [1,5] range.
func (w WebhookConfig) Retries() int {
	if w.RetryLimit < WebhookRetryMin {
		return WebhookRetryMin
	}
	if w.RetryLimit > WebhookRetryMax {
		return WebhookRetryMax
	}
	return w.RetryLimit
}

// Settings is the tenant settings document. Only the webhook list matters
// to the pipeline; access control fields stay with the ingress.
type Settings struct {
	UserID   string          `json:"userId"`
	Webhooks []WebhookConfig `json:"webhooks"`
}
