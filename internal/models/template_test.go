// internal/models/template_test.go
package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWebhookRetriesClamped(t *testing.T) {
	require.Equal(t, 1, WebhookConfig{RetryLimit: 0}.Retries())
	require.Equal(t, 1, WebhookConfig{RetryLimit: -3}.Retries())
	require.Equal(t, 3, WebhookConfig{RetryLimit: 3}.Retries())
	require.Equal(t, 5, WebhookConfig{RetryLimit: 99}.Retries())
}

func TestSourceRefPrefersCompiledContent(t *testing.T) {
	tpl := TemplateDescriptor{ContentRef: "templates/raw.js"}
	require.Equal(t, "templates/raw.js", tpl.SourceRef())

	tpl.CompiledContentRef = "templates/compiled.js"
	require.Equal(t, "templates/compiled.js", tpl.SourceRef())
}

func TestOutputTypeContentType(t *testing.T) {
	require.Equal(t, "application/pdf", OutputTypePDF.ContentType())
	require.Equal(t, "text/html", OutputTypeHTML.ContentType())
	require.Equal(t, "text/plain", OutputTypeText.ContentType())
	require.Equal(t, "application/octet-stream", OutputType("BOGUS").ContentType())
}
