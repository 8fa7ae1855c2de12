// internal/notify/webhook.go

// Package notify delivers terminal-state callbacks to tenant-configured
// webhook endpoints.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"filegen/internal/models"
	"go.uber.org/zap"
)

// SettingsStore looks up a tenant's settings document.
type SettingsStore interface {
	Fetch(ctx context.Context, userID string) (*models.Settings, error)
}

// TaskStore records delivery attempts on the task's event log.
type TaskStore interface {
	AppendEvent(ctx context.Context, taskID string, event models.Event) error
}

// Notifier fans a terminal task out to every matching webhook. Hooks run
// concurrently; attempts against a single hook run sequentially with no
// backoff, bounded by the hook's retry limit.
type Notifier struct {
	settings SettingsStore
	tasks    TaskStore
	client   *http.Client
	log      *zap.Logger
}

func NewNotifier(settings SettingsStore, tasks TaskStore, requestTimeout time.Duration, log *zap.Logger) *Notifier {
	return &Notifier{
		settings: settings,
		tasks:    tasks,
		client:   &http.Client{Timeout: requestTimeout},
		log:      log.Named("notify"),
	}
}

// Notify delivers the task to every webhook whose type matches the task's
// terminal state. Non-terminal tasks and tenants without webhooks are a
// no-op. Delivery failures are recorded, not returned: at this point the
// task has already settled and nothing upstream can act on the error.
func (n *Notifier) Notify(ctx context.Context, task *models.Task) error {
	if !task.State.Terminal() {
		return nil
	}

	settings, err := n.settings.Fetch(ctx, task.UserID)
	if err != nil {
		return fmt.Errorf("failed to fetch settings for user %s: %w", task.UserID, err)
	}
	if settings == nil {
		return nil
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	var wg sync.WaitGroup
	for _, hook := range settings.Webhooks {
		if hook.Type != string(task.State) {
			continue
		}
		wg.Add(1)
		go func(hook models.WebhookConfig) {
			defer wg.Done()
			n.deliver(ctx, task.ID, hook, payload)
		}(hook)
	}
	wg.Wait()
	return nil
}

// deliver runs the retry loop for one hook. Every attempt leaves a
// WebhookEnded event so the tenant can audit delivery; the loop stops at
// the first 2xx response.
func (n *Notifier) deliver(ctx context.Context, taskID string, hook models.WebhookConfig, payload []byte) {
	retries := hook.Retries()
	for attempt := 1; attempt <= retries; attempt++ {
		response, ok := n.post(ctx, hook.URL, payload)

		event := models.NewWebhookEnded(taskID, hook.Type, hook.URL, response)
		if err := n.tasks.AppendEvent(ctx, taskID, event); err != nil {
			n.log.Error("failed to record webhook attempt",
				zap.String("taskId", taskID), zap.String("url", hook.URL), zap.Error(err))
		}

		if ok {
			return
		}
		n.log.Warn("webhook attempt failed",
			zap.String("taskId", taskID),
			zap.String("url", hook.URL),
			zap.Int("attempt", attempt),
			zap.Int("retryLimit", retries),
			zap.String("response", response),
		)
	}
}

// post sends one request and reports the response summary and whether the
// endpoint accepted it.
func (n *Notifier) post(ctx context.Context, url string, payload []byte) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err.Error(), false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err.Error(), false
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused; the body itself is only kept
	// as a short audit trail.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	summary := resp.Status
	if len(body) > 0 {
		summary = fmt.Sprintf("%s: %s", resp.Status, body)
	}
	return summary, resp.StatusCode >= 200 && resp.StatusCode < 300
}
