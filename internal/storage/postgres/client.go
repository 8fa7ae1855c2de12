// internal/storage/postgres/client.go
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"filegen/internal/config"
	"filegen/internal/models"
	_ "github.com/lib/pq"
)

// ErrTaskNotFound is returned when a task id has no row.
var ErrTaskNotFound = errors.New("task not found")

// ErrTemplateNotFound is returned when a template id has no row.
var ErrTemplateNotFound = errors.New("template not found")

// URLProvider turns an output object ref into a user-facing download URL.
// Wired to the object store at startup; nil disables download URLs.
type URLProvider func(ref string) string

// Client is the authoritative document store: tasks with their append-only
// event history, tenant settings, and template descriptors.
type Client struct {
	db   *sql.DB
	urls URLProvider
}

func NewClient(cfg config.PostgresConfig, urls URLProvider) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &Client{db: db, urls: urls}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// Task related functions

// AppendEvent atomically appends one event and recomputes the task state
// from the event name. The UPDATE is guarded so that a recomputation which
// does not itself produce a terminal state can never overwrite a stored
// terminal state; a duplicate append therefore leaves the projection as-is
// apart from the extra audit row.
func (c *Client) AppendEvent(ctx context.Context, taskID string, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_events (task_id, name, payload, created_at)
		VALUES ($1, $2, $3, $4)`,
		taskID, event.Name, payload, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	next, terminal := models.TerminalStateFor(event.Name)
	switch {
	case terminal && next == models.TaskStateFinished:
		downloadURL := ""
		if c.urls != nil {
			downloadURL = c.urls(event.OutputRef)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks
			SET state = $1, download_url = $2, edited_at = NOW()
			WHERE id = $3`,
			models.TaskStateFinished, downloadURL, taskID,
		)
	case terminal && next == models.TaskStateError:
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks
			SET state = $1, edited_at = NOW()
			WHERE id = $2`,
			models.TaskStateError, taskID,
		)
	default:
		// Neutral event: only the edit timestamp moves. The stored state,
		// terminal or not, stays untouched.
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET edited_at = NOW() WHERE id = $1`, taskID,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update task state: %w", err)
	}

	return tx.Commit()
}

// RecordEvent appends one event without recomputing the task state. Used
// by the reconciler's timeout path: the event lands in the log and a later
// sweep derives the state change from it.
func (c *Client) RecordEvent(ctx context.Context, taskID string, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_events (task_id, name, payload, created_at)
		VALUES ($1, $2, $3, $4)`,
		taskID, event.Name, payload, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET edited_at = NOW() WHERE id = $1`, taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch task: %w", err)
	}

	return tx.Commit()
}

// SetTaskState writes a state directly (dispatcher's PREPARING->GENERATING
// step and the reconciler's corrections). Guarded: a terminal stored state
// is only replaced by another terminal state, never regressed.
func (c *Client) SetTaskState(ctx context.Context, taskID string, state models.TaskState) error {
	query := `
		UPDATE tasks
		SET state = $1, edited_at = NOW()
		WHERE id = $2 AND (state NOT IN ($3, $4) OR $1 IN ($3, $4))`

	_, err := c.db.ExecContext(ctx, query,
		state, taskID, models.TaskStateFinished, models.TaskStateError,
	)
	return err
}

// RepairTaskState is the reconciler's correction write: it forces the
// state the event log proves and, for a finished task, restores the
// download URL from the finishing event's output ref.
func (c *Client) RepairTaskState(ctx context.Context, taskID string, state models.TaskState, outputRef string) error {
	if state == models.TaskStateFinished && c.urls != nil && outputRef != "" {
		_, err := c.db.ExecContext(ctx, `
			UPDATE tasks
			SET state = $1, download_url = $2, edited_at = NOW()
			WHERE id = $3`,
			state, c.urls(outputRef), taskID,
		)
		return err
	}
	_, err := c.db.ExecContext(ctx, `
		UPDATE tasks SET state = $1, edited_at = NOW() WHERE id = $2`,
		state, taskID,
	)
	return err
}

func (c *Client) FetchTask(ctx context.Context, id string) (*models.Task, error) {
	query := `
		SELECT id, user_id, template_id, state, COALESCE(download_url, ''), created_at, edited_at
		FROM tasks
		WHERE id = $1`

	var task models.Task
	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&task.ID,
		&task.UserID,
		&task.TemplateID,
		&task.State,
		&task.DownloadURL,
		&task.CreatedAt,
		&task.EditedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	task.Events, err = c.fetchEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// fetchEvents returns the task's history in insertion order.
func (c *Client) fetchEvents(ctx context.Context, taskID string) ([]models.Event, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT payload
		FROM task_events
		WHERE task_id = $1
		ORDER BY seq`, taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var event models.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// FetchTimedOutTasks returns non-terminal tasks whose last edit is older
// than the given threshold, events included.
func (c *Client) FetchTimedOutTasks(ctx context.Context, threshold time.Duration) ([]*models.Task, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_id, template_id, state, COALESCE(download_url, ''), created_at, edited_at
		FROM tasks
		WHERE state IN ($1, $2) AND edited_at < NOW() - $3 * INTERVAL '1 second'`,
		models.TaskStatePreparing, models.TaskStateGenerating, int(threshold.Seconds()),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		var task models.Task
		if err := rows.Scan(
			&task.ID,
			&task.UserID,
			&task.TemplateID,
			&task.State,
			&task.DownloadURL,
			&task.CreatedAt,
			&task.EditedAt,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, task := range tasks {
		if task.Events, err = c.fetchEvents(ctx, task.ID); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// Settings related functions

func (c *Client) GetSettings(ctx context.Context, userID string) (*models.Settings, error) {
	query := `SELECT user_id, webhooks FROM settings WHERE user_id = $1`

	var settings models.Settings
	var webhooksJSON []byte
	err := c.db.QueryRowContext(ctx, query, userID).Scan(&settings.UserID, &webhooksJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(webhooksJSON, &settings.Webhooks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal webhooks: %w", err)
	}
	return &settings, nil
}

// Template related functions

func (c *Client) GetTemplate(ctx context.Context, id string) (*models.TemplateDescriptor, error) {
	query := `
		SELECT id, author_id, name, enabled, engine, output_type,
		       content_ref, COALESCE(compiled_content_ref, ''), is_deleted,
		       created_at, edited_at
		FROM templates
		WHERE id = $1`

	var tpl models.TemplateDescriptor
	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&tpl.ID,
		&tpl.AuthorID,
		&tpl.Name,
		&tpl.Enabled,
		&tpl.Engine,
		&tpl.OutputType,
		&tpl.ContentRef,
		&tpl.CompiledContentRef,
		&tpl.IsDeleted,
		&tpl.CreatedAt,
		&tpl.EditedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	return &tpl, nil
}
