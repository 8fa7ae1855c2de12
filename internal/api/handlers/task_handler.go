// internal/api/handlers/task_handler.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"filegen/internal/dispatch"
	"filegen/internal/models"
	"filegen/internal/repository"
	"github.com/go-chi/chi/v5"
)

// TaskStore is the slice of the task repository the handlers read from.
type TaskStore interface {
	Fetch(ctx context.Context, id string) (*models.Task, error)
	FetchFresh(ctx context.Context, id string) (*models.Task, error)
}

// Dispatcher hands a prepared task to its rendering engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *models.Task) error
}

type TaskHandler struct {
	tasks      TaskStore
	dispatcher Dispatcher
}

func NewTaskHandler(tasks TaskStore, dispatcher Dispatcher) *TaskHandler {
	return &TaskHandler{
		tasks:      tasks,
		dispatcher: dispatcher,
	}
}

// GetTask returns the task projection with its full event history.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	task, err := h.tasks.Fetch(r.Context(), taskID)
	if err != nil {
		if repository.IsNotFound(err) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to fetch task", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(task)
}

// DispatchTask hands a prepared task to its rendering engine. The ingress
// calls this after appending the PreparationEnded event. The no-duplicate
// rule lives here, not in the dispatcher: a task that already has a
// SendRendererEnded event is not handed off again. The decision reads the
// authoritative store; a cached projection could predate the ingress write.
func (h *TaskHandler) DispatchTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	task, err := h.tasks.FetchFresh(r.Context(), taskID)
	if err != nil {
		if repository.IsNotFound(err) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to fetch task", http.StatusInternalServerError)
		return
	}

	if task.State.Terminal() || task.HasEvent(models.EventSendRendererEnded) {
		http.Error(w, "task already dispatched", http.StatusConflict)
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), task); err != nil {
		if errors.Is(err, dispatch.ErrNotPrepared) {
			http.Error(w, "task is not ready for dispatch", http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, "failed to dispatch task", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Task handed to renderer",
		"taskId":  task.ID,
	})
}
