// internal/repository/tasks.go

// Package repository layers the short-TTL local cache over the Postgres
// document store. Reads go through the cache; every write lands on the
// authoritative store and invalidates the key, so the cache is never the
// system of record.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"filegen/internal/models"
	"filegen/internal/storage/postgres"
	"go.uber.org/zap"
)

// ErrTaskNotFound mirrors the store-level sentinel for callers that never
// touch the storage package directly.
var ErrTaskNotFound = postgres.ErrTaskNotFound

// Cache is the local TTL cache contract (implemented by storage/leveldb).
type Cache interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

func taskCacheKey(id string) string {
	return fmt.Sprintf("task:%s", id)
}

// Tasks is the event-log store front used by every pipeline component.
type Tasks struct {
	db    *postgres.Client
	cache Cache
	log   *zap.Logger
}

func NewTasks(db *postgres.Client, cache Cache, log *zap.Logger) *Tasks {
	return &Tasks{db: db, cache: cache, log: log.Named("tasks")}
}

// Fetch returns the current task projection, served from the local cache
// when a fresh copy exists.
func (r *Tasks) Fetch(ctx context.Context, id string) (*models.Task, error) {
	key := taskCacheKey(id)

	if cached, err := r.cache.Get(key); err == nil && cached != nil {
		var task models.Task
		if err := json.Unmarshal(cached, &task); err == nil {
			return &task, nil
		}
		r.log.Warn("discarding undecodable cache entry", zap.String("taskId", id))
	}

	task, err := r.db.FetchTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(task); err == nil {
		if err := r.cache.Put(key, data); err != nil {
			r.log.Warn("failed to cache task", zap.String("taskId", id), zap.Error(err))
		}
	}
	return task, nil
}

// FetchFresh reads the authoritative store directly, skipping the local
// cache. Dispatch decisions hang on the very latest events, so the trigger
// path cannot act on a projection up to a TTL old.
func (r *Tasks) FetchFresh(ctx context.Context, id string) (*models.Task, error) {
	return r.db.FetchTask(ctx, id)
}

// AppendEvent appends to the authoritative log and drops the cached copy.
func (r *Tasks) AppendEvent(ctx context.Context, taskID string, event models.Event) error {
	if err := r.db.AppendEvent(ctx, taskID, event); err != nil {
		return err
	}
	if err := r.cache.Delete(taskCacheKey(taskID)); err != nil {
		r.log.Warn("failed to invalidate task cache", zap.String("taskId", taskID), zap.Error(err))
	}
	return nil
}

// RecordEvent appends to the log without touching the state projection.
// Only the reconciler's timeout path uses this.
func (r *Tasks) RecordEvent(ctx context.Context, taskID string, event models.Event) error {
	if err := r.db.RecordEvent(ctx, taskID, event); err != nil {
		return err
	}
	if err := r.cache.Delete(taskCacheKey(taskID)); err != nil {
		r.log.Warn("failed to invalidate task cache", zap.String("taskId", taskID), zap.Error(err))
	}
	return nil
}

// SetState writes a state directly (guarded against terminal regression in
// the store) and drops the cached copy.
func (r *Tasks) SetState(ctx context.Context, taskID string, state models.TaskState) error {
	if err := r.db.SetTaskState(ctx, taskID, state); err != nil {
		return err
	}
	if err := r.cache.Delete(taskCacheKey(taskID)); err != nil {
		r.log.Warn("failed to invalidate task cache", zap.String("taskId", taskID), zap.Error(err))
	}
	return nil
}

// Repair forces the state the event log proves, restoring the download
// URL when the proven state is FINISHED.
func (r *Tasks) Repair(ctx context.Context, taskID string, state models.TaskState, outputRef string) error {
	if err := r.db.RepairTaskState(ctx, taskID, state, outputRef); err != nil {
		return err
	}
	if err := r.cache.Delete(taskCacheKey(taskID)); err != nil {
		r.log.Warn("failed to invalidate task cache", zap.String("taskId", taskID), zap.Error(err))
	}
	return nil
}

// FetchTimedOut queries the authoritative store directly: the reconciler
// corrects state, so stale reads would defeat its purpose.
func (r *Tasks) FetchTimedOut(ctx context.Context, threshold time.Duration) ([]*models.Task, error) {
	return r.db.FetchTimedOutTasks(ctx, threshold)
}

// IsNotFound reports whether err means the task does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, postgres.ErrTaskNotFound)
}
