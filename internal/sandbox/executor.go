// internal/sandbox/executor.go
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"filegen/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errDataSyntax = errors.New("input data is not valid JSON")

// ObjectStore is the slice of the object store the executor touches.
type ObjectStore interface {
	Get(ctx context.Context, ref string) ([]byte, error)
	Put(ctx context.Context, ref string, data []byte, contentType string) error
	ContentHash(ctx context.Context, ref string) (string, error)
}

// WorkQueue is the broker surface the executor consumes from and reports to.
type WorkQueue interface {
	DeclareWorkQueue(name string) error
	Consume(ctx context.Context, queueName string) (<-chan amqp.Delivery, error)
	PublishResult(ctx context.Context, msg models.ResultMessage) error
}

// Executor consumes work messages and runs tenant template code inside
// fresh single-use sandboxes. Exactly one terminal result message is
// published per invocation, whatever branch is taken.
type Executor struct {
	registry    *Registry
	store       ObjectStore
	queue       WorkQueue
	tplCache    *TemplateCache
	execTimeout time.Duration
	workerPool  chan struct{}
	workers     sync.WaitGroup
	log         *zap.Logger
}

func NewExecutor(registry *Registry, store ObjectStore, queue WorkQueue, tplCache *TemplateCache, maxWorkers int, execTimeout time.Duration, log *zap.Logger) *Executor {
	return &Executor{
		registry:    registry,
		store:       store,
		queue:       queue,
		tplCache:    tplCache,
		execTimeout: execTimeout,
		workerPool:  make(chan struct{}, maxWorkers),
		log:         log.Named("sandbox"),
	}
}

// Start declares every engine's work queue and begins consuming them.
func (e *Executor) Start(ctx context.Context) error {
	for _, engine := range e.registry.All() {
		if err := e.queue.DeclareWorkQueue(engine.Queue); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", engine.Queue, err)
		}

		deliveries, err := e.queue.Consume(ctx, engine.Queue)
		if err != nil {
			return fmt.Errorf("failed to consume queue %s: %w", engine.Queue, err)
		}

		e.log.Info("consuming work queue",
			zap.String("engine", engine.Name),
			zap.String("queue", engine.Queue),
		)
		go e.consumeLoop(ctx, deliveries)
	}
	return nil
}

func (e *Executor) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}

			var msg models.WorkMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				e.log.Error("discarding malformed work message", zap.Error(err))
				delivery.Nack(false, false) // don't requeue malformed messages
				continue
			}

			select {
			case e.workerPool <- struct{}{}:
				e.workers.Add(1)
				go func(delivery amqp.Delivery, msg models.WorkMessage) {
					defer func() {
						<-e.workerPool
						e.workers.Done()
					}()

					result := e.Execute(ctx, msg)
					if err := e.queue.PublishResult(ctx, result); err != nil {
						e.log.Error("failed to publish result",
							zap.String("taskId", msg.TaskID), zap.Error(err))
						delivery.Nack(false, true) // requeue, the render is re-runnable
						return
					}
					delivery.Ack(false)
				}(delivery, msg)
			default:
				delivery.Nack(false, true) // pool full, requeue
			}
		}
	}
}

// Shutdown waits for in-flight renders to finish.
func (e *Executor) Shutdown(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("sandbox shutdown timed out after %v", timeout)
	}
}

// Execute runs one work message to its terminal result.
func (e *Executor) Execute(ctx context.Context, msg models.WorkMessage) models.ResultMessage {
	engine, err := e.registry.Get(msg.Engine)
	if err != nil {
		e.log.Error("work message names unregistered engine",
			zap.String("taskId", msg.TaskID), zap.String("engine", msg.Engine))
		return models.ResultMessage{
			RefTaskID: msg.TaskID,
			Type:      models.ResultInternalServerError,
			Message:   models.MsgInternalServer,
		}
	}

	// Fetch input data and template code concurrently; both always settle
	// so the failure can be classified afterwards.
	var (
		data    interface{}
		dataErr error
		code    string
		codeErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, dataErr = e.fetchData(gctx, msg.InputRef)
		return nil
	})
	g.Go(func() error {
		code, codeErr = e.fetchCode(gctx, msg.TemplateRef)
		return nil
	})
	g.Wait()

	if dataErr != nil {
		if errors.Is(dataErr, errDataSyntax) {
			e.log.Warn("input data failed to parse",
				zap.String("taskId", msg.TaskID), zap.Error(dataErr))
			return models.ResultMessage{
				RefTaskID: msg.TaskID,
				Type:      models.ResultDataSyntaxError,
				Message:   models.MsgDataSyntax,
				Stack:     dataErr.Error(),
			}
		}
		e.log.Error("failed to fetch input data",
			zap.String("taskId", msg.TaskID), zap.Error(dataErr))
		return models.ResultMessage{
			RefTaskID: msg.TaskID,
			Type:      models.ResultInternalServerError,
			Message:   models.MsgInternalServer,
			Stack:     dataErr.Error(),
		}
	}

	if codeErr != nil {
		e.log.Warn("failed to fetch template code",
			zap.String("taskId", msg.TaskID), zap.Error(codeErr))
		// Message carries the data-missing marker so the ingestor appends
		// the DataMissingError companion event before TemplateLoadingError.
		return models.ResultMessage{
			RefTaskID: msg.TaskID,
			Type:      models.ResultTemplateLoadingError,
			Message:   models.MsgDataMissing,
			Stack:     codeErr.Error(),
		}
	}

	runtime := NewRuntime(engine, msg.TemplateRef, e.execTimeout)
	output, err := runtime.Render(code, data)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			e.log.Warn("template failed to load",
				zap.String("taskId", msg.TaskID), zap.Error(err))
			return models.ResultMessage{
				RefTaskID: msg.TaskID,
				Type:      models.ResultTemplateLoadingError,
				Message:   models.MsgTemplateLoading,
				Stack:     loadErr.Detail,
			}
		}
		var execErr *ExecError
		if errors.As(err, &execErr) {
			e.log.Warn("template failed while executing",
				zap.String("taskId", msg.TaskID), zap.Error(err))
			return models.ResultMessage{
				RefTaskID: msg.TaskID,
				Type:      models.ResultTemplateExecutionError,
				Message:   models.MsgTemplateExecution,
				Stack:     execErr.Detail,
			}
		}
		e.log.Error("unexpected sandbox failure",
			zap.String("taskId", msg.TaskID), zap.Error(err))
		return models.ResultMessage{
			RefTaskID: msg.TaskID,
			Type:      models.ResultInternalServerError,
			Message:   models.MsgInternalServer,
		}
	}

	contentType := msg.ContentType
	if contentType == "" {
		contentType = engine.ContentType
	}

	// A re-driven task re-renders the same (data, code) pair and replaces
	// the object with identical content.
	if err := e.store.Put(ctx, msg.OutputRef, output, contentType); err != nil {
		e.log.Error("failed to store output",
			zap.String("taskId", msg.TaskID), zap.String("outputRef", msg.OutputRef), zap.Error(err))
		return models.ResultMessage{
			RefTaskID: msg.TaskID,
			Type:      models.ResultInternalServerError,
			Message:   models.MsgInternalServer,
			Stack:     err.Error(),
		}
	}

	return models.ResultMessage{
		RefTaskID: msg.TaskID,
		Type:      models.ResultGenerationEnded,
		OutputRef: msg.OutputRef,
	}
}

// fetchData downloads and parses the task's input. A parse failure is the
// tenant's error; a download failure is ours.
func (e *Executor) fetchData(ctx context.Context, ref string) (interface{}, error) {
	raw, err := e.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", errDataSyntax, err)
	}
	return data, nil
}

// fetchCode loads template source through the content-hash cache. When the
// store cannot report a hash the code is fetched directly, uncached.
func (e *Executor) fetchCode(ctx context.Context, ref string) (string, error) {
	hash, err := e.store.ContentHash(ctx, ref)
	if err != nil || hash == "" {
		raw, getErr := e.store.Get(ctx, ref)
		if getErr != nil {
			return "", getErr
		}
		return string(raw), nil
	}

	if code, ok := e.tplCache.Get(hash); ok {
		return code, nil
	}

	raw, err := e.store.Get(ctx, ref)
	if err != nil {
		return "", err
	}
	code := string(raw)
	e.tplCache.Set(hash, code)
	return code, nil
}
