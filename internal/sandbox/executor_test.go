// internal/sandbox/executor_test.go
package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"filegen/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeObjectStore struct {
	objects  map[string][]byte
	hashes   map[string]string
	getErr   map[string]error
	puts     map[string][]byte
	putTypes map[string]string
	getCount map[string]int
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		objects:  make(map[string][]byte),
		hashes:   make(map[string]string),
		getErr:   make(map[string]error),
		puts:     make(map[string][]byte),
		putTypes: make(map[string]string),
		getCount: make(map[string]int),
	}
}

func (f *fakeObjectStore) Get(ctx context.Context, ref string) ([]byte, error) {
	f.getCount[ref]++
	if err := f.getErr[ref]; err != nil {
		return nil, err
	}
	data, ok := f.objects[ref]
	if !ok {
		return nil, errors.New("object not found: " + ref)
	}
	return data, nil
}

func (f *fakeObjectStore) Put(ctx context.Context, ref string, data []byte, contentType string) error {
	f.puts[ref] = data
	f.putTypes[ref] = contentType
	return nil
}

func (f *fakeObjectStore) ContentHash(ctx context.Context, ref string) (string, error) {
	hash, ok := f.hashes[ref]
	if !ok {
		return "", errors.New("object not found: " + ref)
	}
	return hash, nil
}

type fakeWorkQueue struct {
	results []models.ResultMessage
}

func (f *fakeWorkQueue) DeclareWorkQueue(name string) error { return nil }

func (f *fakeWorkQueue) Consume(ctx context.Context, queueName string) (<-chan amqp.Delivery, error) {
	ch := make(chan amqp.Delivery)
	close(ch)
	return ch, nil
}

func (f *fakeWorkQueue) PublishResult(ctx context.Context, msg models.ResultMessage) error {
	f.results = append(f.results, msg)
	return nil
}

const mustacheTemplate = `
	var mustache = require('mustache');
	module.exports = function (data) {
		return mustache.render('Hello {{name}}!', data);
	};
`

func newTestExecutor(t *testing.T, store *fakeObjectStore) *Executor {
	t.Helper()
	registry := NewRegistry()
	for _, engine := range BuiltinEngines() {
		require.NoError(t, registry.Register(engine))
	}
	cache := NewTemplateCache(time.Minute, 16)
	return NewExecutor(registry, store, &fakeWorkQueue{}, cache, 2, time.Minute, zap.NewNop())
}

func workMessage(taskID string) models.WorkMessage {
	return models.WorkMessage{
		TaskID:      taskID,
		UserID:      "u1",
		InputRef:    "input/" + taskID,
		TemplateRef: "templates/u1/greeting.js",
		Engine:      "mustache@1",
		OutputRef:   "output/" + taskID,
	}
}

func TestExecuteRendersAndStoresOutput(t *testing.T) {
	store := newFakeObjectStore()
	store.objects["input/t1"] = []byte(`{"name": "Ada"}`)
	store.objects["templates/u1/greeting.js"] = []byte(mustacheTemplate)
	store.hashes["templates/u1/greeting.js"] = "etag-1"

	executor := newTestExecutor(t, store)
	result := executor.Execute(context.Background(), workMessage("t1"))

	require.Equal(t, models.ResultGenerationEnded, result.Type)
	require.Equal(t, "t1", result.RefTaskID)
	require.Equal(t, "output/t1", result.OutputRef)
	require.Equal(t, "Hello Ada!", string(store.puts["output/t1"]))
	require.Equal(t, "text/plain", store.putTypes["output/t1"])
}

func TestExecuteStoresOutputWithMessageContentType(t *testing.T) {
	store := newFakeObjectStore()
	store.objects["input/t1"] = []byte(`{"name": "Ada"}`)
	store.objects["templates/u1/greeting.js"] = []byte(mustacheTemplate)
	store.hashes["templates/u1/greeting.js"] = "etag-1"

	msg := workMessage("t1")
	msg.ContentType = "application/pdf"
	result := newTestExecutor(t, store).Execute(context.Background(), msg)

	require.Equal(t, models.ResultGenerationEnded, result.Type)
	require.Equal(t, "application/pdf", store.putTypes["output/t1"])
}

func TestExecuteMalformedDataIsSyntaxError(t *testing.T) {
	store := newFakeObjectStore()
	store.objects["input/t1"] = []byte(`{"name": `)
	store.objects["templates/u1/greeting.js"] = []byte(mustacheTemplate)
	store.hashes["templates/u1/greeting.js"] = "etag-1"

	result := newTestExecutor(t, store).Execute(context.Background(), workMessage("t1"))
	require.Equal(t, models.ResultDataSyntaxError, result.Type)
	require.Equal(t, models.MsgDataSyntax, result.Message)
	require.Empty(t, store.puts)
}

func TestExecuteDataFetchFailureIsInternalError(t *testing.T) {
	store := newFakeObjectStore()
	store.getErr["input/t1"] = errors.New("connection reset")
	store.objects["templates/u1/greeting.js"] = []byte(mustacheTemplate)
	store.hashes["templates/u1/greeting.js"] = "etag-1"

	result := newTestExecutor(t, store).Execute(context.Background(), workMessage("t1"))
	require.Equal(t, models.ResultInternalServerError, result.Type)
}

func TestExecuteMissingTemplateCarriesDataMissingMarker(t *testing.T) {
	store := newFakeObjectStore()
	store.objects["input/t1"] = []byte(`{"name": "Ada"}`)

	result := newTestExecutor(t, store).Execute(context.Background(), workMessage("t1"))
	require.Equal(t, models.ResultTemplateLoadingError, result.Type)
	require.Equal(t, models.MsgDataMissing, result.Message)
}

func TestExecuteDataErrorWinsWhenBothFetchesFail(t *testing.T) {
	store := newFakeObjectStore()
	store.objects["input/t1"] = []byte(`{"name": `)

	result := newTestExecutor(t, store).Execute(context.Background(), workMessage("t1"))
	require.Equal(t, models.ResultDataSyntaxError, result.Type)
}

func TestExecuteBrokenTemplateIsLoadingError(t *testing.T) {
	store := newFakeObjectStore()
	store.objects["input/t1"] = []byte(`{}`)
	store.objects["templates/u1/greeting.js"] = []byte(`not javascript {{{`)
	store.hashes["templates/u1/greeting.js"] = "etag-1"

	result := newTestExecutor(t, store).Execute(context.Background(), workMessage("t1"))
	require.Equal(t, models.ResultTemplateLoadingError, result.Type)
	require.Equal(t, models.MsgTemplateLoading, result.Message)
	require.NotEmpty(t, result.Stack)
}

func TestExecuteThrowingTemplateIsExecutionError(t *testing.T) {
	store := newFakeObjectStore()
	store.objects["input/t1"] = []byte(`{}`)
	store.objects["templates/u1/greeting.js"] = []byte(
		`module.exports = function () { throw new Error('boom'); };`)
	store.hashes["templates/u1/greeting.js"] = "etag-1"

	result := newTestExecutor(t, store).Execute(context.Background(), workMessage("t1"))
	require.Equal(t, models.ResultTemplateExecutionError, result.Type)
	require.Contains(t, result.Stack, "boom")
	require.Contains(t, result.Stack, "greeting.js")
}

func TestExecuteUnknownEngineIsInternalError(t *testing.T) {
	store := newFakeObjectStore()
	msg := workMessage("t1")
	msg.Engine = "reactpdf@1"

	result := newTestExecutor(t, store).Execute(context.Background(), msg)
	require.Equal(t, models.ResultInternalServerError, result.Type)
}

func TestExecuteReusesCachedTemplateSource(t *testing.T) {
	store := newFakeObjectStore()
	store.objects["input/t1"] = []byte(`{"name": "Ada"}`)
	store.objects["input/t2"] = []byte(`{"name": "Grace"}`)
	store.objects["templates/u1/greeting.js"] = []byte(mustacheTemplate)
	store.hashes["templates/u1/greeting.js"] = "etag-1"

	executor := newTestExecutor(t, store)
	executor.Execute(context.Background(), workMessage("t1"))

	msg := workMessage("t2")
	result := executor.Execute(context.Background(), msg)
	require.Equal(t, models.ResultGenerationEnded, result.Type)
	require.Equal(t, "Hello Grace!", string(store.puts["output/t2"]))

	// Second render hits the content-hash cache.
	require.Equal(t, 1, store.getCount["templates/u1/greeting.js"])
}

func TestExecuteContentChangeBypassesCache(t *testing.T) {
	store := newFakeObjectStore()
	store.objects["input/t1"] = []byte(`{"name": "Ada"}`)
	store.objects["templates/u1/greeting.js"] = []byte(mustacheTemplate)
	store.hashes["templates/u1/greeting.js"] = "etag-1"

	executor := newTestExecutor(t, store)
	executor.Execute(context.Background(), workMessage("t1"))

	// Re-uploading the template changes its hash; the stale entry must not
	// be served.
	store.objects["templates/u1/greeting.js"] = []byte(`
		var mustache = require('mustache');
		module.exports = function (data) {
			return mustache.render('Goodbye {{name}}!', data);
		};
	`)
	store.hashes["templates/u1/greeting.js"] = "etag-2"

	executor.Execute(context.Background(), workMessage("t1"))
	require.Equal(t, "Goodbye Ada!", string(store.puts["output/t1"]))
	require.Equal(t, 2, store.getCount["templates/u1/greeting.js"])
}
