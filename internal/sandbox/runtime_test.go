// internal/sandbox/runtime_test.go
package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func engineByName(t *testing.T, name string) *Engine {
	t.Helper()
	for _, e := range BuiltinEngines() {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("engine %s not built in", name)
	return nil
}

func TestRenderMustacheTemplate(t *testing.T) {
	code := `
		var mustache = require('mustache');
		module.exports = function (data) {
			return mustache.render('Hello {{name}}!', data);
		};
	`
	r := NewRuntime(engineByName(t, "mustache@1"), "templates/u1/greeting.js", time.Minute)
	out, err := r.Render(code, map[string]interface{}{"name": "Ada"})
	require.NoError(t, err)
	require.Equal(t, "Hello Ada!", string(out))
}

func TestRenderGoTemplate(t *testing.T) {
	code := `
		var gotemplate = require('gotemplate');
		module.exports = function (data) {
			return gotemplate.render('Total: {{.total}}', data);
		};
	`
	r := NewRuntime(engineByName(t, "gotemplate@1"), "templates/u1/receipt.js", time.Minute)
	out, err := r.Render(code, map[string]interface{}{"total": "42"})
	require.NoError(t, err)
	require.Equal(t, "Total: 42", string(out))
}

func TestRenderUUIDUtilityAvailable(t *testing.T) {
	code := `
		var uuid = require('uuid');
		module.exports = function () { return uuid.v4(); };
	`
	r := NewRuntime(engineByName(t, "mustache@1"), "templates/u1/id.js", time.Minute)
	out, err := r.Render(code, nil)
	require.NoError(t, err)
	require.Len(t, string(out), 36)
}

func TestRenderRejectsModuleOutsideAllowList(t *testing.T) {
	code := `
		var fs = require('fs');
		module.exports = function () { return 'never'; };
	`
	r := NewRuntime(engineByName(t, "mustache@1"), "templates/u1/escape.js", time.Minute)
	_, err := r.Render(code, nil)
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
}

func TestRenderCompileFailureIsLoadError(t *testing.T) {
	r := NewRuntime(engineByName(t, "mustache@1"), "templates/u1/broken.js", time.Minute)
	_, err := r.Render(`this is not javascript {{{`, nil)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
}

func TestRenderMissingEntryPointIsLoadError(t *testing.T) {
	r := NewRuntime(engineByName(t, "mustache@1"), "templates/u1/empty.js", time.Minute)
	_, err := r.Render(`var unused = 1;`, nil)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	require.Contains(t, loadErr.Detail, "render function")
}

func TestRenderDefaultExportEntryPoint(t *testing.T) {
	code := `exports.default = function (data) { return 'from default'; };`
	r := NewRuntime(engineByName(t, "mustache@1"), "templates/u1/default.js", time.Minute)
	out, err := r.Render(code, nil)
	require.NoError(t, err)
	require.Equal(t, "from default", string(out))
}

func TestRenderThrowIsExecErrorWithSanitizedSource(t *testing.T) {
	code := `module.exports = function () { throw new Error('template blew up'); };`
	r := NewRuntime(engineByName(t, "mustache@1"), "templates/u1/invoice.js", time.Minute)
	_, err := r.Render(code, nil)

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	require.Contains(t, execErr.Detail, "template blew up")
	require.NotContains(t, execErr.Detail, sourceMarker)
	require.Contains(t, execErr.Detail, "invoice.js")
}

func TestRenderRunawayTemplateIsInterrupted(t *testing.T) {
	code := `module.exports = function () { while (true) {} };`
	r := NewRuntime(engineByName(t, "mustache@1"), "templates/u1/spin.js", 50*time.Millisecond)
	_, err := r.Render(code, nil)

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
}

func TestRenderUnsupportedOutputIsExecError(t *testing.T) {
	code := `module.exports = function () { return 12345; };`
	r := NewRuntime(engineByName(t, "mustache@1"), "templates/u1/number.js", time.Minute)
	_, err := r.Render(code, nil)

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
}
