// internal/sandbox/runtime.go
package sandbox

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
)

// sourceMarker is the source name template code is compiled under. It leaks
// into stack traces, so every error surfaced to the tenant has it rewritten
// to the template's own filename first.
const sourceMarker = "filegen:sandbox"

// LoadError reports a failure to load template code into the sandbox
// (compile error, top-level throw, missing entry point).
type LoadError struct {
	Detail string
}

func (e *LoadError) Error() string { return e.Detail }

// ExecError reports a failure thrown while the entry point was running.
type ExecError struct {
	Detail string
}

func (e *ExecError) Error() string { return e.Detail }

// Runtime is a fresh, single-use isolated execution context. It exists for
// exactly one invocation and is discarded afterwards; nothing is ever
// shared between tasks or tenants.
type Runtime struct {
	engine   *Engine
	filename string
	timeout  time.Duration
}

// NewRuntime builds a runtime for one invocation of the given engine.
// templateRef is the object-store location of the code; only its base name
// is kept, for stack sanitization.
func NewRuntime(engine *Engine, templateRef string, timeout time.Duration) *Runtime {
	return &Runtime{
		engine:   engine,
		filename: path.Base(templateRef),
		timeout:  timeout,
	}
}

// Render loads the template code and invokes its entry point with the
// parsed input data, returning the produced output bytes.
//
// The sandbox resolves exactly the engine's allow-listed modules plus the
// console primitive; require of anything else throws a capability error
// that aborts execution. There is no filesystem, network, or process
// access inside the VM.
func (r *Runtime) Render(code string, data interface{}) ([]byte, error) {
	prg, err := goja.Compile(sourceMarker, code, false)
	if err != nil {
		return nil, &LoadError{Detail: r.sanitize(err)}
	}

	vm := goja.New()

	registry := require.NewRegistry(require.WithLoader(func(p string) ([]byte, error) {
		// Source modules are never resolvable: templates may only require
		// the engine's registered native modules.
		return nil, require.ModuleFileDoesNotExistError
	}))
	for name, loader := range r.engine.Modules {
		registry.RegisterNativeModule(name, loader)
	}
	registry.Enable(vm)
	console.Enable(vm)

	moduleObj := vm.NewObject()
	exportsObj := vm.NewObject()
	moduleObj.Set("exports", exportsObj)
	vm.Set("module", moduleObj)
	vm.Set("exports", exportsObj)

	if r.timeout > 0 {
		timer := time.AfterFunc(r.timeout, func() {
			vm.Interrupt("execution timed out")
		})
		defer timer.Stop()
	}

	if _, err := vm.RunProgram(prg); err != nil {
		return nil, &LoadError{Detail: r.sanitize(err)}
	}

	entry, err := r.entryPoint(vm, moduleObj)
	if err != nil {
		return nil, err
	}

	result, err := entry(goja.Undefined(), vm.ToValue(data))
	if err != nil {
		return nil, &ExecError{Detail: r.sanitize(err)}
	}

	return r.exportOutput(result)
}

// entryPoint resolves the single documented entry: module.exports itself
// when it is a function, or module.exports.default.
func (r *Runtime) entryPoint(vm *goja.Runtime, moduleObj *goja.Object) (goja.Callable, error) {
	exported := moduleObj.Get("exports")
	if fn, ok := goja.AssertFunction(exported); ok {
		return fn, nil
	}
	if obj, ok := exported.(*goja.Object); ok {
		if fn, ok := goja.AssertFunction(obj.Get("default")); ok {
			return fn, nil
		}
	}
	return nil, &LoadError{Detail: "template does not export a render function"}
}

// exportOutput converts the entry point's return value into output bytes.
func (r *Runtime) exportOutput(v goja.Value) ([]byte, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, &ExecError{Detail: "template returned no output"}
	}
	switch exported := v.Export().(type) {
	case string:
		return []byte(exported), nil
	case goja.ArrayBuffer:
		return exported.Bytes(), nil
	case []byte:
		return exported, nil
	}
	return nil, &ExecError{Detail: fmt.Sprintf("template returned unsupported output type %T", v.Export())}
}

// sanitize renders an error for the tenant with the internal source marker
// replaced by the template's own filename.
func (r *Runtime) sanitize(err error) string {
	var detail string
	if ex, ok := err.(*goja.Exception); ok {
		detail = ex.String()
	} else {
		detail = err.Error()
	}
	return strings.ReplaceAll(detail, sourceMarker, r.filename)
}
