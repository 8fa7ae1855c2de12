// internal/sandbox/modules.go
package sandbox

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/cbroglie/mustache"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/google/uuid"
)

// Native modules injected into sandboxes. Each is pure compute over values
// the template already owns; none reaches the network, the filesystem, or
// any other process state.

// mustacheModule exposes render(template, view) backed by the host-side
// mustache implementation.
func mustacheModule(vm *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)
	exports.Set("render", func(call goja.FunctionCall) goja.Value {
		tmpl := call.Argument(0).String()
		view := call.Argument(1).Export()
		out, err := mustache.Render(tmpl, view)
		if err != nil {
			panic(vm.NewGoError(fmt.Errorf("mustache: %w", err)))
		}
		return vm.ToValue(out)
	})
}

// gotemplateModule exposes render(template, data) backed by text/template.
func gotemplateModule(vm *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)
	exports.Set("render", func(call goja.FunctionCall) goja.Value {
		src := call.Argument(0).String()
		data := call.Argument(1).Export()

		tmpl, err := template.New("template").Parse(src)
		if err != nil {
			panic(vm.NewGoError(fmt.Errorf("gotemplate: %w", err)))
		}
		var sb strings.Builder
		if err := tmpl.Execute(&sb, data); err != nil {
			panic(vm.NewGoError(fmt.Errorf("gotemplate: %w", err)))
		}
		return vm.ToValue(sb.String())
	})
}

// uuidModule is the documented utility library available to every engine.
func uuidModule(vm *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)
	exports.Set("v4", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(uuid.New().String())
	})
}

// BuiltinEngines returns the engines this build ships with.
func BuiltinEngines() []*Engine {
	return []*Engine{
		{
			Name:        "mustache@1",
			Queue:       "render.mustache_1",
			ContentType: "text/plain",
			Modules: map[string]require.ModuleLoader{
				"mustache": mustacheModule,
				"uuid":     uuidModule,
			},
		},
		{
			Name:        "gotemplate@1",
			Queue:       "render.gotemplate_1",
			ContentType: "text/html",
			Modules: map[string]require.ModuleLoader{
				"gotemplate": gotemplateModule,
				"uuid":       uuidModule,
			},
		},
	}
}
