package engine

import (
	"strings"

	"github.com/GriffinCanCode/nodebox/internal/guest/module"
	"github.com/dop251/goja"
)

// The module wrapper puts the body on its own lines, so body positions
// shift by exactly wrapperLines.
const (
	wrapperHead  = "(function (exports, require, module, __filename, __dirname) {\n"
	wrapperTail  = "\n})"
	wrapperLines = 1
)

type jsModule struct {
	obj *goja.Object
}

func (m *jsModule) Exports() any {
	return m.obj.Get("exports")
}

// Object returns the guest-visible module object.
func (m *jsModule) Object() *goja.Object {
	return m.obj
}

func (r *Runtime) NewModule(filename string) module.Module {
	obj := r.vm.NewObject()
	_ = obj.Set("id", filename)
	_ = obj.Set("filename", filename)
	_ = obj.Set("exports", r.vm.NewObject())
	_ = obj.Set("loaded", false)
	_ = obj.Set("children", r.vm.NewArray())
	return &jsModule{obj: obj}
}

func (r *Runtime) LineOffset() int {
	return wrapperLines
}

// Evaluate runs source as a module body with exports as this.
func (r *Runtime) Evaluate(source string, scope module.Scope) error {
	if strings.HasPrefix(source, "#!") {
		source = "//" + source
	}

	prg, err := r.compile(scope.SourceID, wrapperHead+source+wrapperTail)
	if err != nil {
		return err
	}
	wrapper, err := r.vm.RunProgram(prg)
	if err != nil {
		return r.convert(err)
	}

	mod := scope.Module.(*jsModule)
	exports := mod.obj.Get("exports")
	_, err = r.Call(wrapper, exports,
		exports,
		r.RequireFunc(scope.Require, scope.Resolve),
		mod.obj,
		r.vm.ToValue(scope.Filename),
		r.vm.ToValue(scope.Dirname),
	)
	if err != nil {
		return err
	}
	_ = mod.obj.Set("loaded", true)
	return nil
}

// RequireFunc builds a guest require function with a resolve method.
func (r *Runtime) RequireFunc(require module.RequireFunc, resolve module.ResolveFunc) *goja.Object {
	fn := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		v, err := require(call.Argument(0).String())
		if err != nil {
			r.Throw(err)
		}
		return r.Value(v)
	}).(*goja.Object)
	_ = fn.Set("resolve", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(resolve(call.Argument(0).String()))
	})
	return fn
}

func (r *Runtime) ParseJSON(filename, text string) (any, error) {
	v, err := r.jsonParse(goja.Undefined(), r.vm.ToValue(text))
	if err != nil {
		err = r.convert(err)
		if ge, ok := err.(*module.GuestError); ok {
			ge.Message = filename + ": " + ge.Message
		}
		return nil, err
	}
	return v, nil
}
