package guest

import (
	"fmt"
	"strings"

	"github.com/GriffinCanCode/nodebox/internal/guest/binding"
	"github.com/GriffinCanCode/nodebox/internal/guest/engine"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/GriffinCanCode/nodebox/internal/vfs"
	"github.com/dop251/goja"
)

// GlobalNames is the global scope of a directly run program. Anything else
// the engine defines is deleted before the program starts.
var GlobalNames = []string{
	"Object", "Function", "Array", "Number",
	"parseFloat", "parseInt",
	"Boolean", "String",
	"Symbol", "Date", "Promise", "RegExp",
	"Error", "EvalError", "RangeError", "ReferenceError", "SyntaxError", "TypeError", "URIError",
	"JSON",
	"Math",
	"ArrayBuffer", "Uint8Array", "Int8Array", "Uint16Array", "Int16Array", "Uint32Array", "Int32Array",
	"Float32Array", "Float64Array", "Uint8ClampedArray", "DataView",
	"Map", "Set", "WeakMap", "WeakSet",
	"Proxy", "Reflect",
	"Infinity", "NaN", "undefined",
	"decodeURI", "decodeURIComponent", "encodeURI", "encodeURIComponent", "escape", "unescape",
	"eval",
	"isFinite", "isNaN",
	"console",
	"global",
	"process",
	"GLOBAL",
	"root",
	"Buffer",
	"clearImmediate", "clearInterval", "clearTimeout", "setImmediate", "setInterval", "setTimeout",
}

// direct installs the polyfilled global scope and runs args[0] as the main
// module. A throwing main module is reported and the loop keeps running.
func (in *instance) direct() error {
	if err := in.installGlobals(); err != nil {
		return err
	}

	args := in.reg.Process.Args()
	if len(args) == 0 {
		return nil
	}
	cwd := in.reg.Process.Cwd()
	if _, err := in.loader.Require(in.ctx, cwd, vfs.Join(cwd, args[0])); err != nil {
		if engine.Interrupted(err) {
			return err
		}
		in.report(err)
	}
	return nil
}

func (in *instance) installGlobals() error {
	vm := in.rt.VM()
	global := vm.GlobalObject()

	allowed := make(map[string]bool, len(GlobalNames))
	for _, name := range GlobalNames {
		allowed[name] = true
	}
	for _, name := range global.GetOwnPropertyNames() {
		if !allowed[name] {
			_ = global.Delete(name)
		}
	}

	_ = global.Set("global", global)
	_ = global.Set("GLOBAL", global)
	_ = global.Set("root", global)
	in.process = in.directProcess()
	_ = global.Set("process", in.process)
	_ = global.Set("console", in.console())
	in.installTimers(global)
	if err := in.installBuffer(global); err != nil {
		return err
	}

	present := make(map[string]bool)
	for _, name := range global.GetOwnPropertyNames() {
		present[name] = true
	}
	for _, name := range GlobalNames {
		if !present[name] {
			return fault.Message(fault.KindEvaluation, fmt.Sprintf("Core boot failure. Missing global definition '%s'.", name))
		}
	}
	return nil
}

func (in *instance) console() *goja.Object {
	obj := in.rt.VM().NewObject()
	out, errs := in.stdioHandle(1), in.stdioHandle(2)
	for name, h := range map[string]binding.Handle{
		"log": out, "info": out, "debug": out,
		"warn": errs, "error": errs,
	} {
		in.set(obj, name, in.consoleFunc(h))
	}
	return obj
}

// consoleFunc writes its arguments separated by spaces, one line per call.
func (in *instance) consoleFunc(h binding.Handle) native {
	return func(call goja.FunctionCall) goja.Value {
		var b strings.Builder
		for i, arg := range call.Arguments {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(arg.String())
		}
		b.WriteByte('\n')
		if err := in.reg.TTY.Write(h, b.String()); err != nil {
			in.throw(err)
		}
		return goja.Undefined()
	}
}

// installTimers defines the timer globals over timer handles. Ids are
// handle numbers; immediates use their own sequence.
func (in *instance) installTimers(global *goja.Object) {
	vm := in.rt.VM()
	timers := in.reg.Timers

	schedule := func(repeat bool) native {
		return func(call goja.FunctionCall) goja.Value {
			fn := call.Argument(0)
			if !isFunction(fn) {
				in.throwType("callback must be a function")
			}
			delay := max(engine.Int(call, 1, 1), 1)
			args := rest(call, 2)

			var h binding.Handle
			h = timers.New(func() error {
				if !repeat {
					_ = timers.Close(h)
				}
				return in.callback(fn, goja.Undefined(), args...)
			})
			_ = timers.Start(h, delay)
			return vm.ToValue(int64(h))
		}
	}
	clear := func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0)
		if goja.IsUndefined(id) || goja.IsNull(id) {
			return goja.Undefined()
		}
		h := binding.Handle(id.ToInteger())
		if kind, ok := in.reg.Handles.Kind(h); ok && kind == binding.TimerHandle {
			_ = timers.Close(h)
		}
		return goja.Undefined()
	}

	in.set(global, "setTimeout", schedule(false))
	in.set(global, "setInterval", schedule(true))
	in.set(global, "clearTimeout", clear)
	in.set(global, "clearInterval", clear)

	in.set(global, "setImmediate", func(call goja.FunctionCall) goja.Value {
		fn := call.Argument(0)
		if !isFunction(fn) {
			in.throwType("callback must be a function")
		}
		args := rest(call, 1)
		in.nextImmediate++
		id := in.nextImmediate
		in.immediates[id] = true
		in.loop.Enqueue(func() error {
			if !in.immediates[id] {
				return nil
			}
			delete(in.immediates, id)
			return in.callback(fn, goja.Undefined(), args...)
		})
		return vm.ToValue(id)
	})
	in.set(global, "clearImmediate", func(call goja.FunctionCall) goja.Value {
		delete(in.immediates, call.Argument(0).ToInteger())
		return goja.Undefined()
	})
}

// installBuffer defines Buffer as a lazy global backed by the buffer core
// module, so programs that never touch it do not need the module present.
func (in *instance) installBuffer(global *goja.Object) error {
	vm := in.rt.VM()
	getter := vm.ToValue(func(goja.FunctionCall) goja.Value {
		v, err := in.loadBuffer(global)
		if err != nil {
			in.throw(err)
		}
		return v
	})
	setter := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		in.bufferCtor = call.Argument(0)
		_ = global.DefineDataProperty("Buffer", in.bufferCtor, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_TRUE)
		return goja.Undefined()
	})
	return global.DefineAccessorProperty("Buffer", getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func (in *instance) loadBuffer(global *goja.Object) (goja.Value, error) {
	if in.bufferCtor != nil {
		return in.bufferCtor, nil
	}
	exports, err := in.loader.Require(in.ctx, "/", "buffer")
	if err != nil {
		return nil, err
	}
	v := in.rt.Value(exports)
	if obj, ok := v.(*goja.Object); ok {
		if ctor := obj.Get("Buffer"); isFunction(ctor) {
			v = ctor
		}
	}
	in.bufferCtor = v
	_ = global.DefineDataProperty("Buffer", v, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_TRUE)
	return v, nil
}
