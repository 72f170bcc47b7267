package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/GriffinCanCode/nodebox/internal/guest/module"
	"github.com/dop251/goja"
)

// Config controls engine limits.
type Config struct {
	MaxCallStackSize int
}

// Runtime wraps one goja VM. It is not safe for concurrent use; only
// Interrupt may be called from another goroutine.
type Runtime struct {
	vm     *goja.Runtime
	config Config

	ctors     map[string]*goja.Object
	jsonParse goja.Callable
	scripts   int
}

// New creates a runtime. Intrinsics are captured before any guest code can
// remove them from the global scope.
func New(config Config) (*Runtime, error) {
	vm := goja.New()
	if config.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(config.MaxCallStackSize)
	}

	r := &Runtime{
		vm:     vm,
		config: config,
		ctors:  make(map[string]*goja.Object),
	}
	for _, name := range []string{"Error", "TypeError", "SyntaxError", "RangeError", "Uint8Array", "Float64Array"} {
		ctor := vm.Get(name)
		if ctor == nil {
			return nil, fmt.Errorf("engine: missing intrinsic %s", name)
		}
		r.ctors[name] = ctor.ToObject(vm)
	}

	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, errors.New("engine: JSON.parse is not callable")
	}
	r.jsonParse = parse
	return r, nil
}

// VM exposes the underlying goja runtime.
func (r *Runtime) VM() *goja.Runtime {
	return r.vm
}

// Watch interrupts running guest code once ctx is done. The returned func
// stops watching.
func (r *Runtime) Watch(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	return func() { close(done) }
}

// RunScript compiles and runs src as a classic script named name and
// returns its completion value.
func (r *Runtime) RunScript(name, src string) (goja.Value, error) {
	prg, err := r.compile(name, src)
	if err != nil {
		return nil, err
	}
	v, err := r.vm.RunProgram(prg)
	if err != nil {
		return nil, r.convert(err)
	}
	return v, nil
}

// Glue runs engine-internal source whose frames never show in guest stacks.
func (r *Runtime) Glue(src string) (goja.Value, error) {
	r.scripts++
	return r.RunScript(fmt.Sprintf("%sglue/%d", module.InternalPrefix, r.scripts), src)
}

// Call invokes fn, converting a thrown exception into a *module.GuestError.
func (r *Runtime) Call(fn goja.Value, this goja.Value, args ...goja.Value) (goja.Value, error) {
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, &module.GuestError{Message: "TypeError: not a function"}
	}
	v, err := callable(this, args...)
	if err != nil {
		return nil, r.convert(err)
	}
	return v, nil
}

// Value turns a Go value into a goja value, passing goja values through.
func (r *Runtime) Value(v any) goja.Value {
	if gv, ok := v.(goja.Value); ok {
		return gv
	}
	return r.vm.ToValue(v)
}

// Interrupted reports whether err came from an interrupt.
func Interrupted(err error) bool {
	var ie *goja.InterruptedError
	return errors.As(err, &ie)
}
