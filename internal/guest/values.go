package guest

import (
	"errors"
	"slices"

	"github.com/GriffinCanCode/nodebox/internal/guest/binding"
	"github.com/GriffinCanCode/nodebox/internal/guest/module"
	"github.com/GriffinCanCode/nodebox/internal/infrastructure/config"
	"github.com/GriffinCanCode/nodebox/internal/protocol"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/dop251/goja"
)

type native = func(goja.FunctionCall) goja.Value

func isFunction(v goja.Value) bool {
	if v == nil {
		return false
	}
	_, ok := goja.AssertFunction(v)
	return ok
}

// rest copies the arguments from index i on.
func rest(call goja.FunctionCall, i int) []goja.Value {
	if i >= len(call.Arguments) {
		return nil
	}
	return slices.Clone(call.Arguments[i:])
}

func undefined(goja.FunctionCall) goja.Value {
	return goja.Undefined()
}

// set installs a native method on obj.
func (in *instance) set(obj *goja.Object, name string, fn native) {
	_ = obj.Set(name, fn)
}

// toJS converts binding tables into plain guest values.
func (in *instance) toJS(v any) goja.Value {
	vm := in.rt.VM()
	switch v := v.(type) {
	case nil:
		return goja.Null()
	case map[string]any:
		obj := vm.NewObject()
		for k, item := range v {
			_ = obj.Set(k, in.toJS(item))
		}
		return obj
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = in.toJS(item)
		}
		return vm.NewArray(items...)
	default:
		return vm.ToValue(v)
	}
}

func (in *instance) strings(values []string) *goja.Object {
	items := make([]any, len(values))
	for i, s := range values {
		items[i] = s
	}
	return in.rt.VM().NewArray(items...)
}

// throw raises err in the guest with its stack rewritten to module paths.
func (in *instance) throw(err error) {
	in.rt.Throw(in.loader.Sanitize(guestError(err)))
}

// guestError maps binding errors that have a dedicated guest class.
func guestError(err error) error {
	var re *binding.RangeError
	if errors.As(err, &re) {
		return &module.GuestError{Message: "RangeError: " + re.Error()}
	}
	return err
}

func (in *instance) throwType(msg string) {
	panic(in.rt.VM().NewTypeError(msg))
}

func (in *instance) throwRange(msg string) {
	in.rt.Throw(&module.GuestError{Message: "RangeError: " + msg})
}

// errno is the status a stream method returns: 0 or a negative uv code.
func (in *instance) errno(err error) goja.Value {
	if err == nil {
		return in.rt.VM().ToValue(0)
	}
	n := fault.Errno(err)
	if n == 0 {
		n = fault.UVErrors["EINVAL"]
	}
	return in.rt.VM().ToValue(n)
}

// callback invokes a guest callback from the loop and then runs the
// bootstrap's tick queue, the way native callbacks re-enter the runtime.
func (in *instance) callback(fn, this goja.Value, args ...goja.Value) error {
	if _, err := in.rt.Call(fn, this, args...); err != nil {
		return err
	}
	if in.tickCallback == nil {
		return nil
	}
	_, err := in.rt.Call(in.tickCallback, in.process)
	return err
}

// complete runs op now when req is not a completion token, returning its
// result or throwing its error. With a token, op runs on the next tick and
// its outcome goes to req.oncomplete.
func (in *instance) complete(req goja.Value, op func() (goja.Value, error)) goja.Value {
	token, async := req.(*goja.Object)
	if !async {
		v, err := op()
		if err != nil {
			in.throw(err)
		}
		if v == nil {
			return goja.Undefined()
		}
		return v
	}

	in.loop.Enqueue(func() error {
		v, err := op()
		if err != nil {
			return in.callback(token.Get("oncomplete"), token, in.rt.NewError(guestError(err)))
		}
		if v == nil {
			v = goja.Undefined()
		}
		return in.callback(token.Get("oncomplete"), token, goja.Null(), v)
	})
	return goja.Undefined()
}

// requestClass is a constructor for request objects that only carry guest
// state, such as FSReqWrap and WriteWrap.
func (in *instance) requestClass() goja.Value {
	return in.rt.VM().ToValue(func(goja.ConstructorCall) *goja.Object { return nil })
}

// buffer copies data into a guest buffer. Once the runtime has a Buffer
// class the result is an instance of it, otherwise a plain Uint8Array.
func (in *instance) buffer(data []byte) goja.Value {
	u8 := in.rt.Uint8Array(data)
	if proto := in.bufferPrototype(); proto != nil {
		_ = u8.SetPrototype(proto)
	}
	return u8
}

func (in *instance) bufferPrototype() *goja.Object {
	ctor := in.bufferCtor
	if ctor == nil && in.config.Mode != config.ModeDirect {
		ctor = in.rt.VM().Get("Buffer")
	}
	obj, ok := ctor.(*goja.Object)
	if !ok {
		return nil
	}
	proto, ok := obj.Get("prototype").(*goja.Object)
	if !ok {
		return nil
	}
	return proto
}

// stdioHandle returns the shared output handle for fd 1 or 2.
func (in *instance) stdioHandle(fd int) binding.Handle {
	if h, ok := in.stdio[fd]; ok {
		return h
	}
	h := in.reg.TTY.Open(fd, nil)
	in.stdio[fd] = h
	return h
}

// keyObject describes a stdin message the way readline decorates keys.
func (in *instance) keyObject(msg protocol.Stdin) *goja.Object {
	obj := in.rt.VM().NewObject()
	_ = obj.Set("sequence", msg.Data)
	if msg.Key == nil {
		_ = obj.Set("name", goja.Undefined())
		_ = obj.Set("ctrl", false)
		_ = obj.Set("shift", false)
		_ = obj.Set("meta", false)
		return obj
	}
	_ = obj.Set("name", msg.Key.Name)
	_ = obj.Set("ctrl", msg.Key.Ctrl)
	_ = obj.Set("shift", msg.Key.Shift)
	_ = obj.Set("meta", msg.Key.Meta || msg.Key.Alt)
	return obj
}
