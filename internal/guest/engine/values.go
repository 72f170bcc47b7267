package engine

import (
	"github.com/dop251/goja"
)

// Bytes returns the memory behind a typed array or ArrayBuffer without
// copying, or nil when v is neither.
func (r *Runtime) Bytes(v goja.Value) []byte {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	switch x := v.Export().(type) {
	case goja.ArrayBuffer:
		return x.Bytes()
	case []byte:
		return x
	}
	if _, ok := v.(*goja.Object); !ok {
		return nil
	}
	var b []byte
	if err := r.vm.ExportTo(v, &b); err != nil {
		return nil
	}
	return b
}

// Uint8Array copies data into a new Uint8Array.
func (r *Runtime) Uint8Array(data []byte) *goja.Object {
	buf := make([]byte, len(data))
	copy(buf, data)
	obj, err := r.vm.New(r.ctors["Uint8Array"], r.vm.ToValue(r.vm.NewArrayBuffer(buf)))
	if err != nil {
		panic(err)
	}
	return obj
}

// Float64Array allocates a zeroed Float64Array of n elements and returns it
// with a Go view of its storage.
func (r *Runtime) Float64Array(n int) (*goja.Object, []float64) {
	obj, err := r.vm.New(r.ctors["Float64Array"], r.vm.ToValue(n))
	if err != nil {
		panic(err)
	}
	view, _ := obj.Export().([]float64)
	return obj, view
}

// Object builds a plain object from props.
func (r *Runtime) Object(props map[string]any) *goja.Object {
	obj := r.vm.NewObject()
	for k, v := range props {
		_ = obj.Set(k, v)
	}
	return obj
}

// Func wraps fn as a guest function.
func (r *Runtime) Func(fn func(goja.FunctionCall) goja.Value) goja.Value {
	return r.vm.ToValue(fn)
}

// Int reads argument i as an integer, with def for undefined.
func Int(call goja.FunctionCall, i int, def int64) int64 {
	v := call.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return def
	}
	return v.ToInteger()
}
