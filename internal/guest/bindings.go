package guest

import (
	"strconv"
	"strings"

	"github.com/GriffinCanCode/nodebox/internal/guest/binding"
	"github.com/GriffinCanCode/nodebox/internal/guest/engine"
	"github.com/GriffinCanCode/nodebox/internal/protocol"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/GriffinCanCode/nodebox/internal/vfs"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// kOnTimeout is the slot a timer handle's expiry callback lives in.
const kOnTimeout = "0"

// binding returns the guest object for a binding group, building it on
// first use. Repeated lookups return the same object.
func (in *instance) binding(name string) (*goja.Object, error) {
	if obj, ok := in.bindings[name]; ok {
		return obj, nil
	}
	group, err := binding.Lookup(name)
	if err != nil {
		return nil, err
	}

	var obj *goja.Object
	switch group {
	case binding.GroupFS:
		obj = in.fsBinding()
	case binding.GroupTTY:
		obj = in.ttyBinding()
	case binding.GroupTimer:
		obj = in.timerBinding()
	case binding.GroupCrypto:
		obj = in.cryptoBinding()
	case binding.GroupConstants:
		obj, err = in.constantsBinding()
	case binding.GroupUV:
		obj = in.uvBinding()
	case binding.GroupNatives:
		obj = in.nativesBinding()
	case binding.GroupContextify:
		obj = in.contextifyBinding()
	default:
		obj = in.stubBinding(name)
	}
	if err != nil {
		return nil, err
	}

	in.logger.Debug("binding.load", zap.String("name", name), zap.Stringer("group", group))
	in.bindings[name] = obj
	return obj, nil
}

// path resolves a guest path argument against the working directory.
func (in *instance) path(v goja.Value) string {
	return vfs.Join(in.reg.Process.Cwd(), v.String())
}

func (in *instance) fsBinding() *goja.Object {
	vm := in.rt.VM()
	fs := in.reg.FS
	obj := vm.NewObject()

	statValues, view := in.rt.Float64Array(2 * binding.StatSize)
	fill := func(st binding.Stat) goja.Value {
		values := st.Values()
		copy(view, values[:])
		return statValues
	}
	handle := func(v goja.Value) binding.Handle {
		return binding.Handle(v.ToInteger())
	}
	window := func(buf []byte, offset, length int64) []byte {
		if offset < 0 || offset > int64(len(buf)) {
			in.throwRange("offset out of range")
		}
		if length < 0 || length > int64(len(buf))-offset {
			in.throwRange("length extends beyond buffer")
		}
		return buf[offset : offset+length]
	}

	_ = obj.Set("FSReqWrap", in.requestClass())
	_ = obj.Set("statValues", statValues)
	in.set(obj, "getStatValues", func(goja.FunctionCall) goja.Value { return statValues })
	in.set(obj, "FSInitialize", undefined)

	in.set(obj, "open", func(call goja.FunctionCall) goja.Value {
		p, flags := in.path(call.Argument(0)), int(engine.Int(call, 1, binding.ORdonly))
		return in.complete(call.Argument(3), func() (goja.Value, error) {
			fd, err := fs.Open(in.ctx, p, flags)
			return vm.ToValue(int64(fd)), err
		})
	})
	in.set(obj, "close", func(call goja.FunctionCall) goja.Value {
		fd := handle(call.Argument(0))
		return in.complete(call.Argument(1), func() (goja.Value, error) {
			return nil, fs.Close(fd)
		})
	})
	in.set(obj, "read", func(call goja.FunctionCall) goja.Value {
		fd := handle(call.Argument(0))
		buf := window(in.rt.Bytes(call.Argument(1)), engine.Int(call, 2, 0), engine.Int(call, 3, 0))
		position := engine.Int(call, 4, -1)
		return in.complete(call.Argument(5), func() (goja.Value, error) {
			n, err := fs.Read(fd, buf, position)
			return vm.ToValue(n), err
		})
	})
	in.set(obj, "writeBuffer", func(call goja.FunctionCall) goja.Value {
		fd := handle(call.Argument(0))
		data := window(in.rt.Bytes(call.Argument(1)), engine.Int(call, 2, 0), engine.Int(call, 3, 0))
		position := engine.Int(call, 4, -1)
		return in.complete(call.Argument(5), func() (goja.Value, error) {
			n, err := fs.Write(fd, data, position)
			return vm.ToValue(n), err
		})
	})
	in.set(obj, "writeString", func(call goja.FunctionCall) goja.Value {
		fd := handle(call.Argument(0))
		data := []byte(call.Argument(1).String())
		position := engine.Int(call, 2, -1)
		return in.complete(call.Argument(4), func() (goja.Value, error) {
			n, err := fs.Write(fd, data, position)
			return vm.ToValue(n), err
		})
	})
	in.set(obj, "readdir", func(call goja.FunctionCall) goja.Value {
		p := in.path(call.Argument(0))
		return in.complete(call.Argument(2), func() (goja.Value, error) {
			names, err := fs.ReadDir(in.ctx, p)
			if err != nil {
				return nil, err
			}
			return in.strings(names), nil
		})
	})
	in.set(obj, "mkdir", func(call goja.FunctionCall) goja.Value {
		p := in.path(call.Argument(0))
		return in.complete(call.Argument(2), func() (goja.Value, error) {
			return nil, fs.Mkdir(in.ctx, p)
		})
	})
	in.set(obj, "stat", func(call goja.FunctionCall) goja.Value {
		p := in.path(call.Argument(0))
		return in.complete(call.Argument(1), func() (goja.Value, error) {
			st, err := fs.Stat(in.ctx, p)
			if err != nil {
				return nil, err
			}
			return fill(st), nil
		})
	})
	in.set(obj, "lstat", func(call goja.FunctionCall) goja.Value {
		p := in.path(call.Argument(0))
		return in.complete(call.Argument(1), func() (goja.Value, error) {
			st, err := fs.Lstat(in.ctx, p)
			if err != nil {
				return nil, err
			}
			return fill(st), nil
		})
	})
	in.set(obj, "fstat", func(call goja.FunctionCall) goja.Value {
		fd := handle(call.Argument(0))
		return in.complete(call.Argument(1), func() (goja.Value, error) {
			st, err := fs.Fstat(fd)
			if err != nil {
				return nil, err
			}
			return fill(st), nil
		})
	})
	in.set(obj, "access", func(call goja.FunctionCall) goja.Value {
		p := in.path(call.Argument(0))
		return in.complete(call.Argument(2), func() (goja.Value, error) {
			_, err := fs.Stat(in.ctx, p)
			if err != nil {
				err = fault.New(fault.KindNotFound, "access", p)
			}
			return nil, err
		})
	})
	in.set(obj, "realpath", func(call goja.FunctionCall) goja.Value {
		p := in.path(call.Argument(0))
		return in.complete(call.Argument(2), func() (goja.Value, error) {
			if _, err := fs.Stat(in.ctx, p); err != nil {
				return nil, fault.New(fault.KindNotFound, "realpath", p)
			}
			return vm.ToValue(p), nil
		})
	})
	for _, name := range []string{"fsync", "fdatasync"} {
		in.set(obj, name, func(call goja.FunctionCall) goja.Value {
			fd := handle(call.Argument(0))
			return in.complete(call.Argument(1), func() (goja.Value, error) {
				_, err := fs.Fstat(fd)
				return nil, err
			})
		})
	}

	in.set(obj, "internalModuleStat", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(fs.InternalModuleStat(in.ctx, in.path(call.Argument(0))))
	})
	readModule := func(call goja.FunctionCall) goja.Value {
		text, ok := fs.InternalModuleReadFile(in.ctx, in.path(call.Argument(0)))
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(text)
	}
	in.set(obj, "internalModuleReadFile", readModule)
	in.set(obj, "internalModuleReadJSON", readModule)
	return obj
}

func (in *instance) ttyBinding() *goja.Object {
	vm := in.rt.VM()
	obj := vm.NewObject()
	in.set(obj, "isTTY", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(binding.IsTTY(int(engine.Int(call, 0, -1))))
	})
	in.set(obj, "guessHandleType", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(in.reg.GuessHandleType(int(engine.Int(call, 0, -1))))
	})
	_ = obj.Set("TTY", vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		in.newTTY(call.This, int(call.Argument(0).ToInteger()))
		return nil
	}))
	return obj
}

// newTTY turns this into a stream handle for fd.
func (in *instance) newTTY(this *goja.Object, fd int) {
	vm := in.rt.VM()
	tty := in.reg.TTY

	var h binding.Handle
	h = tty.Open(fd, func(msg protocol.Stdin) {
		if err := in.deliver(this, h, msg); err != nil {
			in.report(err)
		}
	})
	_ = this.Set("fd", fd)
	_ = this.Set("writeQueueSize", 0)

	write := func(req goja.Value, text string) goja.Value {
		if err := tty.Write(h, text); err != nil {
			return in.errno(err)
		}
		if obj, ok := req.(*goja.Object); ok {
			_ = obj.Set("bytes", len(text))
			_ = obj.Set("async", false)
		}
		return vm.ToValue(0)
	}
	for _, name := range []string{"writeUtf8String", "writeAsciiString", "writeLatin1String", "writeUcs2String"} {
		in.set(this, name, func(call goja.FunctionCall) goja.Value {
			return write(call.Argument(0), call.Argument(1).String())
		})
	}
	in.set(this, "writeBuffer", func(call goja.FunctionCall) goja.Value {
		return write(call.Argument(0), string(in.rt.Bytes(call.Argument(1))))
	})
	in.set(this, "writev", func(call goja.FunctionCall) goja.Value {
		chunks := call.Argument(1).ToObject(vm)
		allBuffers := call.Argument(2).ToBoolean()
		n := int(chunks.Get("length").ToInteger())
		step := 2
		if allBuffers {
			step = 1
		}
		var b strings.Builder
		for i := 0; i < n; i += step {
			chunk := chunks.Get(strconv.Itoa(i))
			if data := in.rt.Bytes(chunk); data != nil {
				b.Write(data)
			} else {
				b.WriteString(chunk.String())
			}
		}
		return write(call.Argument(0), b.String())
	})
	in.set(this, "shutdown", func(call goja.FunctionCall) goja.Value {
		req := call.Argument(0)
		in.loop.Enqueue(func() error {
			if obj, ok := req.(*goja.Object); ok && isFunction(obj.Get("oncomplete")) {
				return in.callback(obj.Get("oncomplete"), obj, vm.ToValue(0), this, obj)
			}
			return nil
		})
		return vm.ToValue(0)
	})

	in.set(this, "getWindowSize", func(call goja.FunctionCall) goja.Value {
		if size, ok := call.Argument(0).(*goja.Object); ok {
			_ = size.Set("0", binding.WindowCols)
			_ = size.Set("1", binding.WindowRows)
		}
		return vm.ToValue(0)
	})
	in.set(this, "setRawMode", func(goja.FunctionCall) goja.Value { return vm.ToValue(0) })
	in.set(this, "setBlocking", func(goja.FunctionCall) goja.Value { return vm.ToValue(0) })
	in.set(this, "readStart", func(goja.FunctionCall) goja.Value { return in.errno(tty.ReadStart(h)) })
	in.set(this, "readStop", func(goja.FunctionCall) goja.Value { return in.errno(tty.ReadStop(h)) })
	in.handleMethods(this, h, func() error { return tty.Close(h) })
}

// handleMethods adds ref, unref, hasRef and close to a handle object.
func (in *instance) handleMethods(this *goja.Object, h binding.Handle, closeFn func() error) {
	vm := in.rt.VM()
	in.set(this, "ref", func(goja.FunctionCall) goja.Value {
		_ = in.reg.Handles.Ref(h)
		return goja.Undefined()
	})
	in.set(this, "unref", func(goja.FunctionCall) goja.Value {
		_ = in.reg.Handles.Unref(h)
		return goja.Undefined()
	})
	in.set(this, "hasRef", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(in.reg.Handles.HasRef(h))
	})
	in.set(this, "close", func(call goja.FunctionCall) goja.Value {
		_ = closeFn()
		if cb := call.Argument(0); isFunction(cb) {
			in.loop.Enqueue(func() error { return in.callback(cb, this) })
		}
		return goja.Undefined()
	})
}

// deliver hands one stdin message to a tty handle: the data to onread while
// reading, and a keypress event to the handle's owner.
func (in *instance) deliver(handle *goja.Object, h binding.Handle, msg protocol.Stdin) error {
	vm := in.rt.VM()
	if onread := handle.Get("onread"); in.reg.TTY.Reading(h) && isFunction(onread) {
		data := []byte(msg.Data)
		if err := in.callback(onread, handle, vm.ToValue(len(data)), in.buffer(data)); err != nil {
			return err
		}
	}
	owner, ok := handle.Get("owner").(*goja.Object)
	if !ok {
		return nil
	}
	emit := owner.Get("emit")
	if !isFunction(emit) {
		return nil
	}
	return in.callback(emit, owner, vm.ToValue("keypress"), vm.ToValue(msg.Data), in.keyObject(msg))
}

func (in *instance) timerBinding() *goja.Object {
	vm := in.rt.VM()
	timers := in.reg.Timers

	ctor := vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		this := call.This
		h := timers.New(func() error {
			return in.callback(this.Get(kOnTimeout), this)
		})
		in.set(this, "start", func(c goja.FunctionCall) goja.Value {
			return in.errno(timers.Start(h, max(engine.Int(c, 0, 1), 1)))
		})
		in.set(this, "stop", func(goja.FunctionCall) goja.Value {
			return in.errno(timers.Stop(h))
		})
		in.handleMethods(this, h, func() error { return timers.Close(h) })
		return nil
	}).(*goja.Object)
	_ = ctor.Set("kOnTimeout", 0)
	in.set(ctor, "now", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(timers.Now())
	})

	obj := vm.NewObject()
	_ = obj.Set("Timer", ctor)
	return obj
}

func (in *instance) cryptoBinding() *goja.Object {
	vm := in.rt.VM()
	crypto := in.reg.Crypto
	obj := vm.NewObject()

	in.set(obj, "randomBytes", func(call goja.FunctionCall) goja.Value {
		size := engine.Int(call, 0, 0)
		cb := call.Argument(1)
		if !isFunction(cb) {
			buf, err := crypto.RandomBytes(size)
			if err != nil {
				in.throw(err)
			}
			return in.buffer(buf)
		}
		if err := binding.CheckLength("size", size); err != nil {
			in.throw(err)
		}
		buf := make([]byte, size)
		crypto.FillLater(buf, func(err error) error {
			if err != nil {
				return in.callback(cb, goja.Undefined(), in.rt.NewError(err))
			}
			return in.callback(cb, goja.Undefined(), goja.Null(), in.buffer(buf))
		})
		return goja.Undefined()
	})
	in.set(obj, "randomFill", func(call goja.FunctionCall) goja.Value {
		target := call.Argument(0)
		view := in.rt.Bytes(target)
		offset := engine.Int(call, 1, 0)
		size := engine.Int(call, 2, int64(len(view))-offset)
		if offset < 0 || size < 0 || offset > int64(len(view)) || size > int64(len(view))-offset {
			in.throwRange("offset and size must lie within the buffer")
		}
		window := view[offset : offset+size]
		cb := call.Argument(3)
		if !isFunction(cb) {
			if err := crypto.Fill(window); err != nil {
				in.throw(err)
			}
			return target
		}
		crypto.FillLater(window, func(err error) error {
			if err != nil {
				return in.callback(cb, goja.Undefined(), in.rt.NewError(err))
			}
			return in.callback(cb, goja.Undefined(), goja.Null(), target)
		})
		return goja.Undefined()
	})
	return obj
}

func (in *instance) constantsBinding() (*goja.Object, error) {
	v, err := in.rt.ParseJSON("constants", binding.ConstantsSource())
	if err != nil {
		return nil, err
	}
	return v.(goja.Value).ToObject(in.rt.VM()), nil
}

func (in *instance) uvBinding() *goja.Object {
	vm := in.rt.VM()
	obj := vm.NewObject()
	for name, code := range binding.UVConstants() {
		_ = obj.Set(name, code)
	}
	in.set(obj, "errname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(binding.ErrName(int(engine.Int(call, 0, 0))))
	})
	return obj
}

func (in *instance) nativesBinding() *goja.Object {
	obj := in.rt.VM().NewObject()
	for key, src := range in.reg.Natives() {
		_ = obj.Set(key, src)
	}
	return obj
}

func (in *instance) contextifyBinding() *goja.Object {
	vm := in.rt.VM()
	obj := vm.NewObject()
	_ = obj.Set("ContextifyScript", vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		code := call.Argument(0).String()
		filename := "evalmachine.<anonymous>"
		if opts, ok := call.Argument(1).(*goja.Object); ok {
			if f := opts.Get("filename"); f != nil && !goja.IsUndefined(f) {
				filename = f.String()
			}
		}
		in.set(call.This, "runInThisContext", func(goja.FunctionCall) goja.Value {
			v, err := in.rt.RunScript(filename, code)
			if err != nil {
				in.throw(err)
			}
			return v
		})
		return nil
	}))
	in.set(obj, "isContext", func(goja.FunctionCall) goja.Value { return vm.ToValue(false) })
	in.set(obj, "makeContext", func(goja.FunctionCall) goja.Value {
		in.throw(fault.New(fault.KindNotImplemented, "makeContext", ""))
		return nil
	})
	return obj
}

func (in *instance) stubBinding(name string) *goja.Object {
	stub, _ := binding.StubFor(name)
	obj := in.rt.VM().NewObject()
	for key, v := range stub.Values {
		_ = obj.Set(key, in.toJS(v))
	}
	for key, v := range stub.Returns {
		in.set(obj, key, func(goja.FunctionCall) goja.Value { return in.toJS(v) })
	}
	for _, key := range stub.Constructors {
		_ = obj.Set(key, in.requestClass())
	}
	for _, key := range stub.Unsupported {
		in.set(obj, key, func(goja.FunctionCall) goja.Value {
			in.throw(fault.New(fault.KindNotImplemented, key, ""))
			return nil
		})
	}
	return obj
}
