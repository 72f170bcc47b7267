package guest

import (
	"slices"

	"github.com/GriffinCanCode/nodebox/internal/guest/binding"
	"github.com/GriffinCanCode/nodebox/internal/guest/engine"
	"github.com/GriffinCanCode/nodebox/internal/protocol"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/dop251/goja"
)

const umask = 0o022

// baseProcess holds what both entry modes put on process.
func (in *instance) baseProcess() *goja.Object {
	vm := in.rt.VM()
	p := in.reg.Process
	obj := vm.NewObject()

	env := make(map[string]any)
	for k, v := range p.Env() {
		env[k] = v
	}
	versions := make(map[string]any, len(binding.Versions))
	for k, v := range binding.Versions {
		versions[k] = v
	}

	_ = obj.Set("title", "node")
	_ = obj.Set("argv", in.strings(p.Argv()))
	_ = obj.Set("execArgv", vm.NewArray())
	_ = obj.Set("env", in.rt.Object(env))
	_ = obj.Set("execPath", binding.ExecPath)
	_ = obj.Set("pid", binding.Pid)
	_ = obj.Set("platform", binding.Platform)
	_ = obj.Set("arch", binding.Arch)
	_ = obj.Set("version", binding.Version)
	_ = obj.Set("versions", in.rt.Object(versions))
	_ = obj.Set("release", in.rt.Object(map[string]any{"name": binding.ReleaseName}))
	_ = obj.Set("features", in.rt.Object(map[string]any{
		"debug": false, "uv": true, "ipv6": false, "tls_npn": false,
		"tls_alpn": false, "tls_sni": false, "tls_ocsp": false, "tls": false,
	}))

	in.set(obj, "cwd", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(p.Cwd())
	})
	in.set(obj, "chdir", func(call goja.FunctionCall) goja.Value {
		if err := p.Chdir(in.ctx, call.Argument(0).String()); err != nil {
			in.throw(err)
		}
		return goja.Undefined()
	})
	in.set(obj, "umask", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(umask)
	})
	in.set(obj, "uptime", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(p.Uptime())
	})
	in.set(obj, "hrtime", in.hrtime)
	in.set(obj, "binding", func(call goja.FunctionCall) goja.Value {
		b, err := in.binding(call.Argument(0).String())
		if err != nil {
			in.throw(err)
		}
		return b
	})
	return obj
}

// hrtime fills a three-slot Uint32Array the way the bootstrap expects, or
// returns [seconds, nanoseconds], relative to a previous reading if given.
func (in *instance) hrtime(call goja.FunctionCall) goja.Value {
	vm := in.rt.VM()
	sec, nsec := in.reg.Process.Hrtime()

	arg := call.Argument(0)
	if slots, ok := arg.Export().([]uint32); ok && len(slots) >= 3 {
		slots[0] = uint32(sec >> 32)
		slots[1] = uint32(sec)
		slots[2] = uint32(nsec)
		return goja.Undefined()
	}
	if prev, ok := arg.(*goja.Object); ok {
		sec -= prev.Get("0").ToInteger()
		nsec -= prev.Get("1").ToInteger()
		if nsec < 0 {
			sec--
			nsec += 1e9
		}
	}
	return vm.NewArray(sec, nsec)
}

// bootstrapProcess is the object handed to the bootstrap function. Its
// prototype is an empty object the bootstrap replaces with its emitter.
func (in *instance) bootstrapProcess() *goja.Object {
	vm := in.rt.VM()
	obj := in.baseProcess()

	_ = obj.Set("moduleLoadList", vm.NewArray())
	for _, name := range []string{
		"_setupProcessObject", "_setupPromises", "_memoryUsage", "_cpuUsage",
		"_startProfilerIdleNotifier", "_stopProfilerIdleNotifier",
		"_debugProcess", "_debugPause", "_debugEnd",
	} {
		in.set(obj, name, undefined)
	}
	in.set(obj, "_setupNextTick", func(call goja.FunctionCall) goja.Value {
		in.tickCallback = call.Argument(0)
		if holder, ok := call.Argument(1).(*goja.Object); ok {
			in.set(holder, "runMicrotasks", undefined)
		}
		return vm.NewArray(0, 0)
	})
	in.set(obj, "_setupDomainUse", func(goja.FunctionCall) goja.Value {
		return vm.NewArray(0)
	})
	in.set(obj, "_rawDebug", func(call goja.FunctionCall) goja.Value {
		_ = in.reg.TTY.Write(in.stdioHandle(2), call.Argument(0).String()+"\n")
		return goja.Undefined()
	})
	in.set(obj, "_getActiveHandles", func(goja.FunctionCall) goja.Value {
		active := in.reg.Handles.Active()
		items := make([]any, len(active))
		for i, h := range active {
			items[i] = int64(h)
		}
		return vm.NewArray(items...)
	})
	in.set(obj, "_getActiveRequests", func(goja.FunctionCall) goja.Value {
		return vm.NewArray()
	})
	in.set(obj, "reallyExit", func(call goja.FunctionCall) goja.Value {
		in.reg.Process.Exit(int(engine.Int(call, 0, 0)))
		return goja.Undefined()
	})
	for _, name := range []string{"_kill", "dlopen"} {
		in.set(obj, name, func(goja.FunctionCall) goja.Value {
			in.throw(fault.New(fault.KindNotImplemented, name, ""))
			return nil
		})
	}

	_ = obj.SetPrototype(vm.NewObject())
	return obj
}

// directProcess is the process global of a directly run program.
func (in *instance) directProcess() *goja.Object {
	obj := in.baseProcess()
	newEmitter(in, obj).install()

	_ = obj.Set("exitCode", goja.Undefined())
	in.set(obj, "exit", func(call goja.FunctionCall) goja.Value {
		code := in.exitCode()
		if v := call.Argument(0); !goja.IsUndefined(v) {
			code = int(v.ToInteger())
		}
		in.exit(code)
		return goja.Undefined()
	})
	in.set(obj, "nextTick", func(call goja.FunctionCall) goja.Value {
		fn := call.Argument(0)
		if !isFunction(fn) {
			in.throwType("callback must be a function")
		}
		args := rest(call, 1)
		in.loop.Enqueue(func() error {
			return in.callback(fn, goja.Undefined(), args...)
		})
		return goja.Undefined()
	})
	_ = obj.Set("stdin", in.directStdin())
	_ = obj.Set("stdout", in.directWriter(1))
	_ = obj.Set("stderr", in.directWriter(2))
	return obj
}

// directWriter is a write-only stream over fd 1 or 2.
func (in *instance) directWriter(fd int) *goja.Object {
	vm := in.rt.VM()
	h := in.stdioHandle(fd)
	obj := vm.NewObject()
	_ = obj.Set("fd", fd)
	_ = obj.Set("isTTY", true)
	_ = obj.Set("columns", binding.WindowCols)
	_ = obj.Set("rows", binding.WindowRows)
	in.set(obj, "write", func(call goja.FunctionCall) goja.Value {
		chunk := call.Argument(0)
		text := chunk.String()
		if data := in.rt.Bytes(chunk); data != nil {
			text = string(data)
		}
		if err := in.reg.TTY.Write(h, text); err != nil {
			in.throw(err)
		}
		for _, cb := range rest(call, 1) {
			if isFunction(cb) {
				in.loop.Enqueue(func() error { return in.callback(cb, obj) })
				break
			}
		}
		return vm.ToValue(true)
	})
	return obj
}

// directStdin is process.stdin for a directly run program. Listening for
// data or keypress starts reading, which keeps the guest alive until pause.
func (in *instance) directStdin() *goja.Object {
	vm := in.rt.VM()
	tty := in.reg.TTY
	obj := vm.NewObject()
	ev := newEmitter(in, obj)

	var h binding.Handle
	h = tty.Open(0, func(msg protocol.Stdin) {
		if err := in.stdinEvents(ev, tty.Reading(h), msg); err != nil {
			in.report(err)
		}
	})
	ev.onAdd = func(event string) {
		if event == "data" || event == "keypress" {
			_ = tty.ReadStart(h)
		}
	}
	ev.install()

	_ = obj.Set("fd", 0)
	_ = obj.Set("isTTY", true)
	_ = obj.Set("isRaw", false)
	in.set(obj, "setRawMode", func(call goja.FunctionCall) goja.Value {
		_ = obj.Set("isRaw", call.Argument(0).ToBoolean())
		return obj
	})
	in.set(obj, "setEncoding", func(goja.FunctionCall) goja.Value { return obj })
	in.set(obj, "resume", func(goja.FunctionCall) goja.Value {
		_ = tty.ReadStart(h)
		return obj
	})
	in.set(obj, "pause", func(goja.FunctionCall) goja.Value {
		_ = tty.ReadStop(h)
		return obj
	})
	in.set(obj, "isPaused", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(!tty.Reading(h))
	})
	in.set(obj, "ref", func(goja.FunctionCall) goja.Value {
		_ = in.reg.Handles.Ref(h)
		return obj
	})
	in.set(obj, "unref", func(goja.FunctionCall) goja.Value {
		_ = in.reg.Handles.Unref(h)
		return obj
	})
	return obj
}

func (in *instance) stdinEvents(ev *emitter, reading bool, msg protocol.Stdin) error {
	vm := in.rt.VM()
	if reading {
		if _, err := ev.emit("data", vm.ToValue(msg.Data)); err != nil {
			return err
		}
	}
	_, err := ev.emit("keypress", vm.ToValue(msg.Data), in.keyObject(msg))
	return err
}

// emitter is the listener table behind direct-mode process and stdin.
type emitter struct {
	in        *instance
	this      *goja.Object
	listeners map[string][]goja.Value
	onAdd     func(event string)
}

func newEmitter(in *instance, this *goja.Object) *emitter {
	return &emitter{in: in, this: this, listeners: make(map[string][]goja.Value)}
}

func (e *emitter) add(event string, fn goja.Value) {
	e.listeners[event] = append(e.listeners[event], fn)
	if e.onAdd != nil {
		e.onAdd(event)
	}
}

func (e *emitter) remove(event string, fn goja.Value) {
	list := e.listeners[event]
	for i, l := range list {
		if l.SameAs(fn) {
			e.listeners[event] = slices.Delete(slices.Clone(list), i, i+1)
			return
		}
	}
}

// emit calls every listener of event in registration order and reports
// whether there were any.
func (e *emitter) emit(event string, args ...goja.Value) (bool, error) {
	list := slices.Clone(e.listeners[event])
	for _, fn := range list {
		if _, err := e.in.rt.Call(fn, e.this, args...); err != nil {
			return true, err
		}
	}
	return len(list) > 0, nil
}

func (e *emitter) install() {
	in := e.in
	vm := in.rt.VM()
	listener := func(call goja.FunctionCall) (string, goja.Value) {
		fn := call.Argument(1)
		if !isFunction(fn) {
			in.throwType("listener must be a function")
		}
		return call.Argument(0).String(), fn
	}

	on := func(call goja.FunctionCall) goja.Value {
		e.add(listener(call))
		return e.this
	}
	off := func(call goja.FunctionCall) goja.Value {
		e.remove(listener(call))
		return e.this
	}
	in.set(e.this, "on", on)
	in.set(e.this, "addListener", on)
	in.set(e.this, "off", off)
	in.set(e.this, "removeListener", off)
	in.set(e.this, "once", func(call goja.FunctionCall) goja.Value {
		event, fn := listener(call)
		var wrapper goja.Value
		wrapper = vm.ToValue(func(c goja.FunctionCall) goja.Value {
			e.remove(event, wrapper)
			v, err := in.rt.Call(fn, c.This, c.Arguments...)
			if err != nil {
				in.throw(err)
			}
			return v
		})
		e.add(event, wrapper)
		return e.this
	})
	in.set(e.this, "emit", func(call goja.FunctionCall) goja.Value {
		had, err := e.emit(call.Argument(0).String(), rest(call, 1)...)
		if err != nil {
			in.throw(err)
		}
		return vm.ToValue(had)
	})
	in.set(e.this, "listenerCount", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(len(e.listeners[call.Argument(0).String()]))
	})
}
