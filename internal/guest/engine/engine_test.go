package engine

import (
	"context"
	"testing"
	"time"

	"github.com/GriffinCanCode/nodebox/internal/guest/module"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/GriffinCanCode/nodebox/internal/vfs"
	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, files map[string]string) (*Runtime, *module.Loader) {
	t.Helper()
	r, err := New(Config{MaxCallStackSize: 512})
	require.NoError(t, err)

	snap := vfs.Snapshot{}
	for p, src := range files {
		snap[p] = vfs.FileEntry([]byte(src))
	}
	return r, module.NewLoader(vfs.New(snap), r)
}

func get(t *testing.T, v any, key string) goja.Value {
	t.Helper()
	obj, ok := v.(*goja.Object)
	require.True(t, ok, "exports should be an object, got %T", v)
	return obj.Get(key)
}

func TestModuleScope(t *testing.T) {
	_, ld := setup(t, map[string]string{
		"/lib/a.js": `exports.where = __filename + ":" + __dirname; exports.self = this === exports;`,
		"/lib/b.js": "#!/usr/bin/env node\nmodule.exports = require.resolve('./a');",
	})
	ctx := context.Background()

	a, err := ld.Require(ctx, "/", "./lib/a")
	require.NoError(t, err)
	assert.Equal(t, "/lib/a.js:/lib", get(t, a, "where").String())
	assert.True(t, get(t, a, "self").ToBoolean())

	b, err := ld.Require(ctx, "/", "/lib/b")
	require.NoError(t, err)
	assert.Equal(t, "/lib/a.js", b.(goja.Value).String())
}

func TestCircularModules(t *testing.T) {
	_, ld := setup(t, map[string]string{
		"/a.js": `exports.early = true; var b = require('./b'); exports.b = b; exports.done = true;`,
		"/b.js": `var a = require('./a'); exports.sawEarly = a.early === true; exports.sawDone = a.done === true;`,
	})

	a, err := ld.Require(context.Background(), "/", "./a")
	require.NoError(t, err)
	b := get(t, a, "b")
	assert.True(t, get(t, b, "sawEarly").ToBoolean())
	assert.False(t, get(t, b, "sawDone").ToBoolean())
	assert.True(t, get(t, a, "done").ToBoolean())
}

func TestErrorStacksAreSanitized(t *testing.T) {
	_, ld := setup(t, map[string]string{
		"/lib/bad.js": "// line one\nfunction explode() {\n  throw new Error('boom');\n}\nexplode();\n",
		"/main.js":    "try {\n  require('./lib/bad');\n} catch (e) {\n  module.exports = e.stack;\n}\n",
	})
	ctx := context.Background()

	_, err := ld.Require(ctx, "/", "./lib/bad")
	require.Error(t, err)
	var ge *module.GuestError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "Error: boom", ge.Message)

	stack := ge.Stack()
	assert.Contains(t, stack, "at explode (/lib/bad.js:3:")
	assert.Contains(t, stack, "/lib/bad.js:5:")
	assert.NotContains(t, stack, module.InternalPrefix)

	caught, err := ld.Require(ctx, "/", "./main")
	require.NoError(t, err)
	text := caught.(goja.Value).String()
	assert.Contains(t, text, "Error: boom")
	assert.Contains(t, text, "/lib/bad.js:3:")
	assert.Contains(t, text, "/main.js:2:")
	assert.NotContains(t, text, module.InternalPrefix)
}

func TestSyntaxError(t *testing.T) {
	_, ld := setup(t, map[string]string{"/syn.js": "var = ;"})

	_, err := ld.Require(context.Background(), "/", "./syn")
	var ge *module.GuestError
	require.ErrorAs(t, err, &ge)
	assert.Contains(t, ge.Message, "SyntaxError: ")
	require.NotEmpty(t, ge.Frames)
	assert.Equal(t, "/syn.js", ge.Frames[0].File)
	assert.Equal(t, 1, ge.Frames[0].Line)
}

func TestMissingModuleInGuest(t *testing.T) {
	_, ld := setup(t, map[string]string{
		"/main.js": `try { require('./nope') } catch (e) { module.exports = e.code + ' ' + e.message }`,
	})

	v, err := ld.Require(context.Background(), "/", "./main")
	require.NoError(t, err)
	assert.Equal(t, "MODULE_NOT_FOUND Cannot find module '/nope'", v.(goja.Value).String())
}

func TestJSONModule(t *testing.T) {
	_, ld := setup(t, map[string]string{
		"/conf.json": `{"port": 8080, "tags": ["a"]}`,
		"/bad.json":  `{port`,
	})
	ctx := context.Background()

	v, err := ld.Require(ctx, "/", "./conf.json")
	require.NoError(t, err)
	assert.Equal(t, int64(8080), get(t, v, "port").ToInteger())

	_, err = ld.Require(ctx, "/", "./bad.json")
	var ge *module.GuestError
	require.ErrorAs(t, err, &ge)
	assert.Contains(t, ge.Message, "/bad.json: SyntaxError")
}

func TestThrowFaultError(t *testing.T) {
	r, err := New(Config{})
	require.NoError(t, err)
	require.NoError(t, r.VM().Set("boom", func(goja.FunctionCall) goja.Value {
		r.Throw(fault.New(fault.KindNotFound, "open", "/x"))
		return nil
	}))

	v, err := r.RunScript("t.js", `try { boom() } catch (e) { [e.code, e.errno, e.syscall, e.path, e.message].join('|') }`)
	require.NoError(t, err)
	assert.Equal(t, "ENOENT|-4058|open|/x|ENOENT: no such file or directory, open '/x'", v.String())
}

func TestGuestErrorFromCall(t *testing.T) {
	r, err := New(Config{})
	require.NoError(t, err)

	fn, err := r.RunScript("fn.js", "(function () { throw new TypeError('bad arg'); })")
	require.NoError(t, err)

	_, err = r.Call(fn, goja.Undefined())
	var ge *module.GuestError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "TypeError: bad arg", ge.Message)
	assert.Equal(t, "fn.js", ge.Frames[0].File)

	_, err = r.Call(r.VM().ToValue(1), goja.Undefined())
	assert.EqualError(t, err, "TypeError: not a function")
}

func TestWatchInterrupts(t *testing.T) {
	r, err := New(Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	stop := r.Watch(ctx)
	defer stop()

	_, err = r.RunScript("spin.js", "for (;;) {}")
	require.Error(t, err)
	assert.True(t, Interrupted(err))
}

func TestBuffers(t *testing.T) {
	r, err := New(Config{})
	require.NoError(t, err)
	vm := r.VM()

	u8 := r.Uint8Array([]byte("hi"))
	b := r.Bytes(u8)
	require.Equal(t, "hi", string(b))
	b[0] = 'H'
	require.NoError(t, vm.Set("u8", u8))
	v, err := r.RunScript("u8.js", "String.fromCharCode(u8[0], u8[1])")
	require.NoError(t, err)
	assert.Equal(t, "Hi", v.String())

	arr, view := r.Float64Array(3)
	require.Len(t, view, 3)
	view[1] = 2.5
	require.NoError(t, vm.Set("f64", arr))
	v, err = r.RunScript("f64.js", "f64[1]")
	require.NoError(t, err)
	assert.Equal(t, 2.5, v.ToFloat())

	assert.Nil(t, r.Bytes(goja.Undefined()))
	assert.Equal(t, int64(7), Int(goja.FunctionCall{Arguments: []goja.Value{goja.Undefined()}}, 0, 7))
}
