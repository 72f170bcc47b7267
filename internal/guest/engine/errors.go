package engine

import (
	"errors"
	"strings"

	"github.com/GriffinCanCode/nodebox/internal/guest/module"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
)

// convert turns goja failures into *module.GuestError. Interrupts and other
// host errors pass through.
func (r *Runtime) convert(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return &module.GuestError{
			Message: describe(ex.Value()),
			Value:   ex.Value(),
			Frames:  frames(ex.Stack()),
		}
	}

	var syn *goja.CompilerSyntaxError
	if errors.As(err, &syn) {
		return compileError("SyntaxError", &syn.CompilerError)
	}
	var ref *goja.CompilerReferenceError
	if errors.As(err, &ref) {
		return compileError("ReferenceError", &ref.CompilerError)
	}
	return err
}

// compile compiles src, reporting parse failures with their position.
func (r *Runtime) compile(name, src string) (*goja.Program, error) {
	prg, err := goja.Compile(name, src, false)
	if err == nil {
		return prg, nil
	}

	var list parser.ErrorList
	if _, perr := parser.ParseFile(nil, name, src, 0); errors.As(perr, &list) && len(list) > 0 {
		first := list[0]
		file := first.Position.Filename
		if file == "" {
			file = name
		}
		return nil, &module.GuestError{
			Message: "SyntaxError: " + first.Message,
			Frames:  []module.Frame{{File: file, Line: first.Position.Line, Column: first.Position.Column}},
		}
	}
	return nil, r.convert(err)
}

func compileError(kind string, ce *goja.CompilerError) *module.GuestError {
	ge := &module.GuestError{Message: kind + ": " + ce.Message}
	if ce.File != nil {
		pos := ce.File.Position(ce.Offset)
		ge.Frames = []module.Frame{{File: pos.Filename, Line: pos.Line, Column: pos.Column}}
	}
	return ge
}

func describe(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	return v.String()
}

func frames(stack []goja.StackFrame) []module.Frame {
	out := make([]module.Frame, 0, len(stack))
	for i := range stack {
		f := &stack[i]
		frame := module.Frame{Func: f.FuncName()}
		if src := f.SrcName(); src != "<native>" {
			pos := f.Position()
			frame.File = src
			frame.Line = pos.Line
			frame.Column = pos.Column
		}
		out = append(out, frame)
	}
	return out
}

// NewError builds the guest value for err. A guest error keeps its original
// value with its stack property replaced by the sanitized text; fault errors
// carry code, errno, syscall and path the way system errors do.
func (r *Runtime) NewError(err error) goja.Value {
	var ge *module.GuestError
	if errors.As(err, &ge) {
		if v, ok := ge.Value.(goja.Value); ok {
			if obj, ok := v.(*goja.Object); ok {
				_ = obj.Set("stack", ge.Stack())
			}
			return v
		}
		obj := r.errorObject(ctorFor(ge.Message), strings.TrimPrefix(ge.Message, ctorFor(ge.Message)+": "))
		_ = obj.Set("stack", ge.Stack())
		return obj
	}

	obj := r.errorObject("Error", err.Error())
	var fe *fault.Error
	if errors.As(err, &fe) {
		switch {
		case fe.Kind == fault.KindModuleNotFound:
			_ = obj.Set("code", "MODULE_NOT_FOUND")
		case fault.Code(err) != "":
			_ = obj.Set("code", fault.Code(err))
			_ = obj.Set("errno", fault.Errno(err))
		}
		if fe.Op != "" {
			_ = obj.Set("syscall", fe.Op)
		}
		if fe.Path != "" {
			_ = obj.Set("path", fe.Path)
		}
	}
	return obj
}

// Throw raises err inside the guest. It must only be called from a native
// function invoked by guest code.
func (r *Runtime) Throw(err error) {
	panic(r.NewError(err))
}

func (r *Runtime) errorObject(ctor, msg string) *goja.Object {
	obj, err := r.vm.New(r.ctors[ctor], r.vm.ToValue(msg))
	if err != nil {
		return r.vm.NewGoError(errors.New(msg))
	}
	return obj
}

func ctorFor(message string) string {
	for _, name := range []string{"SyntaxError", "TypeError", "RangeError"} {
		if strings.HasPrefix(message, name+": ") {
			return name
		}
	}
	return "Error"
}
