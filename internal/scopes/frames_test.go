package scopes

import (
	"testing"

	"github.com/sssooonnnggg/luaud/internal/vmhost"
)

// pushFrame fabricates a live frame on t with the given locals, the way
// the interpreter would have left it at a suspension point.
func pushFrame(t *vmhost.Thread, source, name string, line int, locals map[string]vmhost.Value) {
	env := vmhost.NewSynthEnv()
	for n, v := range locals {
		env.Declare(n, v)
	}
	t.Stack = append(t.Stack, &vmhost.Frame{
		Proto: &vmhost.FuncProto{Source: source, Name: name},
		Env:   env.Inner(),
		Line:  line,
	})
}

func TestRefreshBuildsFramesInnermostFirst(t *testing.T) {
	vm := vmhost.New()
	r := New(vm)
	main := vm.MainThread()
	pushFrame(main, "f.lua", "main chunk", 10, map[string]vmhost.Value{"a": vmhost.NumberValue(1)})
	pushFrame(main, "f.lua", "helper", 20, map[string]vmhost.Value{"b": vmhost.NumberValue(2)})

	depths := r.Refresh([]*vmhost.Thread{main}, vmhost.TableValue(vm.Globals))
	if len(depths) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(depths))
	}

	frames := r.Frames()
	if len(frames) != 2 {
		t.Fatalf("expected 2 frame infos, got %d", len(frames))
	}
	if frames[0].Name != "helper" || frames[0].Line != 20 {
		t.Fatalf("innermost frame must come first, got %q at %d", frames[0].Name, frames[0].Line)
	}
	if frames[1].Name != "main chunk" {
		t.Fatalf("outermost frame must come last, got %q", frames[1].Name)
	}

	// Every reported frame id resolves to exactly the scope triple.
	for _, fi := range frames {
		fs, ok := r.Scopes(fi.Depth)
		if !ok {
			t.Fatalf("frame %d has no scopes", fi.Depth)
		}
		for _, h := range []int32{fs.Local, fs.Upvalue, fs.Global} {
			if _, ok := r.Variables(h); !ok {
				t.Fatalf("scope handle %d of frame %d does not resolve", h, fi.Depth)
			}
		}
	}
}

func TestGlobalScopeExpandsFromGlobalsTable(t *testing.T) {
	vm := vmhost.New()
	r := New(vm)
	main := vm.MainThread()
	pushFrame(main, "f.lua", "main chunk", 1, nil)
	vm.Globals.Set(vmhost.StringValue("answer"), vmhost.NumberValue(42))

	r.Refresh([]*vmhost.Thread{main}, vmhost.TableValue(vm.Globals))
	fs, _ := r.Scopes(0)
	vars, ok := r.Variables(fs.Global)
	if !ok {
		t.Fatal("global scope must resolve")
	}
	found := false
	for _, v := range vars {
		if v.Name == "answer" && v.DisplayValue == "42" {
			found = true
		}
	}
	if !found {
		t.Fatal("global scope expansion must observe the globals table")
	}
}

func TestSetLocalRoundTrip(t *testing.T) {
	vm := vmhost.New()
	r := New(vm)
	main := vm.MainThread()
	pushFrame(main, "f.lua", "main chunk", 1, map[string]vmhost.Value{"x": vmhost.StringValue("lo")})

	r.Refresh([]*vmhost.Thread{main}, vmhost.TableValue(vm.Globals))
	fs, _ := r.Scopes(0)

	updated, err := r.Set(fs.Local, "x", vmhost.StringValue("hi"))
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if updated.DisplayValue != "hi" {
		t.Fatalf("expected updated snapshot, got %q", updated.DisplayValue)
	}

	// The write is observable both via the VM and the next Variables
	// call on the same parent.
	if _, val, _ := main.GetLocal(0, 1); val.Str != "hi" {
		t.Fatalf("expected the VM local to change, got %q", val.Str)
	}
	vars, _ := r.Variables(fs.Local)
	for _, v := range vars {
		if v.Name == "x" && v.DisplayValue != "hi" {
			t.Fatalf("snapshot not updated: %q", v.DisplayValue)
		}
	}
}

func TestSetTableEntryPreservesIntegerKeys(t *testing.T) {
	vm := vmhost.New()
	r := New(vm)
	tbl := vmhost.NewTable()
	tbl.Set(vmhost.NumberValue(1), vmhost.StringValue("one"))
	val := vmhost.TableValue(tbl)
	handle := r.AllocCompound(val)
	r.Variables(handle) // expand so the entry's IntIndex is recorded

	if _, err := r.Set(handle, "1", vmhost.StringValue("uno")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := tbl.Get(vmhost.NumberValue(1)); got.Str != "uno" {
		t.Fatalf("integer key not preserved on write, got %+v", got)
	}
}

func TestSetUnknownScopeIsLogicError(t *testing.T) {
	vm := vmhost.New()
	r := New(vm)
	if _, err := r.Set(12345, "x", vmhost.Nil); err == nil {
		t.Fatal("expected an error for an unknown scope handle")
	}
}
