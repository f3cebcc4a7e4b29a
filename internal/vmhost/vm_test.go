package vmhost

import "testing"

func TestRunSimpleScript(t *testing.T) {
	vm := New()
	_, err := vm.Run(vm.MainThread(), "test.lua", `
local x = 1
local y = 2
return x + y
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBreakpointPlacement(t *testing.T) {
	vm := New()
	stmts, err := Parse("local x = 1\nlocal y = 2\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	proto := &FuncProto{Body: stmts, Source: "f.lua", Closure: newEnv(nil, true)}

	line := vm.Breakpoint(proto, 2, true)
	if line != 2 {
		t.Fatalf("expected breakpoint placed at line 2, got %d", line)
	}
	if !proto.hasBreakAt(2) {
		t.Fatalf("expected breakpoint to be armed at line 2")
	}

	vm.Breakpoint(proto, 2, false)
	if proto.hasBreakAt(2) {
		t.Fatalf("expected breakpoint to be cleared")
	}
}

func TestDebugBreakHookFires(t *testing.T) {
	vm := New()
	var hit int
	vm.SetHooks(Hooks{
		DebugBreak: func(th *Thread, rec DebugRecord) {
			hit++
			if rec.Line != 2 {
				t.Errorf("expected break at line 2, got %d", rec.Line)
			}
		},
	})

	stmts, err := Parse("local a = 1\nlocal b = 2\nlocal c = 3\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	proto := &FuncProto{Body: stmts, Source: "f.lua", Closure: newEnv(nil, true)}
	vm.Breakpoint(proto, 2, true)

	interp := &interpreter{vm: vm, thread: vm.MainThread()}
	if _, err := interp.callProto(proto, nil); err != nil {
		t.Fatalf("callProto: %v", err)
	}
	if hit != 1 {
		t.Fatalf("expected exactly one break, got %d", hit)
	}
}

func TestGetLocalAndSetLocal(t *testing.T) {
	vm := New()
	var gotName string
	var gotVal Value
	vm.SetHooks(Hooks{
		DebugBreak: func(th *Thread, rec DebugRecord) {
			name, val, ok := th.GetLocal(0, 1)
			if !ok {
				t.Fatalf("expected local #1 to exist")
			}
			gotName, gotVal = name, val
			th.SetLocal(0, 1, NumberValue(99))
		},
	})

	stmts, err := Parse("local counter = 1\nlocal done = true\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	proto := &FuncProto{Body: stmts, Source: "f.lua", Closure: newEnv(nil, true)}
	vm.Breakpoint(proto, 2, true)

	interp := &interpreter{vm: vm, thread: vm.MainThread()}
	if _, err := interp.callProto(proto, nil); err != nil {
		t.Fatalf("callProto: %v", err)
	}
	if gotName != "counter" {
		t.Fatalf("expected local name 'counter', got %q", gotName)
	}
	if gotVal.Number != 1 {
		t.Fatalf("expected local value 1, got %v", gotVal.Number)
	}
}

func TestTableGetSet(t *testing.T) {
	tbl := NewTable()
	tbl.Set(StringValue("a"), NumberValue(1))
	tbl.Set(NumberValue(1), StringValue("first"))

	if got := tbl.Get(StringValue("a")); got.Number != 1 {
		t.Fatalf("expected a=1, got %v", got)
	}
	if got := tbl.Get(NumberValue(1)); got.Str != "first" {
		t.Fatalf("expected [1]=first, got %v", got)
	}
}

func TestCoroutineResumeYield(t *testing.T) {
	vm := New()
	body, err := Parse(`
local i = 0
while i < 3 do
  i = i + 1
  coroutine.yield(i)
end
return "done"
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	proto := &FuncProto{Body: body, Source: "co.lua", Closure: newEnv(nil, true)}

	co := vm.spawnCoroutine(proto)
	vals, err := co.resume(nil)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(vals) != 1 || vals[0].Number != 1 {
		t.Fatalf("expected first yield to be 1, got %v", vals)
	}
}
