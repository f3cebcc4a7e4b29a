package eval

import (
	"testing"

	"github.com/sssooonnnggg/luaud/internal/vmhost"
)

func TestEvalReturnsLocalValue(t *testing.T) {
	vm := vmhost.New()
	ev := New(vm)

	var result []vmhost.Value
	var evalErr error
	vm.SetHooks(vmhost.Hooks{
		DebugBreak: func(th *vmhost.Thread, rec vmhost.DebugRecord) {
			result, evalErr = ev.Eval(th, 0, "counter + 1")
		},
	})

	stmts, err := vmhost.Parse("local counter = 41\nlocal done = true\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	proto := &vmhost.FuncProto{Body: stmts, Source: "f.lua"}
	vm.Breakpoint(proto, 2, true)

	if _, err := vm.CallProto(vm.MainThread(), proto, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if evalErr != nil {
		t.Fatalf("eval error: %v", evalErr)
	}
	if len(result) != 1 || result[0].Number != 42 {
		t.Fatalf("expected 42, got %v", result)
	}
}

func TestEvalConditionRequiresBoolean(t *testing.T) {
	vm := vmhost.New()
	ev := New(vm)

	var ok bool
	var evalErr error
	vm.SetHooks(vmhost.Hooks{
		DebugBreak: func(th *vmhost.Thread, rec vmhost.DebugRecord) {
			ok, evalErr = ev.EvalCondition(th, 0, "i == 3")
		},
	})

	stmts, err := vmhost.Parse("local i = 3\nlocal done = true\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	proto := &vmhost.FuncProto{Body: stmts, Source: "f.lua"}
	vm.Breakpoint(proto, 2, true)

	if _, err := vm.CallProto(vm.MainThread(), proto, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if evalErr != nil {
		t.Fatalf("eval error: %v", evalErr)
	}
	if !ok {
		t.Fatalf("expected condition i == 3 to hold")
	}
}

func TestRenderLogMessageInterpolatesExpressions(t *testing.T) {
	vm := vmhost.New()
	ev := New(vm)

	var rendered string
	vm.SetHooks(vmhost.Hooks{
		DebugBreak: func(th *vmhost.Thread, rec vmhost.DebugRecord) {
			rendered, _ = ev.RenderLogMessage(th, 0, "i is {i}")
		},
	})

	stmts, err := vmhost.Parse("local i = 7\nlocal done = true\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	proto := &vmhost.FuncProto{Body: stmts, Source: "f.lua"}
	vm.Breakpoint(proto, 2, true)

	if _, err := vm.CallProto(vm.MainThread(), proto, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rendered != "i is 7" {
		t.Fatalf("expected interpolated message, got %q", rendered)
	}
}
