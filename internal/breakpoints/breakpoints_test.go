package breakpoints

import (
	"testing"

	"github.com/sssooonnnggg/luaud/internal/vmhost"
)

func newRef(vm *vmhost.VM, src string) *FunctionRef {
	stmts, err := vmhost.Parse(src)
	if err != nil {
		panic(err)
	}
	proto := &vmhost.FuncProto{Body: stmts, Source: "f.lua"}
	return &FunctionRef{Proto: proto, Thread: vm.MainThread()}
}

func TestSetBreakpointsActivatesOnRef(t *testing.T) {
	vm := vmhost.New()
	store := New(vm, false)
	ref := newRef(vm, "local a = 1\nlocal b = 2\nlocal c = 3\n")
	store.OnFileLoaded("f.lua", ref, false)

	bps := store.SetBreakpoints("f.lua", []BreakpointSpec{{Line: 2}})
	if len(bps) != 1 || bps[0].Line != 2 {
		t.Fatalf("expected one breakpoint at line 2, got %v", bps)
	}
	if !ref.Proto.HasBreakAt(2) {
		t.Fatalf("expected breakpoint armed on the function ref")
	}
}

func TestSetBreakpointsReplacesSet(t *testing.T) {
	vm := vmhost.New()
	store := New(vm, false)
	ref := newRef(vm, "local a = 1\nlocal b = 2\n")
	store.OnFileLoaded("f.lua", ref, false)

	store.SetBreakpoints("f.lua", []BreakpointSpec{{Line: 1}, {Line: 2}})
	store.SetBreakpoints("f.lua", []BreakpointSpec{{Line: 2}})

	if ref.Proto.HasBreakAt(1) {
		t.Fatalf("expected line 1 breakpoint to be cleared")
	}
	if !ref.Proto.HasBreakAt(2) {
		t.Fatalf("expected line 2 breakpoint to remain")
	}
}

func TestStopOnEntrySynthesizesBreakpoint(t *testing.T) {
	vm := vmhost.New()
	store := New(vm, true)
	ref := newRef(vm, "local a = 1\n")
	store.OnFileLoaded("main.lua", ref, true)

	bp, ok := store.Find("main.lua", 1)
	if !ok || !bp.Enabled {
		t.Fatalf("expected a synthetic enabled breakpoint at line 1")
	}
}

func TestHitIncrementsCount(t *testing.T) {
	vm := vmhost.New()
	store := New(vm, false)
	ref := newRef(vm, "local a = 1\n")
	store.OnFileLoaded("f.lua", ref, false)
	store.SetBreakpoints("f.lua", []BreakpointSpec{{Line: 1}})
	bp, _ := store.Find("f.lua", 1)

	stop, err := store.Hit(bp, func() (bool, error) { return true, nil })
	if err != nil || !stop {
		t.Fatalf("expected unconditional stop, got stop=%v err=%v", stop, err)
	}
	if bp.HitCount != 1 {
		t.Fatalf("expected hit count 1, got %d", bp.HitCount)
	}
}

func TestConditionalHitEvaluationError(t *testing.T) {
	vm := vmhost.New()
	store := New(vm, false)
	ref := newRef(vm, "local a = 1\n")
	store.OnFileLoaded("f.lua", ref, false)
	store.SetBreakpoints("f.lua", []BreakpointSpec{{Line: 1, Condition: "i == 3"}})
	bp, _ := store.Find("f.lua", 1)

	stop, err := store.Hit(bp, func() (bool, error) { return false, errBadCondition })
	if err == nil {
		t.Fatalf("expected evaluation error to be surfaced")
	}
	if !stop {
		t.Fatalf("an evaluation error should still stop")
	}
}

var errBadCondition = &conditionError{"i is not defined"}

type conditionError struct{ msg string }

func (e *conditionError) Error() string { return e.msg }
