package stepping

import (
	"testing"

	"github.com/sssooonnnggg/luaud/internal/vmhost"
)

type fakeReg struct {
	alive map[*vmhost.Thread]bool
	desc  map[*vmhost.Thread]bool
}

func (f *fakeReg) IsAlive(t *vmhost.Thread) bool           { return f.alive[t] }
func (f *fakeReg) IsDescendant(t, p *vmhost.Thread) bool    { return t == p || f.desc[t] }

func TestStepInStopsOnAnyContextChange(t *testing.T) {
	vm := vmhost.New()
	th := vm.MainThread()
	c := New(&fakeReg{})
	start := Context{Source: "a.lua", Line: 1, Depth: 0, Thread: th}
	c.StepIn(start)

	if c.ShouldStop(start) {
		t.Fatalf("same context should not stop")
	}
	if !c.ShouldStop(Context{Source: "a.lua", Line: 2, Depth: 0, Thread: th}) {
		t.Fatalf("changed line should stop")
	}
}

func TestStepOutStopsOnShallowerDepth(t *testing.T) {
	vm := vmhost.New()
	th := vm.MainThread()
	c := New(&fakeReg{})
	c.StepOut(Context{Depth: 2, Thread: th})

	if c.ShouldStop(Context{Depth: 2, Thread: th}) {
		t.Fatalf("same depth should not stop")
	}
	if !c.ShouldStop(Context{Depth: 1, Thread: th}) {
		t.Fatalf("shallower depth should stop")
	}
}

func TestStepOverSameDepthDifferentLineStops(t *testing.T) {
	vm := vmhost.New()
	th := vm.MainThread()
	reg := &fakeReg{}
	c := New(reg)
	c.StepOver(Context{Source: "a.lua", Line: 5, Depth: 1, Thread: th})

	if c.ShouldStop(Context{Source: "a.lua", Line: 5, Depth: 1, Thread: th}) {
		t.Fatalf("same line same depth should not stop")
	}
	if !c.ShouldStop(Context{Source: "a.lua", Line: 6, Depth: 1, Thread: th}) {
		t.Fatalf("same depth different line should stop")
	}
	if !c.ShouldStop(Context{Source: "a.lua", Line: 1, Depth: 0, Thread: th}) {
		t.Fatalf("shallower depth should stop")
	}
}

func TestStepOverWaitsForYieldedOriginalThread(t *testing.T) {
	vm := vmhost.New()
	orig := vm.MainThread()
	other := &vmhost.Thread{}
	reg := &fakeReg{alive: map[*vmhost.Thread]bool{orig: true}}
	c := New(reg)
	c.StepOver(Context{Source: "a.lua", Line: 5, Depth: 1, Thread: orig})

	if c.ShouldStop(Context{Source: "b.lua", Line: 1, Depth: 2, Thread: other}) {
		t.Fatalf("should wait while the original thread is suspended in a yield")
	}
}

func TestStepOverIgnoresUnrelatedThread(t *testing.T) {
	vm := vmhost.New()
	orig := vm.MainThread()
	unrelated := &vmhost.Thread{}
	reg := &fakeReg{desc: map[*vmhost.Thread]bool{}}
	c := New(reg)
	c.StepOver(Context{Source: "a.lua", Line: 5, Depth: 1, Thread: orig})

	if c.ShouldStop(Context{Source: "c.lua", Line: 1, Depth: 0, Thread: unrelated}) {
		t.Fatalf("unrelated thread should never trigger a step-over stop")
	}
}
