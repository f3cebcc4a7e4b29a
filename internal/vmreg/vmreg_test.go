package vmreg

import (
	"testing"

	"github.com/sssooonnnggg/luaud/internal/vmhost"
)

func TestAncestorsChain(t *testing.T) {
	vm := vmhost.New()
	reg := New()

	main := vm.MainThread()
	reg.RegisterMain(main)

	child := &vmhost.Thread{}
	reg.MarkAlive(child, main)

	grandchild := &vmhost.Thread{}
	reg.MarkAlive(grandchild, child)

	chain := reg.Ancestors(grandchild)
	if len(chain) != 3 {
		t.Fatalf("expected chain of 3, got %d", len(chain))
	}
	if chain[0] != grandchild || chain[1] != child || chain[2] != main {
		t.Fatalf("unexpected ancestor order: %v", chain)
	}
}

func TestMarkDeadRemovesFromLiveSet(t *testing.T) {
	reg := New()
	th := &vmhost.Thread{}
	reg.MarkAlive(th, nil)
	if !reg.IsAlive(th) {
		t.Fatalf("expected thread to be alive")
	}
	reg.MarkDead(th)
	if reg.IsAlive(th) {
		t.Fatalf("expected thread to be dead")
	}
}

func TestIsChild(t *testing.T) {
	reg := New()
	parent := &vmhost.Thread{}
	child := &vmhost.Thread{}
	reg.MarkAlive(parent, nil)
	reg.MarkAlive(child, parent)

	if !reg.IsChild(child, parent) {
		t.Fatalf("expected child to be recognized")
	}
	if reg.IsChild(parent, child) {
		t.Fatalf("did not expect reversed relation to hold")
	}
}
