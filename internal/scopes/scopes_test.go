package scopes

import (
	"testing"

	"github.com/sssooonnnggg/luaud/internal/vmhost"
)

func TestHandleOfIsStableAndPositive(t *testing.T) {
	a := handleOf("counter")
	b := handleOf("counter")
	if a != b {
		t.Fatalf("expected stable hash, got %d and %d", a, b)
	}
	if a < 0 {
		t.Fatalf("expected top bit clear, got %d", a)
	}
}

func TestAllocateCompoundScopeIsIdempotent(t *testing.T) {
	vm := vmhost.New()
	r := New(vm)
	tbl := vmhost.NewTable()
	tbl.Set(vmhost.StringValue("a"), vmhost.NumberValue(1))
	val := vmhost.TableValue(tbl)

	h1 := r.allocateCompoundScope(val)
	h2 := r.allocateCompoundScope(val)
	if h1 != h2 {
		t.Fatalf("expected the same handle for the same table, got %d and %d", h1, h2)
	}
}

func TestVariablesLazyExpansion(t *testing.T) {
	vm := vmhost.New()
	r := New(vm)
	tbl := vmhost.NewTable()
	tbl.Set(vmhost.StringValue("a"), vmhost.NumberValue(1))
	tbl.Set(vmhost.StringValue("b"), vmhost.NumberValue(2))
	val := vmhost.TableValue(tbl)

	handle := r.allocateCompoundScope(val)
	vars, ok := r.Variables(handle)
	if !ok {
		t.Fatalf("expected scope to resolve")
	}
	if len(vars) != 2 {
		t.Fatalf("expected 2 expanded variables, got %d", len(vars))
	}
}

func TestInvalidateForcesReExpansion(t *testing.T) {
	vm := vmhost.New()
	r := New(vm)
	tbl := vmhost.NewTable()
	tbl.Set(vmhost.StringValue("a"), vmhost.NumberValue(1))
	val := vmhost.TableValue(tbl)
	handle := r.allocateCompoundScope(val)

	r.Variables(handle)
	tbl.Set(vmhost.StringValue("b"), vmhost.NumberValue(2))
	r.Invalidate()

	vars, _ := r.Variables(handle)
	if len(vars) != 2 {
		t.Fatalf("expected re-expansion to observe the new key, got %d vars", len(vars))
	}
}
