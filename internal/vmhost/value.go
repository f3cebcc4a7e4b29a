// Package vmhost is a small scriptable virtual machine: the execution
// engine the debug bridge installs its hooks on. It exposes exactly
// the embedding surface a debugger needs (single-step toggling, the
// four callback slots, breakpoint placement, frame introspection, a
// tagged value model and a reference table) and keeps the language
// surface itself deliberately small.
package vmhost

import "fmt"

// Kind is the dynamic type tag of a Value: Nil, Bool, Number, String,
// Vector3, Table, UserData, Function, Thread, Buffer, Light.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindString
	KindVector3
	KindTable
	KindUserData
	KindFunction
	KindThread
	KindBuffer
	KindLight
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindVector3:
		return "vector"
	case KindTable:
		return "table"
	case KindUserData:
		return "userdata"
	case KindFunction:
		return "function"
	case KindThread:
		return "thread"
	case KindBuffer:
		return "buffer"
	case KindLight:
		return "light"
	default:
		return "unknown"
	}
}

// Value is any script runtime value. Compound kinds (Table, UserData,
// Function, Thread, Buffer) additionally carry a stable pointer used as
// their reference-table and display identity.
type Value struct {
	Kind   Kind
	Bool   bool
	Number float64
	Str    string
	Vec    [3]float64
	Ptr    interface{} // *Table, *UserData, *FuncProto, *Thread, *Buffer, or a light uintptr
}

// Nil is the canonical nil value.
var Nil = Value{Kind: KindNil}

// BoolValue constructs a boolean value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// NumberValue constructs a numeric value.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Number: n} }

// StringValue constructs a string value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// Vector3Value constructs a 3-vector value.
func Vector3Value(x, y, z float64) Value { return Value{Kind: KindVector3, Vec: [3]float64{x, y, z}} }

// Table is a script table: an array part plus a hash part, with an
// optional metatable supplying __iter/__tostring. Get and the
// interpreter's indexing do not consult an __index metamethod.
type Table struct {
	Array []Value
	Hash  map[Value]Value
	Meta  *Table
}

// NewTable allocates an empty table.
func NewTable() *Table { return &Table{Hash: make(map[Value]Value)} }

// Get returns t[key], consulting the array part for small integer keys.
func (t *Table) Get(key Value) Value {
	if key.Kind == KindNumber {
		if idx := int(key.Number); float64(idx) == key.Number && idx >= 1 && idx <= len(t.Array) {
			return t.Array[idx-1]
		}
	}
	if v, ok := t.Hash[key]; ok {
		return v
	}
	return Nil
}

// Set assigns t[key] = val.
func (t *Table) Set(key Value, val Value) {
	if key.Kind == KindNumber {
		idx := int(key.Number)
		if float64(idx) == key.Number && idx >= 1 {
			if idx <= len(t.Array) {
				t.Array[idx-1] = val
				return
			}
			if idx == len(t.Array)+1 {
				t.Array = append(t.Array, val)
				return
			}
		}
	}
	if val.Kind == KindNil {
		delete(t.Hash, key)
		return
	}
	t.Hash[key] = val
}

// Len returns the table's array-part length (the script `#` operator).
func (t *Table) Len() int { return len(t.Array) }

// TableValue wraps a *Table as a Value.
func TableValue(t *Table) Value { return Value{Kind: KindTable, Ptr: t} }

// UserData is an opaque host-side object with a user-defined type tag.
type UserData struct {
	Tag  string
	Data interface{}
	Meta *Table
}

// UserDataValue wraps a *UserData as a Value.
func UserDataValue(u *UserData) Value { return Value{Kind: KindUserData, Ptr: u} }

// Buffer is a fixed-size byte buffer, the VM's binary-blob value kind.
type Buffer struct {
	Data []byte
}

// BufferValue wraps a *Buffer as a Value.
func BufferValue(b *Buffer) Value { return Value{Kind: KindBuffer, Ptr: b} }

// LightValue wraps an opaque host pointer (lightuserdata) as a Value.
func LightValue(p uintptr) Value { return Value{Kind: KindLight, Ptr: p} }

// ThreadValue wraps a *Thread as a Value.
func ThreadValue(t *Thread) Value { return Value{Kind: KindThread, Ptr: t} }

// FunctionValue wraps a *FuncProto as a Value.
func FunctionValue(f *FuncProto) Value { return Value{Kind: KindFunction, Ptr: f} }

// Truthy implements script truthiness: everything but nil and false.
func (v Value) Truthy() bool {
	return !(v.Kind == KindNil || (v.Kind == KindBool && !v.Bool))
}

// Identity returns a stable comparable key used by reference-table
// bookkeeping and scope-handle derivation: the pointer for compound
// kinds, the scalar content for everything else.
func (v Value) Identity() interface{} {
	switch v.Kind {
	case KindTable, KindUserData, KindFunction, KindThread, KindBuffer:
		return v.Ptr
	case KindLight:
		return v.Ptr
	case KindString:
		return "s:" + v.Str
	case KindNumber:
		return v.Number
	case KindBool:
		return v.Bool
	default:
		return nil
	}
}

// TypeName is the DAP-facing dynamic type name for this value.
func (v Value) TypeName() string { return v.Kind.String() }

// DisplayValue renders a value the way the Scope/Variable Registry
// reports it to the client: scalars verbatim, compounds as
// "<typename>: 0x<pointer>" optionally suffixed with a __tostring
// result, vectors as "(x, y, z)".
func (v Value) DisplayValue() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindNumber:
		return formatNumber(v.Number)
	case KindString:
		return v.Str
	case KindVector3:
		return fmt.Sprintf("(%s, %s, %s)", formatNumber(v.Vec[0]), formatNumber(v.Vec[1]), formatNumber(v.Vec[2]))
	case KindTable, KindUserData, KindFunction, KindThread, KindBuffer:
		base := fmt.Sprintf("%s: %p", v.Kind, v.Ptr)
		if s, ok := v.tostring(); ok {
			return base + " (" + s + ")"
		}
		return base
	default:
		return v.Kind.String()
	}
}

func (v Value) tostring() (string, bool) {
	var meta *Table
	switch p := v.Ptr.(type) {
	case *Table:
		meta = p.Meta
	case *UserData:
		meta = p.Meta
	}
	if meta == nil {
		return "", false
	}
	fn := meta.Get(StringValue("__tostring"))
	if fn.Kind != KindFunction {
		return "", false
	}
	proto, _ := fn.Ptr.(*FuncProto)
	if proto == nil || proto.Native == nil {
		return "", false
	}
	results, err := proto.Native(nil, []Value{v})
	if err != nil || len(results) == 0 {
		return "", false
	}
	return results[0].DisplayValue(), true
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}
