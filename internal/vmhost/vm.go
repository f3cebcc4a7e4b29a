package vmhost

import (
	"fmt"
	"sync"
)

// FuncProto is a compiled top-level or nested function: its AST body
// plus the lexical environment it closed over. Native protos wrap a Go
// function (used for builtins like print, coroutine.create, and
// __tostring metamethods) and have no Body/Env.
type FuncProto struct {
	Name       string
	Params     []string
	Vararg     bool
	Body       []Stmt
	Closure    *Env
	Source     string
	DefLine    int
	// Native, when set, makes this a builtin: t is the calling thread
	// (nil when invoked outside interpreter execution, e.g. from
	// __tostring formatting), so thread-aware builtins like
	// coroutine.yield can reach their own yield channel.
	Native     func(t *Thread, args []Value) ([]Value, error)
	breakMu    sync.Mutex
	breakLines map[int]bool
}

// Env is a lexical scope: a chain of variable bindings. Boundary marks
// a function-call entry point, the line GetLocal/GetUpvalue use to
// decide whether a name belongs to the current frame or was captured.
type Env struct {
	vars     map[string]*Value
	order    []string
	parent   *Env
	boundary bool
}

func newEnv(parent *Env, boundary bool) *Env {
	return &Env{vars: make(map[string]*Value), parent: parent, boundary: boundary}
}

func (e *Env) declare(name string, v Value) {
	box := new(Value)
	*box = v
	e.vars[name] = box
	e.order = append(e.order, name)
}

func (e *Env) lookup(name string) (*Value, bool) {
	for s := e; s != nil; s = s.parent {
		if box, ok := s.vars[name]; ok {
			return box, true
		}
	}
	return nil, false
}

// localsInFrame walks outward from e until (and including) the nearest
// call boundary, returning locals in declaration order.
func localsInFrame(e *Env) []string {
	var names []string
	for s := e; s != nil; s = s.parent {
		names = append(names, s.order...)
		if s.boundary {
			break
		}
	}
	return names
}

// upvaluesOfFrame returns the names visible beyond the nearest call
// boundary, the closure's captured environment.
func upvaluesOfFrame(e *Env) []string {
	s := e
	for s != nil && !s.boundary {
		s = s.parent
	}
	if s == nil || s.parent == nil {
		return nil
	}
	var names []string
	for p := s.parent; p != nil; p = p.parent {
		names = append(names, p.order...)
	}
	return names
}

// Frame is one call-stack entry belonging to a Thread.
type Frame struct {
	Proto *FuncProto
	Env   *Env
	Line  int
}

// DebugRecord is the information the VM hands to a callback: source
// position and the script frame context.
type DebugRecord struct {
	Source string
	Line   int
	Thread *Thread
}

// Hooks holds the VM's debug callback slots (debugbreak, interrupt,
// userthread, debugstep), plus OnError so an uncaught runtime error
// can surface as a DAP exception instead of silently unwinding.
type Hooks struct {
	DebugBreak func(t *Thread, rec DebugRecord)
	SingleStep func(t *Thread, rec DebugRecord)
	Interrupt  func(t *Thread)
	UserThread func(parent, child *Thread)
	OnError    func(t *Thread, rec DebugRecord, msg string)
}

// VM is the scriptable virtual machine. It is intentionally small: the
// bridge is the subject under design, not the language it debugs.
type VM struct {
	mu          sync.Mutex
	Globals     *Table
	Refs        *RefTable
	hooks       Hooks
	threads     map[int]*Thread
	nextThread  int
	main        *Thread
	singleStep  bool
}

// New constructs a VM with an empty global table and no installed hooks.
func New() *VM {
	vm := &VM{
		Globals:    NewTable(),
		Refs:       NewRefTable(),
		threads:    make(map[int]*Thread),
		nextThread: 1,
	}
	vm.installBuiltins()
	vm.main = vm.newThread("main", nil)
	return vm
}

// SetHooks installs the bridge's debug hook callbacks. Only one set of
// hooks can be installed at a time, matching the real VM embedding
// contract (one Debugger per VM).
func (vm *VM) SetHooks(h Hooks) { vm.hooks = h }

// MainThread returns the root script thread.
func (vm *VM) MainThread() *Thread { return vm.main }

// SingleStep enables or disables the per-instruction step callback.
func (vm *VM) SingleStep(on bool) {
	vm.mu.Lock()
	vm.singleStep = on
	vm.mu.Unlock()
}

func (vm *VM) newThread(name string, parent *Thread) *Thread {
	vm.mu.Lock()
	id := vm.nextThread
	vm.nextThread++
	vm.mu.Unlock()

	t := &Thread{
		ID:     id,
		Name:   name,
		vm:     vm,
		Parent: parent,
		status: "suspended",
	}
	vm.mu.Lock()
	vm.threads[id] = t
	vm.mu.Unlock()
	return t
}

// Breakpoint places or removes a breakpoint on proto at a source line,
// returning the line actually instrumented (nearest statement line at
// or after the request) or -1 if none qualifies, matching the consumed
// `breakpoint(function, line, enable) -> placed_line | -1` contract.
func (vm *VM) Breakpoint(proto *FuncProto, line int, enable bool) int {
	target := nearestStatementLine(proto.Body, line)
	if target == -1 {
		return -1
	}
	proto.breakMu.Lock()
	defer proto.breakMu.Unlock()
	if proto.breakLines == nil {
		proto.breakLines = make(map[int]bool)
	}
	if enable {
		proto.breakLines[target] = true
	} else {
		delete(proto.breakLines, target)
	}
	return target
}

func nearestStatementLine(body []Stmt, line int) int {
	best := -1
	walkStmts(body, func(s Stmt) {
		l := stmtLine(s)
		if l >= line && (best == -1 || l < best) {
			best = l
		}
	})
	return best
}

func stmtLine(s Stmt) int {
	switch v := s.(type) {
	case *LocalStmt:
		return v.line
	case *AssignStmt:
		return v.line
	case *ExprStmt:
		return v.line
	case *IfStmt:
		return v.line
	case *WhileStmt:
		return v.line
	case *NumericForStmt:
		return v.line
	case *ReturnStmt:
		return v.line
	case *BreakStmt:
		return v.line
	case *FuncDeclStmt:
		return v.line
	default:
		return -1
	}
}

func walkStmts(body []Stmt, visit func(Stmt)) {
	for _, s := range body {
		visit(s)
		switch v := s.(type) {
		case *IfStmt:
			walkStmts(v.Then, visit)
			walkStmts(v.Else, visit)
		case *WhileStmt:
			walkStmts(v.Body, visit)
		case *NumericForStmt:
			walkStmts(v.Body, visit)
		}
	}
}

func (proto *FuncProto) hasBreakAt(line int) bool {
	proto.breakMu.Lock()
	defer proto.breakMu.Unlock()
	return proto.breakLines[line]
}

// HasBreakAt reports whether a breakpoint is currently armed at line,
// exposed so the Breakpoint & File Store can assert on placement
// without reaching into vmhost internals.
func (proto *FuncProto) HasBreakAt(line int) bool { return proto.hasBreakAt(line) }

// GetInfo mirrors `get_info(level, "sln f")`: source, current line,
// function name and the FuncProto reference for the frame at level
// (0 = innermost) of the thread's call stack.
func (t *Thread) GetInfo(level int) (source string, line int, name string, proto *FuncProto, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := len(t.Stack) - 1 - level
	if idx < 0 || idx >= len(t.Stack) {
		return "", 0, "", nil, false
	}
	f := t.Stack[idx]
	return f.Proto.Source, f.Line, f.Proto.Name, f.Proto, true
}

// StackDepth returns the number of live call frames on the thread.
func (t *Thread) StackDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Stack)
}

// GetLocal returns the idx-th (1-based) local of the frame at level, in
// declaration order, or ok=false once idx exceeds the count (the
// consumed API's "iterate until none" convention).
func (t *Thread) GetLocal(level, idx int) (name string, val Value, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.frameAt(level)
	if f == nil {
		return "", Nil, false
	}
	names := localsInFrame(f.Env)
	if idx < 1 || idx > len(names) {
		return "", Nil, false
	}
	n := names[idx-1]
	box, _ := f.Env.lookup(n)
	return n, *box, true
}

// SetLocal assigns the idx-th local of the frame at level.
func (t *Thread) SetLocal(level, idx int, v Value) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.frameAt(level)
	if f == nil {
		return false
	}
	names := localsInFrame(f.Env)
	if idx < 1 || idx > len(names) {
		return false
	}
	box, _ := f.Env.lookup(names[idx-1])
	*box = v
	return true
}

// GetUpvalue returns the idx-th upvalue name/value captured by the
// function at the frame at level.
func (t *Thread) GetUpvalue(level, idx int) (name string, val Value, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.frameAt(level)
	if f == nil {
		return "", Nil, false
	}
	names := upvaluesOfFrame(f.Env)
	if idx < 1 || idx > len(names) {
		return "", Nil, false
	}
	n := names[idx-1]
	box, _ := f.Env.lookup(n)
	return n, *box, true
}

// SetUpvalue assigns the idx-th upvalue of the function at the frame at
// level.
func (t *Thread) SetUpvalue(level, idx int, v Value) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.frameAt(level)
	if f == nil {
		return false
	}
	names := upvaluesOfFrame(f.Env)
	if idx < 1 || idx > len(names) {
		return false
	}
	box, _ := f.Env.lookup(names[idx-1])
	*box = v
	return true
}

func (t *Thread) frameAt(level int) *Frame {
	idx := len(t.Stack) - 1 - level
	if idx < 0 || idx >= len(t.Stack) {
		return nil
	}
	return t.Stack[idx]
}

func (vm *VM) installBuiltins() {
	vm.Globals.Set(StringValue("print"), FunctionValue(&FuncProto{
		Name: "print",
		Native: func(t *Thread, args []Value) ([]Value, error) {
			parts := make([]interface{}, len(args))
			for i, a := range args {
				parts[i] = a.DisplayValue()
			}
			fmt.Println(parts...)
			return nil, nil
		},
	}))

	coroutineLib := NewTable()
	coroutineLib.Set(StringValue("create"), FunctionValue(&FuncProto{
		Name: "coroutine.create",
		Native: func(t *Thread, args []Value) ([]Value, error) {
			if len(args) == 0 || args[0].Kind != KindFunction {
				return nil, fmt.Errorf("coroutine.create expects a function")
			}
			proto := args[0].Ptr.(*FuncProto)
			co := vm.spawnCoroutine(proto)
			return []Value{ThreadValue(co)}, nil
		},
	}))
	coroutineLib.Set(StringValue("resume"), FunctionValue(&FuncProto{
		Name: "coroutine.resume",
		Native: func(t *Thread, args []Value) ([]Value, error) {
			if len(args) == 0 || args[0].Kind != KindThread {
				return nil, fmt.Errorf("coroutine.resume expects a thread")
			}
			co := args[0].Ptr.(*Thread)
			return co.resume(args[1:])
		},
	}))
	coroutineLib.Set(StringValue("yield"), FunctionValue(&FuncProto{
		Name: "coroutine.yield",
		Native: func(t *Thread, args []Value) ([]Value, error) {
			if t == nil {
				return nil, fmt.Errorf("yield called outside a coroutine")
			}
			return t.yield(args), nil
		},
	}))
	vm.Globals.Set(StringValue("coroutine"), TableValue(coroutineLib))
}
