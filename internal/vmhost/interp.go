package vmhost

import "fmt"

// interpreter is a single-threaded tree-walking evaluator bound to one
// Thread. Every call into it happens from that thread's own goroutine,
// so no locking is needed around execution itself; only Thread.Stack
// reads from other goroutines (GetInfo/GetLocal/...) take Thread.mu.
type interpreter struct {
	vm     *VM
	thread *Thread
	// silent suppresses debug hook firing: set for the Evaluator's
	// synthesized execution of an expression/condition/logpoint inside
	// an already-active Break episode, where re-entering the hooks
	// would recursively re-open the break/resume state machine.
	silent bool
}

type execSignal int

const (
	sigNone execSignal = iota
	sigReturn
	sigBreak
)

// Load compiles src into a callable top-level chunk without running it,
// the `luau_load` half of load-then-call. Callers arm breakpoints on
// the returned proto before the first CallProto.
func Load(source, src string) (*FuncProto, error) {
	stmts, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return &FuncProto{Name: "main chunk", Body: stmts, Source: source, Closure: newEnv(nil, true)}, nil
}

// Run compiles and executes src as the thread's top-level chunk,
// equivalent to the VM loading and calling a top-level script function.
func (vm *VM) Run(t *Thread, source, src string) ([]Value, error) {
	proto, err := Load(source, src)
	if err != nil {
		return nil, err
	}
	interp := &interpreter{vm: vm, thread: t}
	return interp.callProto(proto, nil)
}

// PCall invokes proto as a protected call with debug hooks suppressed:
// the metamethod-driven paths (scope expansion via __iter) run inside
// an active Break episode, where firing hooks would recursively re-open
// the break/resume state machine.
func (vm *VM) PCall(t *Thread, proto *FuncProto, args []Value) ([]Value, error) {
	it := &interpreter{vm: vm, thread: t, silent: true}
	return it.callProto(proto, args)
}

func (it *interpreter) callProto(proto *FuncProto, args []Value) ([]Value, error) {
	if proto.Native != nil {
		return proto.Native(it.thread, args)
	}

	env := newEnv(proto.Closure, true)
	for i, p := range proto.Params {
		var v Value
		if i < len(args) {
			v = args[i]
		}
		env.declare(p, v)
	}

	frame := &Frame{Proto: proto, Env: env, Line: proto.DefLine}
	it.thread.mu.Lock()
	it.thread.Stack = append(it.thread.Stack, frame)
	it.thread.mu.Unlock()
	defer func() {
		it.thread.mu.Lock()
		it.thread.Stack = it.thread.Stack[:len(it.thread.Stack)-1]
		it.thread.mu.Unlock()
	}()

	sig, rets, err := it.execBlock(proto.Body, env, frame)
	if err != nil {
		if _, already := err.(*reportedError); !already {
			if it.vm.hooks.OnError != nil && !it.silent {
				it.vm.hooks.OnError(it.thread, DebugRecord{Source: frame.Proto.Source, Line: frame.Line, Thread: it.thread}, err.Error())
			}
			err = &reportedError{err}
		}
		return nil, err
	}
	if sig == sigReturn {
		return rets, nil
	}
	return nil, nil
}

// reportedError wraps an error that has already been handed to
// Hooks.OnError once, at the frame where it first crossed a callProto
// boundary, so unwinding through enclosing calls doesn't re-report it.
type reportedError struct{ err error }

func (r *reportedError) Error() string { return r.err.Error() }
func (r *reportedError) Unwrap() error { return r.err }

func (it *interpreter) execBlock(stmts []Stmt, env *Env, frame *Frame) (execSignal, []Value, error) {
	for _, s := range stmts {
		line := stmtLine(s)
		if line > 0 {
			frame.Line = line
			it.fireHooks(frame, line)
		}

		sig, rets, err := it.execStmt(s, env, frame)
		if err != nil {
			return sigNone, nil, err
		}
		if sig != sigNone {
			return sig, rets, nil
		}
	}
	return sigNone, nil, nil
}

func (it *interpreter) fireHooks(frame *Frame, line int) {
	if it.silent {
		return
	}
	rec := DebugRecord{Source: frame.Proto.Source, Line: line, Thread: it.thread}
	// Single-step is checked before the breakpoint table: a pending step
	// command takes priority over a breakpoint coinciding on the same
	// line, though the breakpoint's hit counter still advances.
	it.vm.mu.Lock()
	stepping := it.vm.singleStep
	it.vm.mu.Unlock()
	if stepping && it.vm.hooks.SingleStep != nil {
		it.vm.hooks.SingleStep(it.thread, rec)
	}
	if frame.Proto.hasBreakAt(line) && it.vm.hooks.DebugBreak != nil {
		it.vm.hooks.DebugBreak(it.thread, rec)
	}
	if it.vm.hooks.Interrupt != nil {
		it.vm.hooks.Interrupt(it.thread)
	}
}

func (it *interpreter) execStmt(s Stmt, env *Env, frame *Frame) (execSignal, []Value, error) {
	switch v := s.(type) {
	case *LocalStmt:
		vals, err := it.evalExprList(v.Exprs, env, frame)
		if err != nil {
			return sigNone, nil, err
		}
		for i, name := range v.Names {
			var val Value
			if i < len(vals) {
				val = vals[i]
			}
			env.declare(name, val)
		}
		return sigNone, nil, nil

	case *AssignStmt:
		vals, err := it.evalExprList(v.Exprs, env, frame)
		if err != nil {
			return sigNone, nil, err
		}
		for i, target := range v.Targets {
			var val Value
			if i < len(vals) {
				val = vals[i]
			}
			if err := it.assign(target, val, env, frame); err != nil {
				return sigNone, nil, err
			}
		}
		return sigNone, nil, nil

	case *ExprStmt:
		_, err := it.evalExpr(v.Call, env, frame)
		return sigNone, nil, err

	case *IfStmt:
		cond, err := it.evalExpr(v.Cond, env, frame)
		if err != nil {
			return sigNone, nil, err
		}
		branch := v.Else
		if cond.Truthy() {
			branch = v.Then
		}
		return it.execBlock(branch, newEnv(env, false), frame)

	case *WhileStmt:
		for {
			cond, err := it.evalExpr(v.Cond, env, frame)
			if err != nil {
				return sigNone, nil, err
			}
			if !cond.Truthy() {
				break
			}
			sig, rets, err := it.execBlock(v.Body, newEnv(env, false), frame)
			if err != nil {
				return sigNone, nil, err
			}
			if sig == sigReturn {
				return sig, rets, nil
			}
			if sig == sigBreak {
				break
			}
		}
		return sigNone, nil, nil

	case *NumericForStmt:
		start, err := it.evalExpr(v.Start, env, frame)
		if err != nil {
			return sigNone, nil, err
		}
		stop, err := it.evalExpr(v.Stop, env, frame)
		if err != nil {
			return sigNone, nil, err
		}
		step, err := it.evalExpr(v.Step, env, frame)
		if err != nil {
			return sigNone, nil, err
		}
		for i := start.Number; (step.Number > 0 && i <= stop.Number) || (step.Number < 0 && i >= stop.Number); i += step.Number {
			loopEnv := newEnv(env, false)
			loopEnv.declare(v.Var, NumberValue(i))
			sig, rets, err := it.execBlock(v.Body, loopEnv, frame)
			if err != nil {
				return sigNone, nil, err
			}
			if sig == sigReturn {
				return sig, rets, nil
			}
			if sig == sigBreak {
				break
			}
		}
		return sigNone, nil, nil

	case *ReturnStmt:
		vals, err := it.evalExprList(v.Exprs, env, frame)
		if err != nil {
			return sigNone, nil, err
		}
		return sigReturn, vals, nil

	case *BreakStmt:
		return sigBreak, nil, nil

	case *FuncDeclStmt:
		proto := &FuncProto{
			Name:    v.Name,
			Params:  v.Fn.Params,
			Vararg:  v.Fn.Vararg,
			Body:    v.Fn.Body,
			Closure: env,
			Source:  frame.Proto.Source,
			DefLine: v.Fn.line,
		}
		env.declare(v.Name, FunctionValue(proto))
		return sigNone, nil, nil

	default:
		return sigNone, nil, fmt.Errorf("unsupported statement %T", s)
	}
}

func (it *interpreter) assign(target Expr, val Value, env *Env, frame *Frame) error {
	switch t := target.(type) {
	case *Ident:
		if box, ok := env.lookup(t.Name); ok {
			*box = val
			return nil
		}
		it.vm.Globals.Set(StringValue(t.Name), val)
		return nil
	case *IndexExpr:
		obj, err := it.evalExpr(t.Object, env, frame)
		if err != nil {
			return err
		}
		key, err := it.evalExpr(t.Key, env, frame)
		if err != nil {
			return err
		}
		tbl, ok := obj.Ptr.(*Table)
		if !ok || obj.Kind != KindTable {
			return fmt.Errorf("line %d: attempt to index a %s value", target.Line(), obj.Kind)
		}
		tbl.Set(key, val)
		return nil
	default:
		return fmt.Errorf("line %d: invalid assignment target", target.Line())
	}
}

func (it *interpreter) evalExprList(exprs []Expr, env *Env, frame *Frame) ([]Value, error) {
	var out []Value
	for i, e := range exprs {
		if i == len(exprs)-1 {
			if call, ok := e.(*CallExpr); ok {
				vals, err := it.evalCallMulti(call, env, frame)
				if err != nil {
					return nil, err
				}
				out = append(out, vals...)
				continue
			}
		}
		v, err := it.evalExpr(e, env, frame)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (it *interpreter) evalExpr(e Expr, env *Env, frame *Frame) (Value, error) {
	switch v := e.(type) {
	case *NilLit:
		return Nil, nil
	case *BoolLit:
		return BoolValue(v.Val), nil
	case *NumberLit:
		return NumberValue(v.Val), nil
	case *StringLit:
		return StringValue(v.Val), nil
	case *VectorLit:
		x, err := it.evalExpr(v.X, env, frame)
		if err != nil {
			return Nil, err
		}
		y, err := it.evalExpr(v.Y, env, frame)
		if err != nil {
			return Nil, err
		}
		z, err := it.evalExpr(v.Z, env, frame)
		if err != nil {
			return Nil, err
		}
		return Vector3Value(x.Number, y.Number, z.Number), nil
	case *Ident:
		if box, ok := env.lookup(v.Name); ok {
			return *box, nil
		}
		return it.vm.Globals.Get(StringValue(v.Name)), nil
	case *UnaryExpr:
		operand, err := it.evalExpr(v.Operand, env, frame)
		if err != nil {
			return Nil, err
		}
		switch v.Op {
		case "not":
			return BoolValue(!operand.Truthy()), nil
		case "-":
			return NumberValue(-operand.Number), nil
		}
		return Nil, fmt.Errorf("line %d: unknown unary operator %q", v.line, v.Op)
	case *BinaryExpr:
		return it.evalBinary(v, env, frame)
	case *IndexExpr:
		obj, err := it.evalExpr(v.Object, env, frame)
		if err != nil {
			return Nil, err
		}
		key, err := it.evalExpr(v.Key, env, frame)
		if err != nil {
			return Nil, err
		}
		if obj.Kind != KindTable {
			return Nil, fmt.Errorf("line %d: attempt to index a %s value", v.line, obj.Kind)
		}
		return obj.Ptr.(*Table).Get(key), nil
	case *TableLit:
		tbl := NewTable()
		for _, item := range v.ArrayItems {
			val, err := it.evalExpr(item, env, frame)
			if err != nil {
				return Nil, err
			}
			tbl.Array = append(tbl.Array, val)
		}
		for i, k := range v.Keys {
			key, err := it.evalExpr(k, env, frame)
			if err != nil {
				return Nil, err
			}
			val, err := it.evalExpr(v.Values[i], env, frame)
			if err != nil {
				return Nil, err
			}
			tbl.Set(key, val)
		}
		return TableValue(tbl), nil
	case *FuncLit:
		proto := &FuncProto{
			Name:    v.Name,
			Params:  v.Params,
			Vararg:  v.Vararg,
			Body:    v.Body,
			Closure: env,
			Source:  frame.Proto.Source,
			DefLine: v.line,
		}
		return FunctionValue(proto), nil
	case *CallExpr:
		vals, err := it.evalCallMulti(v, env, frame)
		if err != nil {
			return Nil, err
		}
		if len(vals) == 0 {
			return Nil, nil
		}
		return vals[0], nil
	default:
		return Nil, fmt.Errorf("unsupported expression %T", e)
	}
}

func (it *interpreter) evalCallMulti(call *CallExpr, env *Env, frame *Frame) ([]Value, error) {
	callee, err := it.evalExpr(call.Callee, env, frame)
	if err != nil {
		return nil, err
	}
	if callee.Kind != KindFunction {
		return nil, fmt.Errorf("line %d: attempt to call a %s value", call.line, callee.Kind)
	}
	args, err := it.evalExprList(call.Args, env, frame)
	if err != nil {
		return nil, err
	}
	proto := callee.Ptr.(*FuncProto)
	return it.callProto(proto, args)
}

func (it *interpreter) evalBinary(v *BinaryExpr, env *Env, frame *Frame) (Value, error) {
	if v.Op == "and" {
		l, err := it.evalExpr(v.Left, env, frame)
		if err != nil || !l.Truthy() {
			return l, err
		}
		return it.evalExpr(v.Right, env, frame)
	}
	if v.Op == "or" {
		l, err := it.evalExpr(v.Left, env, frame)
		if err != nil || l.Truthy() {
			return l, err
		}
		return it.evalExpr(v.Right, env, frame)
	}

	l, err := it.evalExpr(v.Left, env, frame)
	if err != nil {
		return Nil, err
	}
	r, err := it.evalExpr(v.Right, env, frame)
	if err != nil {
		return Nil, err
	}

	switch v.Op {
	case "+":
		return NumberValue(l.Number + r.Number), nil
	case "-":
		return NumberValue(l.Number - r.Number), nil
	case "*":
		return NumberValue(l.Number * r.Number), nil
	case "/":
		return NumberValue(l.Number / r.Number), nil
	case "%":
		return NumberValue(float64(int64(l.Number) % int64(r.Number))), nil
	case "..":
		return StringValue(l.DisplayValue() + r.DisplayValue()), nil
	case "==":
		return BoolValue(valuesEqual(l, r)), nil
	case "~=":
		return BoolValue(!valuesEqual(l, r)), nil
	case "<":
		return BoolValue(l.Number < r.Number), nil
	case ">":
		return BoolValue(l.Number > r.Number), nil
	case "<=":
		return BoolValue(l.Number <= r.Number), nil
	case ">=":
		return BoolValue(l.Number >= r.Number), nil
	default:
		return Nil, fmt.Errorf("line %d: unknown binary operator %q", v.line, v.Op)
	}
}

func valuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNil:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindNumber:
		return a.Number == b.Number
	case KindString:
		return a.Str == b.Str
	default:
		return a.Ptr == b.Ptr
	}
}
