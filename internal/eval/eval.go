// Package eval is the expression evaluator: it compiles and runs a
// script expression string in an environment synthesized from a paused
// stack frame, preferring `return <expr>` and falling back to a raw
// statement, with the frame's locals and upvalues resolved into the
// synthesized scope.
package eval

import (
	"fmt"
	"strings"

	"github.com/sssooonnnggg/luaud/internal/vmhost"
)

// Evaluator compiles and executes expressions against a vmhost.VM.
type Evaluator struct {
	VM *vmhost.VM
}

// New constructs an Evaluator bound to vm.
func New(vm *vmhost.VM) *Evaluator {
	return &Evaluator{VM: vm}
}

// Eval runs src in the environment of frame `level` of thread th:
// locals and upvalues of that frame are bound by name over a
// fallback to the VM's global table, then the expression is compiled
// preferring `return <expr>` and falling back to a raw statement,
// executed, and its results returned. A compilation or runtime error
// is returned as a plain error carrying the script-side message.
func (e *Evaluator) Eval(th *vmhost.Thread, level int, src string) ([]vmhost.Value, error) {
	env, frame, err := e.synthesize(th, level)
	if err != nil {
		return nil, err
	}

	stmts, perr := vmhost.Parse("return " + src)
	if perr != nil {
		stmts, perr = vmhost.Parse(src)
		if perr != nil {
			// Last resort: a bare expression with no enclosing
			// statement at all (e.g. `t.a`).
			expr, eerr := vmhost.ParseExpr(src)
			if eerr != nil {
				return nil, fmt.Errorf("compile %q: %w", src, perr)
			}
			v, err := e.VM.EvalExprIn(th, env, frame, expr)
			if err != nil {
				return nil, err
			}
			return []vmhost.Value{v}, nil
		}
	}

	return e.VM.RunStmtsIn(th, env, frame, stmts)
}

// EvalCondition evaluates src and requires it to produce a boolean. A
// non-boolean result is returned as an error, as is an evaluation
// error; the caller still lets the stop happen.
func (e *Evaluator) EvalCondition(th *vmhost.Thread, level int, src string) (bool, error) {
	vals, err := e.Eval(th, level, src)
	if err != nil {
		return false, err
	}
	if len(vals) == 0 || vals[0].Kind != vmhost.KindBool {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean", src)
	}
	return vals[0].Bool, nil
}

// RenderLogMessage interpolates `{expr}` segments of a logpoint
// message, evaluating each in the paused frame the same way a
// condition is evaluated.
func (e *Evaluator) RenderLogMessage(th *vmhost.Thread, level int, msg string) (string, error) {
	var b strings.Builder
	var firstErr error
	for len(msg) > 0 {
		open := strings.IndexByte(msg, '{')
		if open == -1 {
			b.WriteString(msg)
			break
		}
		b.WriteString(msg[:open])
		msg = msg[open+1:]
		close := strings.IndexByte(msg, '}')
		if close == -1 {
			b.WriteByte('{')
			b.WriteString(msg)
			break
		}
		expr := msg[:close]
		msg = msg[close+1:]
		vals, err := e.Eval(th, level, expr)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			b.WriteString("<error>")
			continue
		}
		if len(vals) > 0 {
			b.WriteString(vals[0].DisplayValue())
		}
	}
	return b.String(), firstErr
}

// synthesize builds the env/frame pair an expression runs against: a
// fresh Env holding the frame's locals and upvalues by name, falling
// back to VM globals for free variables (vmhost's own Ident lookup
// already does the env-then-globals fallback, so no explicit
// metatable __index wiring is needed the way a real Lua VM would
// require).
func (e *Evaluator) synthesize(th *vmhost.Thread, level int) (*vmhost.Env, *vmhost.Frame, error) {
	source, line, _, proto, ok := th.GetInfo(level)
	if !ok {
		return nil, nil, fmt.Errorf("no frame at level %d", level)
	}

	env := vmhost.NewSynthEnv()
	for i := 1; ; i++ {
		name, val, ok := th.GetLocal(level, i)
		if !ok {
			break
		}
		env.Declare(name, val)
	}
	for i := 1; ; i++ {
		name, val, ok := th.GetUpvalue(level, i)
		if !ok {
			break
		}
		if _, exists := env.Lookup(name); !exists {
			env.Declare(name, val)
		}
	}

	frame := &vmhost.Frame{Proto: proto, Env: env.Inner(), Line: line}
	_ = source
	return env.Inner(), frame, nil
}
