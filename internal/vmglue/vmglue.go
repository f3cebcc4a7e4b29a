// Package vmglue adapts the VM's raw debug callbacks to bridge
// operations. The four vmhost.Hooks slots (debugbreak, debugstep,
// interrupt, userthread) are thin and know nothing of DAP or
// breakpoints; Glue decides, on every callback, what it means in terms
// of the Break/Resume state machine, the breakpoint store, and the
// stepping controller, then calls into bridge.Bridge with a
// fully-resolved Reason. Conditions are evaluated ahead of the actual
// pause so a false condition never opens a Break episode.
package vmglue

import (
	"fmt"
	"sync/atomic"

	"github.com/sssooonnnggg/luaud/internal/breakpoints"
	"github.com/sssooonnnggg/luaud/internal/bridge"
	"github.com/sssooonnnggg/luaud/internal/eval"
	"github.com/sssooonnnggg/luaud/internal/logging"
	"github.com/sssooonnnggg/luaud/internal/pathmap"
	"github.com/sssooonnnggg/luaud/internal/stepping"
	"github.com/sssooonnnggg/luaud/internal/vmhost"
	"github.com/sssooonnnggg/luaud/internal/vmreg"
)

// Glue owns the small bit of state a single VM instruction stream needs
// to reconcile two independent callback firings (debugstep then
// debugbreak) on the same statement into one Stopped event: a pending
// step wins the tie but the breakpoint still counts its hit.
type Glue struct {
	Bridge *bridge.Bridge
	Files  *breakpoints.Store
	Step   *stepping.Controller
	Eval   *eval.Evaluator
	Paths  *pathmap.Mapper
	Reg    *vmreg.Registry
	Log    *logging.Logger

	stoppedThread *vmhost.Thread
	stoppedLine   int

	// breakOnError is toggled by the setExceptionBreakpoints handler's
	// single "error" filter; written from the DAP thread, read on the
	// VM thread inside onError.
	breakOnError atomic.Bool
}

// Install constructs a Glue and registers its methods as vm's hooks.
func Install(vm *vmhost.VM, br *bridge.Bridge, files *breakpoints.Store, step *stepping.Controller, ev *eval.Evaluator, paths *pathmap.Mapper, reg *vmreg.Registry, log *logging.Logger) *Glue {
	g := &Glue{Bridge: br, Files: files, Step: step, Eval: ev, Paths: paths, Reg: reg, Log: log}
	vm.SetHooks(vmhost.Hooks{
		DebugBreak: g.onDebugBreak,
		SingleStep: g.onSingleStep,
		Interrupt:  g.onInterrupt,
		UserThread: g.onUserThread,
		OnError:    g.onError,
	})
	return g
}

// SetBreakOnError arms or disarms the "error" exception-breakpoint
// filter.
func (g *Glue) SetBreakOnError(on bool) { g.breakOnError.Store(on) }

// onError forwards an uncaught script error to the Debug Console,
// enriched with the failing source/line, and pauses with an exception
// reason when the "error" filter is armed.
func (g *Glue) onError(t *vmhost.Thread, rec vmhost.DebugRecord, msg string) {
	g.Bridge.Output("stderr", fmt.Sprintf("%s:%d: %s", rec.Source, rec.Line, msg))
	if !g.breakOnError.Load() {
		return
	}
	g.Bridge.OnDebugBreak(t, rec, bridge.ReasonError, true, nil)
}

// OnError is the host-facing entry point for errors the embedding
// reports itself (outside normal unwinding).
func (g *Glue) OnError(msg string, t *vmhost.Thread) {
	source, line, _, _, ok := t.GetInfo(0)
	if !ok {
		source, line = "", 0
	}
	g.onError(t, vmhost.DebugRecord{Source: source, Line: line, Thread: t}, msg)
}

// onSingleStep evaluates the pending stepping predicate, if any, and
// stops with ReasonStep when it is satisfied. Runs ahead of
// onDebugBreak in the VM's per-statement dispatch, so a step that
// lands on a breakpointed line wins the Stopped reason.
func (g *Glue) onSingleStep(t *vmhost.Thread, rec vmhost.DebugRecord) {
	if !g.Step.Active() {
		return
	}
	ctx := stepping.Context{Source: rec.Source, Line: rec.Line, Depth: t.StackDepth(), Thread: t}
	if !g.Step.ShouldStop(ctx) {
		return
	}
	g.Step.Clear()
	g.stoppedThread = t
	g.stoppedLine = rec.Line
	g.Bridge.OnDebugBreak(t, rec, bridge.ReasonStep, true, nil)
}

// onDebugBreak fires whenever the current line carries an armed
// breakpoint. If a step already claimed this exact statement, it only
// advances the hit counter; otherwise it resolves the breakpoint
// (logpoint, conditional, or entry) and decides whether to pause.
func (g *Glue) onDebugBreak(t *vmhost.Thread, rec vmhost.DebugRecord) {
	if g.stoppedThread == t && g.stoppedLine == rec.Line {
		g.stoppedThread = nil
		if bp, ok := g.Files.FindByTargetLine(rec.Source, rec.Line); ok {
			g.Files.Hit(bp, func() (bool, error) { return true, nil })
		}
		return
	}

	bp, ok := g.Files.FindByTargetLine(rec.Source, rec.Line)
	if !ok {
		return
	}

	const level = 0 // the frame fireHooks runs from is always the innermost live frame

	if bp.IsLogpoint() {
		msg, err := g.Eval.RenderLogMessage(t, level, bp.LogMessage)
		if err != nil {
			g.Log.Warnf("logpoint render error at %s:%d: %v", rec.Source, rec.Line, err)
		}
		g.Files.Hit(bp, func() (bool, error) { return true, nil })
		g.Bridge.Output("stdout", msg)
		return
	}

	stop, evalErr := g.Files.Hit(bp, func() (bool, error) {
		return g.Eval.EvalCondition(t, level, bp.Condition)
	})

	reason := bridge.ReasonBreakpoint
	if g.Files.IsEntryLine(rec.Source, rec.Line) {
		reason = bridge.ReasonEntry
	}

	g.Bridge.OnDebugBreak(t, rec, reason, stop, evalErr)
}

// onInterrupt fires on every statement regardless of breakpoints or
// stepping: it is where work submitted to the Task Pool from the DAP
// side actually runs, where a pending explicit pause request is
// honored, and where coroutines the VM reports as dead are retired
// from the thread registry (the VM has no dedicated thread-death
// callback, only user-thread for creation).
func (g *Glue) onInterrupt(t *vmhost.Thread) {
	// The statement a step stopped on is over once its interrupt fires.
	g.stoppedThread = nil
	g.Bridge.Tasks.Drain()

	for _, lt := range g.Reg.LiveThreads() {
		if lt.Status() == "dead" {
			g.Reg.MarkDead(lt)
		}
	}

	if !g.Bridge.TakePauseRequest() {
		return
	}
	source, line, _, _, ok := t.GetInfo(0)
	if !ok {
		return
	}
	rec := vmhost.DebugRecord{Source: source, Line: line, Thread: t}
	g.Bridge.OnDebugBreak(t, rec, bridge.ReasonPause, true, nil)
}

// onUserThread registers a newly spawned coroutine with the thread
// registry.
func (g *Glue) onUserThread(parent, child *vmhost.Thread) {
	g.Reg.MarkAlive(child, parent)
}
