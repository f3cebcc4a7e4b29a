// Package bridge is the Break/Resume state machine at the heart of the
// DebugBridge: the rendezvous between the VM thread (blocked inside
// onDebugBreak) and the DAP worker thread (submitting requests). One
// mutex guards all paused/thread/job state; two condition variables
// serve resume wake-ups and the session-attach wait for the entry
// break.
package bridge

import (
	"sync"

	"github.com/sssooonnnggg/luaud/internal/breakpoints"
	"github.com/sssooonnnggg/luaud/internal/errs"
	"github.com/sssooonnnggg/luaud/internal/logging"
	"github.com/sssooonnnggg/luaud/internal/pathmap"
	"github.com/sssooonnnggg/luaud/internal/scopes"
	"github.com/sssooonnnggg/luaud/internal/taskpool"
	"github.com/sssooonnnggg/luaud/internal/vmhost"
	"github.com/sssooonnnggg/luaud/internal/vmreg"
)

// Reason is why the VM thread entered Paused.
type Reason int

const (
	ReasonEntry Reason = iota
	ReasonBreakpoint
	ReasonStep
	ReasonPause
	ReasonError
)

func (r Reason) String() string {
	switch r {
	case ReasonEntry:
		return "entry"
	case ReasonBreakpoint:
		return "breakpoint"
	case ReasonStep:
		return "step"
	case ReasonPause:
		return "pause"
	case ReasonError:
		return "exception"
	default:
		return "unknown"
	}
}

// SessionKind distinguishes launch (process exits on disconnect) from
// attach.
type SessionKind int

const (
	SessionNone SessionKind = iota
	SessionLaunch
	SessionAttach
)

// EventSink is how the bridge emits DAP events without importing the
// DAP handler surface (avoiding an import cycle): internal/dapserver
// implements this against a real *dap.Session.
type EventSink interface {
	Stopped(reason string, threadID int, source string, line int)
	OutputEvent(category, text string)
	Invalidated()
	Continued(threadID int)
	Exited(code int)
	Terminated()
}

// job is work the DAP side wants run on the VM thread.
type job struct {
	fn     func() (interface{}, error)
	result interface{}
	err    error
	done   chan struct{}
}

// Bridge is the DebugBridge. One instance exists per debugged VM.
type Bridge struct {
	VM       *vmhost.VM
	Registry *vmreg.Registry
	Files    *breakpoints.Store
	Scopes   *scopes.Registry
	Paths    *pathmap.Mapper
	Tasks    *taskpool.Pool
	Log      *logging.Logger

	mu         sync.Mutex
	cvResume   *sync.Cond
	cvSession  *sync.Cond
	paused     bool
	breakThread *vmhost.Thread
	pending    *job
	session    EventSink
	sessionKind SessionKind
	shouldPause bool

	nextThreadID int
	threadIDs    map[*vmhost.Thread]int
}

// New builds a Bridge wired to the given VM and ancillary registries.
func New(vm *vmhost.VM, reg *vmreg.Registry, files *breakpoints.Store, scopeReg *scopes.Registry, paths *pathmap.Mapper, tasks *taskpool.Pool, log *logging.Logger) *Bridge {
	b := &Bridge{
		VM:        vm,
		Registry:  reg,
		Files:     files,
		Scopes:    scopeReg,
		Paths:     paths,
		Tasks:     tasks,
		Log:       log,
		threadIDs: make(map[*vmhost.Thread]int),
	}
	b.cvResume = sync.NewCond(&b.mu)
	b.cvSession = sync.NewCond(&b.mu)
	return b
}

// AttachSession records the DAP session's event sink once initialize +
// (attach|launch) completes, and wakes any VM thread waiting on
// cv_session for the entry break.
func (b *Bridge) AttachSession(kind SessionKind, sink EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session = sink
	b.sessionKind = kind
	b.cvSession.Broadcast()
}

// ThreadID returns the stable per-session DAP thread id for t,
// allocating one on first use; the main thread is always id 1. Ids are
// never released or reused, even after the thread dies, so the
// advertised thread set stays stable across a session.
func (b *Bridge) ThreadID(t *vmhost.Thread) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.threadIDs[t]; ok {
		return id
	}
	if t == b.VM.MainThread() {
		b.threadIDs[t] = 1
		if b.nextThreadID < 2 {
			b.nextThreadID = 2
		}
		return 1
	}
	if b.nextThreadID < 2 {
		b.nextThreadID = 2
	}
	id := b.nextThreadID
	b.nextThreadID++
	b.threadIDs[t] = id
	return id
}

// OnDebugBreak is the VM's debug-break callback. Runs on the VM thread
// and blocks there until resumed; this is the only place the VM thread ever
// suspends.
func (b *Bridge) OnDebugBreak(t *vmhost.Thread, rec vmhost.DebugRecord, reason Reason, conditionOK bool, conditionErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if reason == ReasonEntry {
		for b.session == nil {
			b.cvSession.Wait()
		}
	}
	if reason == ReasonBreakpoint && !conditionOK && conditionErr == nil {
		return
	}

	if conditionErr != nil && b.session != nil {
		b.session.OutputEvent("stderr", "breakpoint condition error: "+conditionErr.Error())
	}

	b.paused = true
	b.breakThread = t

	ancestors := b.Registry.Ancestors(t)
	b.Scopes.Refresh(ancestors, vmhost.TableValue(b.VM.Globals))

	if b.session != nil {
		b.session.Stopped(reason.String(), b.threadIDLocked(t), rec.Source, rec.Line)
	}

	for b.paused && b.pending == nil {
		b.cvResume.Wait()
	}
	for b.pending != nil {
		j := b.pending
		b.pending = nil
		b.mu.Unlock()
		j.result, j.err = j.fn()
		close(j.done)
		b.mu.Lock()
		for b.paused && b.pending == nil {
			b.cvResume.Wait()
		}
	}

	b.breakThread = nil
	b.Scopes.Clear()
}

func (b *Bridge) threadIDLocked(t *vmhost.Thread) int {
	if id, ok := b.threadIDs[t]; ok {
		return id
	}
	b.mu.Unlock()
	id := b.ThreadID(t)
	b.mu.Lock()
	return id
}

// IsPaused reports whether the bridge is currently in a Break episode.
func (b *Bridge) IsPaused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

// BreakThread returns the thread currently paused, or nil.
func (b *Bridge) BreakThread() *vmhost.Thread {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.breakThread
}

// Submit runs fn on the VM thread and blocks the caller until it
// completes. Only valid while paused; returns a State error otherwise.
func (b *Bridge) Submit(fn func() (interface{}, error)) (interface{}, error) {
	b.mu.Lock()
	if !b.paused {
		b.mu.Unlock()
		return nil, errs.Statef("request requires the VM to be paused")
	}
	j := &job{fn: fn, done: make(chan struct{})}
	b.pending = j
	b.cvResume.Broadcast()
	b.mu.Unlock()

	<-j.done
	return j.result, j.err
}

// Continue resumes the VM from a Paused state.
func (b *Bridge) Continue() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.paused {
		return errs.Statef("not paused")
	}
	b.paused = false
	b.cvResume.Broadcast()
	return nil
}

// Pause requests a break at the next interrupt, regardless of current
// running state. Lock-free in the source design (an atomic flag set
// from any thread); here it's folded into the same mutex since Go's
// sync.Cond already requires it for the wake-up anyway.
func (b *Bridge) Pause() {
	b.mu.Lock()
	b.shouldPause = true
	b.mu.Unlock()
}

// TakePauseRequest atomically reads and clears the pending pause flag;
// called from the VM's interrupt callback.
func (b *Bridge) TakePauseRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.shouldPause
	b.shouldPause = false
	return v
}

// Disconnect forces resume and clears all breakpoints via the Task
// Pool, equivalent to a continue from the VM's perspective. A
// terminated session while paused is indistinguishable from a
// continue.
func (b *Bridge) Disconnect() {
	b.Tasks.Post(func() { b.Files.Clear() })

	b.mu.Lock()
	wasPaused := b.paused
	b.paused = false
	b.session = nil
	if wasPaused {
		b.cvResume.Broadcast()
	}
	b.mu.Unlock()
}

// NotifyExited tells the attached session, if any, that the debuggee
// ran to completion with the given exit code.
func (b *Bridge) NotifyExited(code int) {
	b.mu.Lock()
	sink := b.session
	b.mu.Unlock()
	if sink != nil {
		sink.Exited(code)
		sink.Terminated()
	}
}

// Output forwards a logpoint rendering (or any other out-of-band
// message) to the attached session, if one exists, without pausing.
func (b *Bridge) Output(category, text string) {
	b.mu.Lock()
	sink := b.session
	b.mu.Unlock()
	if sink != nil {
		sink.OutputEvent(category, text)
	}
}

// Session reports whether the active session is Launch or Attach.
func (b *Bridge) Session() SessionKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionKind
}
