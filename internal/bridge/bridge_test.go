package bridge

import (
	"io"
	"testing"
	"time"

	"github.com/sssooonnnggg/luaud/internal/breakpoints"
	"github.com/sssooonnnggg/luaud/internal/logging"
	"github.com/sssooonnnggg/luaud/internal/pathmap"
	"github.com/sssooonnnggg/luaud/internal/scopes"
	"github.com/sssooonnnggg/luaud/internal/taskpool"
	"github.com/sssooonnnggg/luaud/internal/vmhost"
	"github.com/sssooonnnggg/luaud/internal/vmreg"
)

func newBridge(t *testing.T) (*Bridge, *vmhost.VM, *breakpoints.Store, *taskpool.Pool) {
	t.Helper()
	vm := vmhost.New()
	reg := vmreg.New()
	reg.RegisterMain(vm.MainThread())
	files := breakpoints.New(vm, false)
	tasks := taskpool.New(nil)
	log := logging.New(logging.Config{Outputs: []io.Writer{io.Discard}})
	t.Cleanup(log.Close)
	b := New(vm, reg, files, scopes.New(vm), pathmap.New("", ".lua"), tasks, log)
	return b, vm, files, tasks
}

func waitPaused(t *testing.T, b *Bridge) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !b.IsPaused() {
		if time.Now().After(deadline) {
			t.Fatal("bridge never entered the paused state")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSubmitRequiresPaused(t *testing.T) {
	b, _, _, _ := newBridge(t)
	if _, err := b.Submit(func() (interface{}, error) { return nil, nil }); err == nil {
		t.Fatal("expected a state error when submitting while running")
	}
}

func TestPauseFlagReadsAndClears(t *testing.T) {
	b, _, _, _ := newBridge(t)
	b.Pause()
	if !b.TakePauseRequest() {
		t.Fatal("expected the pause flag to be set")
	}
	if b.TakePauseRequest() {
		t.Fatal("expected the pause flag to be cleared after one read")
	}
}

func TestBreakResumeRendezvous(t *testing.T) {
	b, vm, _, _ := newBridge(t)
	main := vm.MainThread()
	rec := vmhost.DebugRecord{Source: "f.lua", Line: 1, Thread: main}

	done := make(chan struct{})
	go func() {
		b.OnDebugBreak(main, rec, ReasonPause, true, nil)
		close(done)
	}()
	waitPaused(t, b)

	// A pending job runs on the VM thread without ending the episode.
	ran := false
	res, err := b.Submit(func() (interface{}, error) {
		ran = true
		return 42, nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !ran || res.(int) != 42 {
		t.Fatalf("job did not run on the VM thread: ran=%v res=%v", ran, res)
	}
	if !b.IsPaused() {
		t.Fatal("executing a job must not resume the VM")
	}

	if err := b.Continue(); err != nil {
		t.Fatalf("continue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("VM thread never resumed after continue")
	}
	if b.BreakThread() != nil {
		t.Fatal("break thread must be cleared on resume")
	}
}

func TestDisconnectResumesAndClearsBreakpoints(t *testing.T) {
	b, vm, files, tasks := newBridge(t)
	main := vm.MainThread()

	proto := &vmhost.FuncProto{Body: mustParse(t, "local x = 1\nlocal y = 2\n"), Source: "f.lua"}
	files.OnFileLoaded("f.lua", &breakpoints.FunctionRef{Proto: proto, Thread: main}, false)
	files.SetBreakpoints("f.lua", []breakpoints.BreakpointSpec{{Line: 2}})
	if !proto.HasBreakAt(2) {
		t.Fatal("breakpoint should be armed before disconnect")
	}

	done := make(chan struct{})
	go func() {
		b.OnDebugBreak(main, vmhost.DebugRecord{Source: "f.lua", Line: 2, Thread: main}, ReasonBreakpoint, true, nil)
		close(done)
	}()
	waitPaused(t, b)

	b.Disconnect()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disconnect must be equivalent to a continue")
	}

	// The clear is queued for the VM thread's next interrupt.
	tasks.Drain()
	if proto.HasBreakAt(2) {
		t.Fatal("disconnect must clear all breakpoints")
	}
}

func TestEntryWaitsForSession(t *testing.T) {
	b, vm, _, _ := newBridge(t)
	main := vm.MainThread()

	entered := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(entered)
		b.OnDebugBreak(main, vmhost.DebugRecord{Source: "f.lua", Line: 1, Thread: main}, ReasonEntry, true, nil)
		close(done)
	}()
	<-entered

	// With no session attached, the VM thread must still be parked.
	time.Sleep(20 * time.Millisecond)
	if b.IsPaused() {
		t.Fatal("entry must wait for a session before opening the episode")
	}

	b.AttachSession(SessionAttach, nopSink{})
	waitPaused(t, b)
	if err := b.Continue(); err != nil {
		t.Fatalf("continue: %v", err)
	}
	<-done
}

func TestThreadIDsAreStable(t *testing.T) {
	b, vm, _, _ := newBridge(t)
	main := vm.MainThread()
	if got := b.ThreadID(main); got != 1 {
		t.Fatalf("main thread must be id 1, got %d", got)
	}
	if got := b.ThreadID(main); got != 1 {
		t.Fatalf("thread ids must be stable, got %d", got)
	}
}

type nopSink struct{}

func (nopSink) Stopped(reason string, threadID int, source string, line int) {}
func (nopSink) OutputEvent(category, text string)                            {}
func (nopSink) Invalidated()                                                 {}
func (nopSink) Continued(threadID int)                                       {}
func (nopSink) Exited(code int)                                              {}
func (nopSink) Terminated()                                                  {}

func mustParse(t *testing.T, src string) []vmhost.Stmt {
	t.Helper()
	stmts, err := vmhost.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return stmts
}
