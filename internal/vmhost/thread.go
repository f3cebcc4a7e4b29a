package vmhost

import (
	"fmt"
	"sync"
)

// Thread is a script thread: the main thread or one coroutine. Each
// coroutine runs on its own goroutine, parking on resumeCh/yieldCh
// between resumes so only one thread is ever actually executing VM
// code at a time, so the VM stays single-threaded by construction.
type Thread struct {
	ID     int
	Name   string
	Parent *Thread
	UserData interface{}

	vm     *VM
	mu     sync.Mutex
	Stack  []*Frame
	status string // "suspended", "running", "dead", "normal"

	started  bool
	resumeCh chan []Value
	yieldCh  chan coroResult
	proto    *FuncProto
}

type coroResult struct {
	vals []Value
	err  error
	done bool
}

// Status reports the coroutine.status()-style state.
func (t *Thread) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (vm *VM) spawnCoroutine(proto *FuncProto) *Thread {
	parent := vm.currentThread()
	t := vm.newThread(proto.Name, parent)
	t.proto = proto
	t.resumeCh = make(chan []Value)
	t.yieldCh = make(chan coroResult)
	if vm.hooks.UserThread != nil {
		vm.hooks.UserThread(parent, t)
	}
	return t
}

// currentThread is a best-effort accessor; in this single-VM-thread
// design the interpreter always tracks "the" running thread explicitly
// via the call chain, so this only serves spawnCoroutine's parent
// bookkeeping from the main thread.
func (vm *VM) currentThread() *Thread {
	return vm.main
}

func (t *Thread) resume(args []Value) ([]Value, error) {
	t.mu.Lock()
	if t.status == "dead" {
		t.mu.Unlock()
		return nil, fmt.Errorf("cannot resume dead coroutine")
	}
	if t.status == "running" {
		t.mu.Unlock()
		return nil, fmt.Errorf("cannot resume running coroutine")
	}
	t.status = "running"
	started := t.started
	t.started = true
	t.mu.Unlock()

	if !started {
		go t.run(args)
	} else {
		t.resumeCh <- args
	}

	res := <-t.yieldCh
	t.mu.Lock()
	if res.done {
		t.status = "dead"
	} else {
		t.status = "suspended"
	}
	t.mu.Unlock()
	return res.vals, res.err
}

func (t *Thread) run(args []Value) {
	interp := &interpreter{vm: t.vm, thread: t}
	results, err := interp.callProto(t.proto, args)
	t.yieldCh <- coroResult{vals: results, err: err, done: true}
}

// yield is invoked by the interpreter when executing coroutine.yield
// inside this thread's goroutine.
func (t *Thread) yield(vals []Value) []Value {
	t.yieldCh <- coroResult{vals: vals}
	return <-t.resumeCh
}
