// Package taskpool is a FIFO of closures destined for the VM thread,
// drained at the VM's interrupt callback so every job runs inside the
// VM's single-threaded execution context. A mutex and a slice of
// closures, nothing more.
package taskpool

import "sync"

// Pool is a VM-thread task queue.
type Pool struct {
	mu      sync.Mutex
	queue   []func()
	vmGoID  func() bool // reports whether the calling goroutine is the VM thread
}

// New constructs a Pool. onVMThread reports whether the caller is
// already running on the VM thread (so Post can run f inline instead
// of queuing it).
func New(onVMThread func() bool) *Pool {
	return &Pool{vmGoID: onVMThread}
}

// Post runs f inline if called from the VM thread, else appends it to
// the queue for the next Drain.
func (p *Pool) Post(f func()) {
	if p.vmGoID != nil && p.vmGoID() {
		f()
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, f)
	p.mu.Unlock()
}

// Drain swaps out the queue and runs every job in FIFO order. Intended
// to be called only from the VM's interrupt callback.
func (p *Pool) Drain() {
	p.mu.Lock()
	jobs := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, f := range jobs {
		f()
	}
}

// Len reports the number of jobs currently queued (diagnostic use).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
