// Package breakpoints is the file store: a file → line → breakpoint
// map plus FunctionRef bookkeeping so every loaded instance of a file
// gets every enabled breakpoint activated on it, with hit counting and
// logpoint support.
package breakpoints

import (
	"sync"

	"github.com/sssooonnnggg/luaud/internal/vmhost"
)

// FunctionRef is a strong reference to a compiled top-level function
// plus the script thread that loaded it: one per `on_file_loaded`
// call, even for the same path (e.g. re-`require`d modules reload a
// fresh instance in some VMs).
type FunctionRef struct {
	Proto  *vmhost.FuncProto
	Thread *vmhost.Thread

	fnRef, thRef int
}

// Breakpoint is one line entry in a File: an optional condition, an
// optional log message, and hit-count bookkeeping.
type Breakpoint struct {
	Line        int
	TargetLine  int
	Condition   string
	LogMessage  string
	Enabled     bool
	HitCount    int
}

// IsLogpoint reports whether this breakpoint logs instead of stopping.
func (b *Breakpoint) IsLogpoint() bool { return b.LogMessage != "" }

// File holds the breakpoints and loaded function instances for one
// normalized path.
type File struct {
	Path        string
	Breakpoints map[int]*Breakpoint // keyed by requested line
	Refs        []*FunctionRef
}

// Store is the process-global path → File mapping.
type Store struct {
	vm *vmhost.VM

	mu    sync.Mutex
	files map[string]*File

	stopOnEntry bool
	entryArmed  map[string]bool
}

// New constructs an empty store bound to a VM (breakpoint placement
// calls through to vm.Breakpoint).
func New(vm *vmhost.VM, stopOnEntry bool) *Store {
	return &Store{
		vm:          vm,
		files:       make(map[string]*File),
		stopOnEntry: stopOnEntry,
		entryArmed:  make(map[string]bool),
	}
}

// NewFunctionRef builds a FunctionRef that pins both the compiled
// function and its loading thread in the VM's reference table, so
// neither can be collected while any File still lists the ref.
func (s *Store) NewFunctionRef(proto *vmhost.FuncProto, th *vmhost.Thread) *FunctionRef {
	return &FunctionRef{
		Proto:  proto,
		Thread: th,
		fnRef:  s.vm.Refs.Ref(vmhost.FunctionValue(proto)),
		thRef:  s.vm.Refs.Ref(vmhost.ThreadValue(th)),
	}
}

// DropFile forgets a File entirely, deactivating its breakpoints and
// releasing every FunctionRef's two reference-table slots.
func (s *Store) DropFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[path]
	if !ok {
		return
	}
	for _, bp := range f.Breakpoints {
		for _, ref := range f.Refs {
			s.deactivate(ref, bp)
		}
	}
	for _, ref := range f.Refs {
		s.vm.Refs.Unref(ref.fnRef)
		s.vm.Refs.Unref(ref.thRef)
	}
	delete(s.files, path)
}

func (s *Store) fileLocked(path string) *File {
	f, ok := s.files[path]
	if !ok {
		f = &File{Path: path, Breakpoints: make(map[int]*Breakpoint)}
		s.files[path] = f
	}
	return f
}

// OnFileLoaded fetches-or-creates the File for path, appends a new
// FunctionRef, and activates every existing enabled breakpoint on it.
// If isEntry and break-on-entry is configured, a synthetic
// unconditional breakpoint on line 1 is added (once per path) before
// activation, so the very first statement stops.
func (s *Store) OnFileLoaded(path string, ref *FunctionRef, isEntry bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.fileLocked(path)
	f.Refs = append(f.Refs, ref)

	if isEntry && s.stopOnEntry && !s.entryArmed[path] {
		s.entryArmed[path] = true
		f.Breakpoints[1] = &Breakpoint{Line: 1, Enabled: true}
	}

	for _, bp := range f.Breakpoints {
		if bp.Enabled {
			s.activate(ref, bp)
		}
	}
}

func (s *Store) activate(ref *FunctionRef, bp *Breakpoint) {
	placed := s.vm.Breakpoint(ref.Proto, bp.Line, true)
	if placed != -1 {
		bp.TargetLine = placed
	}
}

func (s *Store) deactivate(ref *FunctionRef, bp *Breakpoint) {
	s.vm.Breakpoint(ref.Proto, bp.Line, false)
}

// SetBreakpoints atomically replaces the breakpoint set for path: if
// lines is nil, clears all; otherwise the new set is computed,
// additions are enabled on every FunctionRef, removed ones disabled,
// and retained ones have their condition/logMessage updated. Intended
// to be invoked from the VM thread via the Task Pool, since breakpoint
// placement on FuncProtos is not concurrency-safe against execution.
func (s *Store) SetBreakpoints(path string, specs []BreakpointSpec) []*Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.fileLocked(path)
	newSet := make(map[int]*Breakpoint, len(specs))

	for _, spec := range specs {
		bp, existed := f.Breakpoints[spec.Line]
		if !existed {
			bp = &Breakpoint{Line: spec.Line, Enabled: true}
			for _, ref := range f.Refs {
				s.activate(ref, bp)
			}
		}
		bp.Condition = spec.Condition
		bp.LogMessage = spec.LogMessage
		newSet[spec.Line] = bp
	}

	for line, bp := range f.Breakpoints {
		if _, keep := newSet[line]; !keep {
			for _, ref := range f.Refs {
				s.deactivate(ref, bp)
			}
		}
	}

	f.Breakpoints = newSet

	// Response order mirrors request order, per the DAP contract.
	out := make([]*Breakpoint, 0, len(specs))
	for _, spec := range specs {
		out = append(out, newSet[spec.Line])
	}
	return out
}

// BreakpointSpec is a client-requested breakpoint, prior to placement.
type BreakpointSpec struct {
	Line       int
	Condition  string
	LogMessage string
}

// Find looks up the breakpoint at path:line, if any.
func (s *Store) Find(path string, line int) (*Breakpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[path]
	if !ok {
		return nil, false
	}
	bp, ok := f.Breakpoints[line]
	return bp, ok
}

// FindByTargetLine looks up the breakpoint at path whose instrumented
// target line (the nearest statement line the VM actually stops on,
// per vm.Breakpoint's placement) equals targetLine. Runtime stops are
// reported at the target line, not necessarily the originally
// requested one, so this is what the VM Callback Glue must use to
// resolve a live stop back to its Breakpoint.
func (s *Store) FindByTargetLine(path string, targetLine int) (*Breakpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[path]
	if !ok {
		return nil, false
	}
	for _, bp := range f.Breakpoints {
		if bp.TargetLine == targetLine {
			return bp, true
		}
	}
	return nil, false
}

// IsEntryLine reports whether line 1 of path was synthesized as the
// one-shot entry breakpoint (as opposed to a client-requested one),
// so the VM Callback Glue can report Reason Entry instead of
// Breakpoint for its first hit.
func (s *Store) IsEntryLine(path string, line int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.entryArmed[path] {
		return false
	}
	f, ok := s.files[path]
	if !ok {
		return false
	}
	bp, ok := f.Breakpoints[1]
	return ok && bp.Line == 1 && bp.TargetLine == line
}

// Hit increments the hit count for a breakpoint that was reached.
// The condition, if any, is evaluated by evalCondition (bound to the
// Evaluator by the caller to avoid an import cycle); an evaluation
// error still lets the stop happen.
func (s *Store) Hit(bp *Breakpoint, evalCondition func() (bool, error)) (stop bool, evalErr error) {
	s.mu.Lock()
	bp.HitCount++
	s.mu.Unlock()

	if bp.Condition == "" {
		return true, nil
	}
	ok, err := evalCondition()
	if err != nil {
		return true, err
	}
	return ok, nil
}

// Clear removes every breakpoint for every known file, deactivating
// them on all FunctionRefs. Used by disconnect handling.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		for _, bp := range f.Breakpoints {
			for _, ref := range f.Refs {
				s.deactivate(ref, bp)
			}
		}
		f.Breakpoints = make(map[int]*Breakpoint)
	}
}
