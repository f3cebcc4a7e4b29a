// Package scopes is the Scope & Variable Registry. Scope
// handles are opaque positive 31-bit integers; Local/Upvalue/Global
// scopes are rebuilt fresh on every Break entry, while Table/UserData
// scopes expand lazily on first request and hold a strong VM reference
// for the lifetime of the Break episode.
package scopes

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/sssooonnnggg/luaud/internal/errs"
	"github.com/sssooonnnggg/luaud/internal/vmhost"
)

// Kind distinguishes the five scope variants.
type Kind int

const (
	KindLocal Kind = iota
	KindUpvalue
	KindGlobal
	KindTable
	KindUserData
)

// Scope is one opaque-handle entry in the registry.
type Scope struct {
	Handle int32
	Kind   Kind
	Level  int // owning frame's global depth, for Local/Upvalue
	Value  vmhost.Value
	ref    int // vmhost.RefTable handle, held while the scope is live (Table/UserData only)

	expanded  bool
	variables []*Variable
}

// Variable is one entry under a Scope.
type Variable struct {
	Scope            int32
	Name             string
	DisplayType      string
	DisplayValue     string
	IntIndex         *int
	OwningFrameLevel int
	ChildScope       int32
}

// FrameInfo is one script frame of the paused
// ancestor chain, addressed by its global depth so step-over can
// compare "same logical depth" across coroutines.
type FrameInfo struct {
	Thread *vmhost.Thread
	Level  int // frame level within Thread (0 = innermost)
	Depth  int // global depth across the whole ancestor chain
	Source string
	Line   int
	Name   string
}

// Registry holds every scope created during the current Break episode.
type Registry struct {
	vm   *vmhost.VM
	refs *vmhost.RefTable

	mu     sync.Mutex
	scopes map[int32]*Scope
	// frames maps a DAP frame id (the global depth assigned during
	// Refresh) to its Local/Upvalue/Global triple.
	frames map[int]FrameScopes
	// info is the frame snapshot behind each frame id, used by
	// stackTrace and by Set to route a write back to the owning
	// thread/level.
	info map[int]*FrameInfo
}

// FrameScopes is the {Local, Upvalue, Global} handle triple for one
// stack frame.
type FrameScopes struct {
	Local, Upvalue, Global int32
}

// New constructs an empty registry bound to vm.
func New(vm *vmhost.VM) *Registry {
	return &Registry{
		vm:     vm,
		refs:   vmhost.NewRefTable(),
		scopes: make(map[int32]*Scope),
		frames: make(map[int]FrameScopes),
		info:   make(map[int]*FrameInfo),
	}
}

// handleOf derives the opaque 31-bit scope handle from a scope's
// identity: the scope kind and frame depth for scalar scopes, the
// value's pointer identity for compound ones. The top bit is always clear so the
// result is a valid DAP variablesReference.
func handleOf(identity interface{}) int32 {
	h := fnv.New32a()
	h.Write([]byte(fmt.Sprintf("%v", identity)))
	return int32(h.Sum32() & 0x7FFFFFFF)
}

// Refresh rebuilds the Local/Upvalue/Global scopes for every thread in
// the ancestor chain, outermost frame first, assigning a global depth
// counter so step-over can compare "same logical depth" across threads.
// Compound (Table/UserData) scopes from a prior episode are discarded.
// ancestors is expected innermost-thread first, as vmreg.Ancestors
// returns it.
func (r *Registry) Refresh(ancestors []*vmhost.Thread, globalEnv vmhost.Value) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for h, s := range r.scopes {
		if s.Kind == KindTable || s.Kind == KindUserData {
			r.refs.Unref(s.ref)
		}
		delete(r.scopes, h)
	}
	r.frames = make(map[int]FrameScopes)
	r.info = make(map[int]*FrameInfo)

	globalScope := r.newScalarScope(KindGlobal, 0, globalEnv)
	// Globals are backed by a live table, so they expand lazily like
	// any other compound value instead of being snapshotted up front.
	globalScope.expanded = false

	var depths []int
	depth := 0
	for i := len(ancestors) - 1; i >= 0; i-- {
		th := ancestors[i]
		n := th.StackDepth()
		for level := n - 1; level >= 0; level-- {
			source, line, name, _, ok := th.GetInfo(level)
			if !ok {
				continue
			}
			localScope := r.newScalarScope(KindLocal, depth, vmhost.Nil)
			upvalScope := r.newScalarScope(KindUpvalue, depth, vmhost.Nil)
			r.frames[depth] = FrameScopes{Local: localScope.Handle, Upvalue: upvalScope.Handle, Global: globalScope.Handle}
			r.info[depth] = &FrameInfo{Thread: th, Level: level, Depth: depth, Source: source, Line: line, Name: name}
			r.populateLocals(localScope, th, level, depth)
			r.populateUpvalues(upvalScope, th, level, depth)
			depths = append(depths, depth)
			depth++
		}
	}
	return depths
}

func (r *Registry) newScalarScope(kind Kind, level int, v vmhost.Value) *Scope {
	handle := handleOf(struct {
		Kind  Kind
		Level int
	}{kind, level})
	// Collisions across episodes are fine (handles reset each Refresh);
	// within one Refresh, level+kind is already unique.
	s := &Scope{Handle: handle, Kind: kind, Level: level, Value: v, expanded: true}
	r.scopes[handle] = s
	return s
}

func (r *Registry) populateLocals(scope *Scope, th *vmhost.Thread, level, frameDepth int) {
	for i := 1; ; i++ {
		name, val, ok := th.GetLocal(level, i)
		if !ok {
			break
		}
		scope.variables = append(scope.variables, r.makeVariable(scope.Handle, name, val, frameDepth, nil))
	}
}

func (r *Registry) populateUpvalues(scope *Scope, th *vmhost.Thread, level, frameDepth int) {
	for i := 1; ; i++ {
		name, val, ok := th.GetUpvalue(level, i)
		if !ok {
			break
		}
		scope.variables = append(scope.variables, r.makeVariable(scope.Handle, name, val, frameDepth, nil))
	}
}

func (r *Registry) makeVariable(scopeHandle int32, name string, val vmhost.Value, frameLevel int, intIdx *int) *Variable {
	v := &Variable{
		Scope:            scopeHandle,
		Name:             name,
		DisplayType:      val.TypeName(),
		DisplayValue:     val.DisplayValue(),
		IntIndex:         intIdx,
		OwningFrameLevel: frameLevel,
	}
	if val.Kind == vmhost.KindTable || val.Kind == vmhost.KindUserData {
		v.ChildScope = r.allocateCompoundScope(val)
	}
	return v
}

func (r *Registry) allocateCompoundScope(v vmhost.Value) int32 {
	kind := KindTable
	if v.Kind == vmhost.KindUserData {
		kind = KindUserData
	}
	handle := handleOf(v.Identity())
	if _, exists := r.scopes[handle]; exists {
		return handle
	}
	ref := r.refs.Ref(v)
	r.scopes[handle] = &Scope{Handle: handle, Kind: kind, Value: v, ref: ref}
	return handle
}

// AllocCompound registers a table/userdata produced outside the frame
// walk (a REPL evaluate result) and returns its handle so the client
// can expand it.
func (r *Registry) AllocCompound(v vmhost.Value) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocateCompoundScope(v)
}

// Scopes returns the {Local, Upvalue, Global} triple for frameID (the
// global depth assigned during Refresh).
func (r *Registry) Scopes(frameID int) (FrameScopes, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fs, ok := r.frames[frameID]
	return fs, ok
}

// Frame returns the frame snapshot behind frameID.
func (r *Registry) Frame(frameID int) (*FrameInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fi, ok := r.info[frameID]
	return fi, ok
}

// Frames returns every frame of the current Break episode, innermost
// first (highest global depth first), the order stackTrace reports.
func (r *Registry) Frames() []*FrameInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*FrameInfo, 0, len(r.info))
	for _, fi := range r.info {
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Depth > out[j].Depth })
	return out
}

// Variables returns the (lazily expanded) variable list for handle.
// Expansion prefers a __iter metamethod on the value's metatable,
// falling back to raw table iteration otherwise. Each entry's IntIndex
// is set iff its key was numeric, preserving integer keys on write.
func (r *Registry) Variables(handle int32) ([]*Variable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scopes[handle]
	if !ok {
		return nil, false
	}
	if !s.expanded {
		r.expand(s)
	}
	return s.variables, true
}

func (r *Registry) expand(s *Scope) {
	s.expanded = true
	s.variables = nil
	var tbl *vmhost.Table
	var meta *vmhost.Table
	switch p := s.Value.Ptr.(type) {
	case *vmhost.Table:
		tbl = p
		meta = p.Meta
	case *vmhost.UserData:
		meta = p.Meta
	default:
		return
	}

	if meta != nil {
		if vars, ok := r.expandIter(s, meta); ok {
			s.variables = vars
			return
		}
	}
	if tbl == nil {
		return
	}
	for i, v := range tbl.Array {
		idx := i + 1
		s.variables = append(s.variables, r.makeVariable(s.Handle, "", v, 0, &idx))
	}
	for k, v := range tbl.Hash {
		name := k.DisplayValue()
		var idx *int
		if k.Kind == vmhost.KindNumber {
			n := int(k.Number)
			idx = &n
		}
		s.variables = append(s.variables, r.makeVariable(s.Handle, name, v, 0, idx))
	}
}

// expandIter drives the value's __iter metamethod: calling it yields a
// (next, state, init) triplet, then next(state, ctrl) is invoked in a
// protected loop until it returns nil. Any error ends the expansion
// with whatever was gathered so far.
func (r *Registry) expandIter(s *Scope, meta *vmhost.Table) ([]*Variable, bool) {
	iter := meta.Get(vmhost.StringValue("__iter"))
	if iter.Kind != vmhost.KindFunction {
		return nil, false
	}
	iterProto, _ := iter.Ptr.(*vmhost.FuncProto)
	if iterProto == nil {
		return nil, false
	}

	t := r.vm.MainThread()
	triplet, err := r.vm.PCall(t, iterProto, []vmhost.Value{s.Value})
	if err != nil || len(triplet) == 0 || triplet[0].Kind != vmhost.KindFunction {
		return nil, false
	}
	next := triplet[0].Ptr.(*vmhost.FuncProto)
	state, ctrl := vmhost.Nil, vmhost.Nil
	if len(triplet) > 1 {
		state = triplet[1]
	}
	if len(triplet) > 2 {
		ctrl = triplet[2]
	}

	var vars []*Variable
	for {
		results, err := r.vm.PCall(t, next, []vmhost.Value{state, ctrl})
		if err != nil || len(results) == 0 || results[0].Kind == vmhost.KindNil {
			break
		}
		key := results[0]
		val := vmhost.Nil
		if len(results) > 1 {
			val = results[1]
		}
		var idx *int
		name := key.DisplayValue()
		if key.Kind == vmhost.KindNumber {
			n := int(key.Number)
			idx = &n
		}
		vars = append(vars, r.makeVariable(s.Handle, name, val, 0, idx))
		ctrl = key
	}
	return vars, true
}

// Set assigns v to the variable called name under the scope at handle,
// routed by scope kind: local -> SetLocal, upvalue -> SetUpvalue,
// global -> the VM's global table, table -> raw settable with the
// entry's preserved key type. The cached snapshot is updated in place
// so the same episode's next Variables call observes the write.
func (r *Registry) Set(handle int32, name string, v vmhost.Value) (*Variable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.scopes[handle]
	if !ok {
		return nil, errs.Logicf("unknown scope handle %d", handle)
	}

	switch s.Kind {
	case KindLocal:
		fi, ok := r.info[s.Level]
		if !ok {
			return nil, errs.Logicf("no frame behind scope %d", handle)
		}
		if !r.setFrameSlot(fi, name, v, true) {
			return nil, errs.VMf(nil, "no local %q in frame %d", name, s.Level)
		}
	case KindUpvalue:
		fi, ok := r.info[s.Level]
		if !ok {
			return nil, errs.Logicf("no frame behind scope %d", handle)
		}
		if !r.setFrameSlot(fi, name, v, false) {
			return nil, errs.VMf(nil, "no upvalue %q in frame %d", name, s.Level)
		}
	case KindGlobal:
		r.vm.Globals.Set(vmhost.StringValue(name), v)
	case KindTable:
		tbl, ok := s.Value.Ptr.(*vmhost.Table)
		if !ok {
			return nil, errs.Logicf("table scope %d has no table", handle)
		}
		key := vmhost.StringValue(name)
		if idx, ok := parseIndexName(name); ok {
			key = vmhost.NumberValue(float64(idx))
		} else if entry := r.findVariable(s, name); entry != nil && entry.IntIndex != nil {
			key = vmhost.NumberValue(float64(*entry.IntIndex))
		}
		tbl.Set(key, v)
		// Drop the stale expansion; the next Variables call re-reads the
		// live table, integer keys included.
		s.expanded = false
		s.variables = nil
		return r.makeVariable(s.Handle, name, v, s.Level, nil), nil
	case KindUserData:
		return nil, errs.VMf(nil, "cannot assign into userdata %q", name)
	}

	updated := r.refreshVariable(s, name, v)
	return updated, nil
}

// parseIndexName recognizes the "[3]" and "3" spellings of an array
// entry's display name.
func parseIndexName(name string) (int, bool) {
	if len(name) > 2 && name[0] == '[' && name[len(name)-1] == ']' {
		name = name[1 : len(name)-1]
	}
	n := 0
	if len(name) == 0 {
		return 0, false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// setFrameSlot finds the 1-based slot index of name via the iterate
// protocol and writes through it.
func (r *Registry) setFrameSlot(fi *FrameInfo, name string, v vmhost.Value, local bool) bool {
	for i := 1; ; i++ {
		var n string
		var ok bool
		if local {
			n, _, ok = fi.Thread.GetLocal(fi.Level, i)
		} else {
			n, _, ok = fi.Thread.GetUpvalue(fi.Level, i)
		}
		if !ok {
			return false
		}
		if n != name {
			continue
		}
		if local {
			return fi.Thread.SetLocal(fi.Level, i, v)
		}
		return fi.Thread.SetUpvalue(fi.Level, i, v)
	}
}

func (r *Registry) findVariable(s *Scope, name string) *Variable {
	for _, entry := range s.variables {
		if entry.Name == name {
			return entry
		}
	}
	return nil
}

// refreshVariable rewrites the cached snapshot entry for name so a
// Variables call on the same parent, inside the same episode, reports
// the new value.
func (r *Registry) refreshVariable(s *Scope, name string, v vmhost.Value) *Variable {
	entry := r.findVariable(s, name)
	if entry == nil {
		entry = r.makeVariable(s.Handle, name, v, s.Level, nil)
		s.variables = append(s.variables, entry)
		return entry
	}
	entry.DisplayType = v.TypeName()
	entry.DisplayValue = v.DisplayValue()
	entry.ChildScope = 0
	if v.Kind == vmhost.KindTable || v.Kind == vmhost.KindUserData {
		entry.ChildScope = r.allocateCompoundScope(v)
	}
	return entry
}

// Invalidate discards every compound scope's expansion so the next
// Variables() call re-expands; called after a successful setVariable or
// a REPL evaluate.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.scopes {
		if s.Kind == KindTable || s.Kind == KindUserData || s.Kind == KindGlobal {
			s.expanded = false
			s.variables = nil
		}
	}
}

// Clear drops every scope, releasing all strong references, at the end
// of a Break episode.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h, s := range r.scopes {
		if s.Kind == KindTable || s.Kind == KindUserData {
			r.refs.Unref(s.ref)
		}
		delete(r.scopes, h)
	}
	r.frames = make(map[int]FrameScopes)
	r.info = make(map[int]*FrameInfo)
}
