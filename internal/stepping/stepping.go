// Package stepping is the stepping controller: step-in, step-out and
// step-over encoded as predicates evaluated on every single-step
// callback, with the depth comparison carried across coroutine
// boundaries through the thread registry.
package stepping

import "github.com/sssooonnnggg/luaud/internal/vmhost"

// Context is a totally-ordered break-context record the controller
// compares across single-step callbacks.
type Context struct {
	Source string
	Line   int
	Depth  int
	Thread *vmhost.Thread
}

func (c Context) equal(o Context) bool {
	return c.Source == o.Source && c.Line == o.Line && c.Depth == o.Depth && c.Thread == o.Thread
}

// Predicate decides, given the current context, whether the stepping
// command has completed and the VM should stop.
type Predicate func(cur Context) bool

// Kind names the three stepping commands.
type Kind int

const (
	KindNone Kind = iota
	KindIn
	KindOut
	KindOver
)

// Registry holds ancestry/liveness lookups the predicates need;
// *vmreg.Registry satisfies it and is passed in directly.
type Registry interface {
	IsAlive(t *vmhost.Thread) bool
	IsDescendant(t, ancestor *vmhost.Thread) bool
}

// Controller holds the currently pending stepping command, if any.
type Controller struct {
	kind    Kind
	started Context
	reg     Registry
}

// New constructs a Controller bound to reg for thread ancestry checks.
func New(reg Registry) *Controller {
	return &Controller{reg: reg}
}

// Active reports whether a stepping command is currently pending.
func (c *Controller) Active() bool { return c.kind != KindNone }

// Clear cancels any pending stepping command (e.g. on a fresh continue
// or a new stepping command superseding the old one).
func (c *Controller) Clear() { c.kind = KindNone }

// StepIn arms a step-in command from the given starting context: stop
// on the first single-step where the context differs at all, so calls
// into callees and coroutine switches are followed naturally.
func (c *Controller) StepIn(start Context) {
	c.kind = KindIn
	c.started = start
}

// StepOut arms a step-out command: stop once the current depth is
// shallower than the starting depth.
func (c *Controller) StepOut(start Context) {
	c.kind = KindOut
	c.started = start
}

// StepOver arms a step-over command.
func (c *Controller) StepOver(start Context) {
	c.kind = KindOver
	c.started = start
}

// ShouldStop evaluates the pending predicate against cur.
// Side-effect-free beyond the Registry ancestry checks it consults.
func (c *Controller) ShouldStop(cur Context) bool {
	switch c.kind {
	case KindIn:
		return !cur.equal(c.started)
	case KindOut:
		return cur.Depth < c.started.Depth
	case KindOver:
		return c.shouldStopOver(cur)
	default:
		return false
	}
}

func (c *Controller) shouldStopOver(cur Context) bool {
	orig := c.started.Thread
	if cur.Thread != orig {
		// (a) the originating thread moved into a coroutine and is
		// itself suspended in a yield: don't stop, wait for it to
		// resume.
		if c.reg.IsAlive(orig) && orig.Status() == "suspended" {
			return false
		}
		// (b) current thread is neither the original nor one of its
		// descendants: don't stop.
		if !c.reg.IsDescendant(cur.Thread, orig) {
			return false
		}
	}
	if cur.Depth < c.started.Depth {
		return true
	}
	if cur.Depth == c.started.Depth && cur.Line != c.started.Line {
		return true
	}
	return false
}
