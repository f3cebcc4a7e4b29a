// Package debugger assembles the DebugBridge and exposes the
// host-application interface: listen, initialize, set_root,
// on_file_loaded, on_error, stop. The embedding process constructs one
// Debugger per VM, tells it about loaded files, and runs its scripts;
// everything else happens through the DAP session.
package debugger

import (
	"os"

	"github.com/sssooonnnggg/luaud/internal/breakpoints"
	"github.com/sssooonnnggg/luaud/internal/bridge"
	"github.com/sssooonnnggg/luaud/internal/config"
	"github.com/sssooonnnggg/luaud/internal/dapserver"
	"github.com/sssooonnnggg/luaud/internal/errs"
	"github.com/sssooonnnggg/luaud/internal/eval"
	"github.com/sssooonnnggg/luaud/internal/logging"
	"github.com/sssooonnnggg/luaud/internal/metrics"
	"github.com/sssooonnnggg/luaud/internal/pathmap"
	"github.com/sssooonnnggg/luaud/internal/scopes"
	"github.com/sssooonnnggg/luaud/internal/stepping"
	"github.com/sssooonnnggg/luaud/internal/taskpool"
	"github.com/sssooonnnggg/luaud/internal/vmglue"
	"github.com/sssooonnnggg/luaud/internal/vmhost"
	"github.com/sssooonnnggg/luaud/internal/vmreg"
)

// Debugger owns the DebugBridge and its supporting registries for one
// VM.
type Debugger struct {
	VM     *vmhost.VM
	Paths  *pathmap.Mapper
	Reg    *vmreg.Registry
	Files  *breakpoints.Store
	Scopes *scopes.Registry
	Tasks  *taskpool.Pool
	Bridge *bridge.Bridge
	Step   *stepping.Controller
	Eval   *eval.Evaluator
	Glue   *vmglue.Glue
	Log    *logging.Logger

	host   *dapserver.Host
	server *dapserver.Server
}

// New wires a Debugger around a fresh VM using cfg for the path root,
// script extension and stop-on-entry policy.
func New(cfg *config.Config, log *logging.Logger) *Debugger {
	vm := vmhost.New()
	paths := pathmap.New(cfg.Root, cfg.ScriptExtension)
	reg := vmreg.New()
	files := breakpoints.New(vm, cfg.StopOnEntry)
	scopeReg := scopes.New(vm)
	tasks := taskpool.New(nil)
	br := bridge.New(vm, reg, files, scopeReg, paths, tasks, log)
	step := stepping.New(reg)
	ev := eval.New(vm)
	glue := vmglue.Install(vm, br, files, step, ev, paths, reg, log)

	d := &Debugger{
		VM:     vm,
		Paths:  paths,
		Reg:    reg,
		Files:  files,
		Scopes: scopeReg,
		Tasks:  tasks,
		Bridge: br,
		Step:   step,
		Eval:   ev,
		Glue:   glue,
		Log:    log,
	}
	d.host = &dapserver.Host{
		VM:     vm,
		Bridge: br,
		Files:  files,
		Scopes: scopeReg,
		Step:   step,
		Eval:   ev,
		Paths:  paths,
		Glue:   glue,
		Reg:    reg,
		Log:    log,
	}
	return d
}

// Initialize registers the VM's main thread and stores the back-pointer
// in its per-thread data slot so callbacks can recover the Debugger.
func (d *Debugger) Initialize(t *vmhost.Thread) {
	d.Reg.RegisterMain(t)
	t.UserData = d
}

// FromThread recovers the owning Debugger from a thread's data slot,
// resolving through the main thread, which is stable for the VM's
// lifetime.
func FromThread(t *vmhost.Thread) (*Debugger, bool) {
	for cur := t; cur != nil; cur = cur.Parent {
		if d, ok := cur.UserData.(*Debugger); ok {
			return d, true
		}
	}
	return nil, false
}

// SetMetrics attaches Prometheus instrumentation to the DAP surface.
func (d *Debugger) SetMetrics(m *metrics.Metrics) { d.host.Metrics = m }

// SetAudit attaches the session audit log.
func (d *Debugger) SetAudit(a dapserver.AuditRecorder) { d.host.Audit = a }

// SetHistory attaches the evaluate transcript store.
func (d *Debugger) SetHistory(h dapserver.HistoryRecorder) { d.host.History = h }

// SetObserver attaches the spectator event fan-out.
func (d *Debugger) SetObserver(o dapserver.EventPublisher) { d.host.Observer = o }

// SetOnLaunchExit sets the hook run after a launch-kind session
// disconnects.
func (d *Debugger) SetOnLaunchExit(fn func()) { d.host.OnLaunchExit = fn }

// Listen starts accepting DAP clients on the TCP port.
func (d *Debugger) Listen(port int) error {
	srv, err := dapserver.Listen(port, d.host)
	if err != nil {
		return err
	}
	d.server = srv
	return nil
}

// SetRoot changes the directory relative script identifiers resolve
// against.
func (d *Debugger) SetRoot(path string) { d.Paths.SetRoot(path) }

// OnFileLoaded tells the bridge a source file was compiled on thread t.
// The chunk is renamed to its canonical path so runtime stop locations
// and client-requested breakpoints key the same File.
func (d *Debugger) OnFileLoaded(t *vmhost.Thread, rawPath string, proto *vmhost.FuncProto, isEntry bool) {
	norm := d.Paths.Normalize(rawPath)
	proto.Source = norm
	if isEntry {
		d.Paths.SetEntry(rawPath)
	}
	d.Files.OnFileLoaded(norm, d.Files.NewFunctionRef(proto, t), isEntry)
}

// OnError forwards a host-reported runtime error to the client.
func (d *Debugger) OnError(msg string, t *vmhost.Thread) { d.Glue.OnError(msg, t) }

// LoadScript reads, compiles and registers a source file without
// running it.
func (d *Debugger) LoadScript(path string, isEntry bool) (*vmhost.FuncProto, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Hostf(err, "read script %s", path)
	}
	norm := d.Paths.Normalize(path)
	proto, err := vmhost.Load(norm, string(src))
	if err != nil {
		return nil, errs.VMf(err, "compile %s", path).WithDiagnostic(err.Error())
	}
	d.OnFileLoaded(d.VM.MainThread(), path, proto, isEntry)
	return proto, nil
}

// RunEntry loads and executes the entry script on the main thread,
// blocking until it completes (including any Break episodes along the
// way).
func (d *Debugger) RunEntry(path string) error {
	proto, err := d.LoadScript(path, true)
	if err != nil {
		return err
	}
	_, err = d.VM.CallProto(d.VM.MainThread(), proto, nil)
	return err
}

// Stop closes the DAP listener and releases any paused state.
func (d *Debugger) Stop() {
	if d.server != nil {
		d.server.Stop()
	}
	d.Bridge.Disconnect()
}
