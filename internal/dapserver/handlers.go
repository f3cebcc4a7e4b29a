package dapserver

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-dap"

	"github.com/sssooonnnggg/luaud/internal/breakpoints"
	"github.com/sssooonnnggg/luaud/internal/bridge"
	"github.com/sssooonnnggg/luaud/internal/errs"
	"github.com/sssooonnnggg/luaud/internal/scopes"
	"github.com/sssooonnnggg/luaud/internal/stepping"
	"github.com/sssooonnnggg/luaud/internal/vmhost"
)

func (s *Session) onInitialize(request *dap.InitializeRequest) error {
	response := &dap.InitializeResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsConditionalBreakpoints = true
	response.Body.SupportsSetVariable = true
	response.Body.SupportsLogPoints = true
	response.Body.SupportsCompletionsRequest = true
	response.Body.SupportsEvaluateForHovers = true
	response.Body.ExceptionBreakpointFilters = []dap.ExceptionBreakpointsFilter{
		{Filter: "error", Label: "Uncaught Errors"},
	}
	response.Body.SupportsExceptionOptions = false
	response.Body.SupportsDataBreakpoints = false
	response.Body.SupportsReadMemoryRequest = false
	response.Body.SupportsDelayedStackTraceLoading = false
	response.Body.SupportsTerminateRequest = false
	response.Body.SupportsRestartRequest = false

	s.send(response)
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	return nil
}

// launchConfig is the subset of the client's launch.json this adapter
// understands. The script itself is loaded by the embedding host, not
// by the adapter, so program is informational only.
type launchConfig struct {
	Program     string `json:"program"`
	StopOnEntry bool   `json:"stopOnEntry"`
	Root        string `json:"root"`
}

func (s *Session) onLaunch(request *dap.LaunchRequest) error {
	var cfg launchConfig
	if len(request.Arguments) > 0 {
		if err := json.Unmarshal(request.Arguments, &cfg); err != nil {
			return errs.Protocolf("launch arguments: %v", err)
		}
	}
	if cfg.Root != "" {
		s.host.Paths.SetRoot(cfg.Root)
	}
	s.launchExit = true

	response := &dap.LaunchResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	s.send(response)

	// Attaching the sink wakes a VM thread parked on the entry break.
	s.host.Bridge.AttachSession(bridge.SessionLaunch, s)
	return nil
}

func (s *Session) onAttach(request *dap.AttachRequest) error {
	response := &dap.AttachResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	s.send(response)

	s.host.Bridge.AttachSession(bridge.SessionAttach, s)
	return nil
}

func (s *Session) onDisconnect(request *dap.DisconnectRequest) error {
	s.log.Infof("client disconnecting")
	if s.host.Audit != nil {
		s.host.Audit.RecordDisconnect(s.id)
	}

	s.host.Step.Clear()
	s.host.VM.SingleStep(false)
	s.host.Bridge.Disconnect()

	response := &dap.DisconnectResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	s.send(response)

	s.disconnected.Store(true)
	return nil
}

func (s *Session) onSetBreakpoints(request *dap.SetBreakpointsRequest) error {
	path := s.host.Paths.Normalize(request.Arguments.Source.Path)
	specs := make([]breakpoints.BreakpointSpec, 0, len(request.Arguments.Breakpoints))
	for _, sb := range request.Arguments.Breakpoints {
		specs = append(specs, breakpoints.BreakpointSpec{
			Line:       sb.Line,
			Condition:  sb.Condition,
			LogMessage: sb.LogMessage,
		})
	}

	var placed []*breakpoints.Breakpoint
	if s.host.Bridge.IsPaused() {
		// Paused: the VM thread is parked in the state machine, so the
		// replacement runs synchronously as a pending job and the
		// response can report the instrumented target lines.
		res, err := s.host.Bridge.Submit(func() (interface{}, error) {
			return s.host.Files.SetBreakpoints(path, specs), nil
		})
		if err != nil {
			return err
		}
		placed = res.([]*breakpoints.Breakpoint)
	} else {
		// Running: the breakpoint API is not safe against execution, so
		// the replacement is queued for the next interrupt; it is
		// applied before the next debug-break can fire.
		s.host.Bridge.Tasks.Post(func() {
			s.host.Files.SetBreakpoints(path, specs)
		})
	}

	response := &dap.SetBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	for i, spec := range specs {
		b := dap.Breakpoint{Verified: true, Line: spec.Line}
		if placed != nil && i < len(placed) && placed[i].TargetLine > 0 {
			b.Line = placed[i].TargetLine
		}
		response.Body.Breakpoints = append(response.Body.Breakpoints, b)
	}
	s.send(response)
	return nil
}

func (s *Session) onSetExceptionBreakpoints(request *dap.SetExceptionBreakpointsRequest) error {
	on := false
	for _, f := range request.Arguments.Filters {
		if f == "error" {
			on = true
		}
	}
	s.host.Glue.SetBreakOnError(on)

	response := &dap.SetExceptionBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	s.send(response)
	return nil
}

func (s *Session) onConfigurationDone(request *dap.ConfigurationDoneRequest) error {
	response := &dap.ConfigurationDoneResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	s.send(response)
	return nil
}

func (s *Session) onThreads(request *dap.ThreadsRequest) error {
	live := s.host.Reg.LiveThreads()
	if s.host.Metrics != nil {
		s.host.Metrics.SetLiveThreads(len(live))
	}

	threads := make([]dap.Thread, 0, len(live))
	for _, t := range live {
		name := t.Name
		if name == "" {
			name = fmt.Sprintf("thread %d", t.ID)
		}
		threads = append(threads, dap.Thread{Id: s.host.Bridge.ThreadID(t), Name: name})
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].Id < threads[j].Id })

	response := &dap.ThreadsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Threads = threads
	s.send(response)
	return nil
}

func (s *Session) onStackTrace(request *dap.StackTraceRequest) error {
	response := &dap.StackTraceResponse{}
	response.Response = *newResponse(request.Seq, request.Command)

	// Not paused: an empty trace, not an error, since clients poll this
	// right after launch.
	if s.host.Bridge.IsPaused() {
		frames := s.host.Scopes.Frames()
		for _, fi := range frames {
			if request.Arguments.ThreadId != 0 && s.host.Bridge.ThreadID(fi.Thread) != request.Arguments.ThreadId {
				continue
			}
			name := fi.Name
			if name == "" {
				name = "anonymous"
			}
			path := s.host.Paths.Normalize(fi.Source)
			response.Body.StackFrames = append(response.Body.StackFrames, dap.StackFrame{
				Id:     fi.Depth,
				Name:   name,
				Line:   fi.Line,
				Column: 1,
				Source: &dap.Source{Name: filepath.Base(path), Path: path},
			})
		}
	}
	response.Body.TotalFrames = len(response.Body.StackFrames)

	if start := request.Arguments.StartFrame; start > 0 {
		if start < len(response.Body.StackFrames) {
			response.Body.StackFrames = response.Body.StackFrames[start:]
		} else {
			response.Body.StackFrames = nil
		}
	}
	if levels := request.Arguments.Levels; levels > 0 && levels < len(response.Body.StackFrames) {
		response.Body.StackFrames = response.Body.StackFrames[:levels]
	}
	s.send(response)
	return nil
}

func (s *Session) onScopes(request *dap.ScopesRequest) error {
	fs, ok := s.host.Scopes.Scopes(request.Arguments.FrameId)
	if !ok {
		return errs.Statef("no frame %d in the current break episode", request.Arguments.FrameId)
	}

	response := &dap.ScopesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Scopes = []dap.Scope{
		{Name: "Locals", PresentationHint: "locals", VariablesReference: int(fs.Local)},
		{Name: "Upvalues", VariablesReference: int(fs.Upvalue)},
		{Name: "Globals", VariablesReference: int(fs.Global), Expensive: true},
	}
	s.send(response)
	return nil
}

func (s *Session) onVariables(request *dap.VariablesRequest) error {
	res, err := s.host.Bridge.Submit(func() (interface{}, error) {
		vars, ok := s.host.Scopes.Variables(int32(request.Arguments.VariablesReference))
		if !ok {
			return nil, errs.Logicf("unknown scope handle %d", request.Arguments.VariablesReference)
		}
		return vars, nil
	})
	if err != nil {
		return err
	}

	response := &dap.VariablesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	for _, v := range res.([]*scopes.Variable) {
		response.Body.Variables = append(response.Body.Variables, dap.Variable{
			Name:               variableName(v),
			Value:              v.DisplayValue,
			Type:               v.DisplayType,
			VariablesReference: int(v.ChildScope),
		})
	}
	s.send(response)
	return nil
}

func variableName(v *scopes.Variable) string {
	if v.Name == "" && v.IntIndex != nil {
		return fmt.Sprintf("[%d]", *v.IntIndex)
	}
	return v.Name
}

func (s *Session) onSetVariable(request *dap.SetVariableRequest) error {
	ref := int32(request.Arguments.VariablesReference)
	name := request.Arguments.Name
	literal := request.Arguments.Value

	res, err := s.host.Bridge.Submit(func() (interface{}, error) {
		vars, ok := s.host.Scopes.Variables(ref)
		if !ok {
			return nil, errs.Logicf("unknown scope handle %d", ref)
		}
		var target *scopes.Variable
		for _, v := range vars {
			if variableName(v) == name || v.Name == name {
				target = v
				break
			}
		}
		if target == nil {
			return nil, errs.VMf(nil, "no variable %q under scope %d", name, ref)
		}

		val, err := s.coerceLiteral(target, literal)
		if err != nil {
			return nil, err
		}
		setName := target.Name
		if setName == "" {
			setName = name // "[N]" array-entry spelling
		}
		return s.host.Scopes.Set(ref, setName, val)
	})
	if err != nil {
		return err
	}
	updated := res.(*scopes.Variable)

	// Invalidate before responding so the client re-requests expanded
	// subtrees: the event precedes the response on the wire.
	s.host.Scopes.Invalidate()
	s.Invalidated()

	response := &dap.SetVariableResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Value = updated.DisplayValue
	response.Body.Type = updated.DisplayType
	response.Body.VariablesReference = int(updated.ChildScope)
	s.send(response)
	return nil
}

// coerceLiteral turns the client's literal text into a VM value,
// matching the target's existing type where the raw text is ambiguous:
// string targets accept unquoted text, vector targets accept the
// "(x, y, z)" display form.
func (s *Session) coerceLiteral(target *scopes.Variable, literal string) (vmhost.Value, error) {
	fi := s.frameFor(target.OwningFrameLevel)
	if fi != nil {
		vals, err := s.host.Eval.Eval(fi.Thread, fi.Level, literal)
		if err == nil && len(vals) > 0 {
			return vals[0], nil
		}
	}

	switch target.DisplayType {
	case "string":
		return vmhost.StringValue(strings.Trim(literal, `"`)), nil
	case "vector":
		if v, ok := parseVectorLiteral(literal); ok {
			return v, nil
		}
	}
	return vmhost.Nil, errs.VMf(nil, "cannot evaluate %q", literal)
}

func parseVectorLiteral(text string) (vmhost.Value, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "(") || !strings.HasSuffix(text, ")") {
		return vmhost.Nil, false
	}
	parts := strings.Split(text[1:len(text)-1], ",")
	if len(parts) != 3 {
		return vmhost.Nil, false
	}
	var xyz [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return vmhost.Nil, false
		}
		xyz[i] = f
	}
	return vmhost.Vector3Value(xyz[0], xyz[1], xyz[2]), true
}

// frameFor resolves a frame id, falling back to the innermost paused
// frame when the id is stale or zero.
func (s *Session) frameFor(frameID int) *scopes.FrameInfo {
	if fi, ok := s.host.Scopes.Frame(frameID); ok {
		return fi
	}
	frames := s.host.Scopes.Frames()
	if len(frames) > 0 {
		return frames[0]
	}
	return nil
}

type evalResult struct {
	text string
	typ  string
	ref  int32
}

func (s *Session) onEvaluate(request *dap.EvaluateRequest) error {
	start := time.Now()
	expression := request.Arguments.Expression

	res, err := s.host.Bridge.Submit(func() (interface{}, error) {
		fi := s.frameFor(request.Arguments.FrameId)
		if fi == nil {
			return nil, errs.Statef("no paused frame to evaluate in")
		}
		vals, err := s.host.Eval.Eval(fi.Thread, fi.Level, expression)
		if err != nil {
			return nil, errs.VMf(err, "evaluate failed").WithDiagnostic(err.Error())
		}

		out := evalResult{}
		parts := make([]string, 0, len(vals))
		for _, v := range vals {
			parts = append(parts, v.DisplayValue())
		}
		out.text = strings.Join(parts, "\n")
		if len(vals) > 0 {
			out.typ = vals[0].TypeName()
			if vals[0].Kind == vmhost.KindTable || vals[0].Kind == vmhost.KindUserData {
				out.ref = s.host.Scopes.AllocCompound(vals[0])
			}
		}

		if s.host.History != nil {
			s.host.History.Record(s.id, request.Arguments.FrameId, request.Arguments.Context, expression, out.typ, parts)
		}
		return out, nil
	})
	if err != nil {
		return err
	}
	result := res.(evalResult)

	if s.host.Metrics != nil {
		s.host.Metrics.ObserveEvaluate(time.Since(start))
	}

	// A REPL evaluate may have side effects; stale expansions must be
	// re-requested.
	if request.Arguments.Context == "repl" {
		s.host.Scopes.Invalidate()
		s.Invalidated()
	}

	response := &dap.EvaluateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Result = result.text
	response.Body.Type = result.typ
	response.Body.VariablesReference = int(result.ref)
	s.send(response)
	return nil
}

func (s *Session) onContinue(request *dap.ContinueRequest) error {
	if !s.host.Bridge.IsPaused() {
		return errs.Statef("not paused")
	}
	s.host.Step.Clear()
	s.host.VM.SingleStep(false)

	response := &dap.ContinueResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.AllThreadsContinued = true
	s.send(response)

	s.resume()
	return nil
}

// resume releases the paused VM after the response for a continue-class
// request has gone out. A lost race to an already-running VM is benign.
func (s *Session) resume() {
	if err := s.host.Bridge.Continue(); err != nil {
		s.log.Warnf("resume: %v", err)
	}
}

func (s *Session) armStep(kind string, arm func(stepping.Context)) error {
	bt := s.host.Bridge.BreakThread()
	if bt == nil {
		return errs.Statef("not paused")
	}
	source, line, _, _, ok := bt.GetInfo(0)
	if !ok {
		return errs.Logicf("paused thread has no frames")
	}
	arm(stepping.Context{Source: source, Line: line, Depth: bt.StackDepth(), Thread: bt})
	s.host.VM.SingleStep(true)
	if s.host.Metrics != nil {
		s.host.Metrics.RecordStep(kind)
	}
	return nil
}

func (s *Session) onNext(request *dap.NextRequest) error {
	if err := s.armStep("over", s.host.Step.StepOver); err != nil {
		return err
	}
	response := &dap.NextResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	s.send(response)
	s.resume()
	return nil
}

func (s *Session) onStepIn(request *dap.StepInRequest) error {
	if err := s.armStep("in", s.host.Step.StepIn); err != nil {
		return err
	}
	response := &dap.StepInResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	s.send(response)
	s.resume()
	return nil
}

func (s *Session) onStepOut(request *dap.StepOutRequest) error {
	if err := s.armStep("out", s.host.Step.StepOut); err != nil {
		return err
	}
	response := &dap.StepOutResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	s.send(response)
	s.resume()
	return nil
}

func (s *Session) onPause(request *dap.PauseRequest) error {
	s.host.Bridge.Pause()
	response := &dap.PauseResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	s.send(response)
	return nil
}

func (s *Session) onCompletions(request *dap.CompletionsRequest) error {
	text := request.Arguments.Text
	if col := request.Arguments.Column; col > 0 && col-1 < len(text) {
		text = text[:col-1]
	}

	res, err := s.host.Bridge.Submit(func() (interface{}, error) {
		return s.complete(request.Arguments.FrameId, text), nil
	})
	if err != nil {
		return err
	}

	response := &dap.CompletionsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	for _, label := range res.([]string) {
		response.Body.Targets = append(response.Body.Targets, dap.CompletionItem{Label: label})
	}
	s.send(response)
	return nil
}

// complete lists candidates for dotted-path completion: for "a.b.pre"
// the prefix "a.b" is evaluated and the matching table's keys are
// offered; with no dot, the frame's locals, upvalues and globals are.
func (s *Session) complete(frameID int, text string) []string {
	fi := s.frameFor(frameID)
	if fi == nil {
		return nil
	}

	partial := text
	var keys []string
	if dot := strings.LastIndexByte(text, '.'); dot >= 0 {
		prefix := text[:dot]
		partial = text[dot+1:]
		vals, err := s.host.Eval.Eval(fi.Thread, fi.Level, prefix)
		if err != nil || len(vals) == 0 || vals[0].Kind != vmhost.KindTable {
			return nil
		}
		tbl := vals[0].Ptr.(*vmhost.Table)
		for k := range tbl.Hash {
			if k.Kind == vmhost.KindString {
				keys = append(keys, k.Str)
			}
		}
	} else {
		for i := 1; ; i++ {
			name, _, ok := fi.Thread.GetLocal(fi.Level, i)
			if !ok {
				break
			}
			keys = append(keys, name)
		}
		for i := 1; ; i++ {
			name, _, ok := fi.Thread.GetUpvalue(fi.Level, i)
			if !ok {
				break
			}
			keys = append(keys, name)
		}
		for k := range s.host.VM.Globals.Hash {
			if k.Kind == vmhost.KindString {
				keys = append(keys, k.Str)
			}
		}
	}

	var out []string
	for _, k := range keys {
		if strings.HasPrefix(k, partial) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
