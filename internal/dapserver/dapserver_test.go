package dapserver

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/sssooonnnggg/luaud/internal/breakpoints"
	"github.com/sssooonnnggg/luaud/internal/bridge"
	"github.com/sssooonnnggg/luaud/internal/eval"
	"github.com/sssooonnnggg/luaud/internal/logging"
	"github.com/sssooonnnggg/luaud/internal/pathmap"
	"github.com/sssooonnnggg/luaud/internal/scopes"
	"github.com/sssooonnnggg/luaud/internal/stepping"
	"github.com/sssooonnnggg/luaud/internal/taskpool"
	"github.com/sssooonnnggg/luaud/internal/vmglue"
	"github.com/sssooonnnggg/luaud/internal/vmhost"
	"github.com/sssooonnnggg/luaud/internal/vmreg"
)

// client drives one DAP connection from the IDE side of the wire.
type client struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
	seq    int
}

func (c *client) send(msg dap.Message) {
	c.t.Helper()
	require.NoError(c.t, dap.WriteProtocolMessage(c.conn, msg))
}

func (c *client) nextSeq() int {
	c.seq++
	return c.seq
}

func (c *client) request(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: c.nextSeq(), Type: "request"},
		Command:         command,
	}
}

// await reads messages until one of type T arrives, skipping everything
// else (events and responses interleave on the wire).
func await[T dap.Message](c *client) T {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 64; i++ {
		msg, err := dap.ReadProtocolMessage(c.reader)
		require.NoError(c.t, err)
		if m, ok := msg.(T); ok {
			return m
		}
	}
	c.t.Fatal("message never arrived")
	var zero T
	return zero
}

func awaitStopped(c *client, reason string) *dap.StoppedEvent {
	c.t.Helper()
	ev := await[*dap.StoppedEvent](c)
	require.Equal(c.t, reason, ev.Body.Reason)
	return ev
}

const testScript = `local i = 1
local j = 2
local t = {a = 1, b = 2}
local s = "lo"
local k = i + j
`

// harness assembles a full bridge stack, a DAP server on an ephemeral
// port, and a connected client, with the entry script compiled but not
// yet running.
func newHarness(t *testing.T) (*client, *vmhost.VM, *vmhost.FuncProto, chan error) {
	t.Helper()
	vm := vmhost.New()
	reg := vmreg.New()
	reg.RegisterMain(vm.MainThread())
	files := breakpoints.New(vm, true)
	scopeReg := scopes.New(vm)
	paths := pathmap.New("", ".lua")
	paths.SetEntry("main.lua")
	tasks := taskpool.New(nil)
	log := logging.New(logging.Config{Outputs: []io.Writer{io.Discard}})
	t.Cleanup(log.Close)

	br := bridge.New(vm, reg, files, scopeReg, paths, tasks, log)
	step := stepping.New(reg)
	ev := eval.New(vm)
	glue := vmglue.Install(vm, br, files, step, ev, paths, reg, log)

	host := &Host{
		VM: vm, Bridge: br, Files: files, Scopes: scopeReg,
		Step: step, Eval: ev, Paths: paths, Glue: glue, Reg: reg, Log: log,
	}
	srv, err := Listen(0, host)
	require.NoError(t, err)
	t.Cleanup(srv.Stop)

	proto, err := vmhost.Load("main.lua", testScript)
	require.NoError(t, err)
	files.OnFileLoaded("main.lua", files.NewFunctionRef(proto, vm.MainThread()), true)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	scriptDone := make(chan error, 1)
	go func() {
		_, err := vm.CallProto(vm.MainThread(), proto, nil)
		scriptDone <- err
	}()

	return &client{t: t, conn: conn, reader: bufio.NewReader(conn)}, vm, proto, scriptDone
}

func (c *client) initializeAndAttach() {
	c.t.Helper()
	c.send(&dap.InitializeRequest{Request: c.request("initialize")})
	resp := await[*dap.InitializeResponse](c)
	require.True(c.t, resp.Body.SupportsConditionalBreakpoints)
	require.True(c.t, resp.Body.SupportsSetVariable)
	require.False(c.t, resp.Body.SupportsDataBreakpoints)
	await[*dap.InitializedEvent](c)

	c.send(&dap.AttachRequest{Request: c.request("attach")})
	await[*dap.AttachResponse](c)
}

func TestEntryBreakFullSequence(t *testing.T) {
	c, _, _, scriptDone := newHarness(t)
	c.initializeAndAttach()

	// The VM was parked waiting for the session; attaching releases it
	// into the entry break at main.lua:1.
	awaitStopped(c, "entry")

	// Breakpoint on the last line, applied synchronously while paused.
	c.send(&dap.SetBreakpointsRequest{
		Request: c.request("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: "main.lua"},
			Breakpoints: []dap.SourceBreakpoint{{Line: 5}},
		},
	})
	sbResp := await[*dap.SetBreakpointsResponse](c)
	require.Len(t, sbResp.Body.Breakpoints, 1)
	require.True(t, sbResp.Body.Breakpoints[0].Verified)
	require.Equal(t, 5, sbResp.Body.Breakpoints[0].Line)

	c.send(&dap.ConfigurationDoneRequest{Request: c.request("configurationDone")})
	await[*dap.ConfigurationDoneResponse](c)

	// Threads: the main thread is id 1.
	c.send(&dap.ThreadsRequest{Request: c.request("threads")})
	thResp := await[*dap.ThreadsResponse](c)
	require.NotEmpty(t, thResp.Body.Threads)
	require.Equal(t, 1, thResp.Body.Threads[0].Id)

	// Stack trace at the entry break points at line 1.
	c.send(&dap.StackTraceRequest{Request: c.request("stackTrace"), Arguments: dap.StackTraceArguments{ThreadId: 1}})
	stResp := await[*dap.StackTraceResponse](c)
	require.NotEmpty(t, stResp.Body.StackFrames)
	require.Equal(t, 1, stResp.Body.StackFrames[0].Line)

	frameID := stResp.Body.StackFrames[0].Id

	c.send(&dap.ScopesRequest{Request: c.request("scopes"), Arguments: dap.ScopesArguments{FrameId: frameID}})
	scResp := await[*dap.ScopesResponse](c)
	require.Len(t, scResp.Body.Scopes, 3)
	require.Equal(t, "Locals", scResp.Body.Scopes[0].Name)

	c.send(&dap.ContinueRequest{Request: c.request("continue"), Arguments: dap.ContinueArguments{ThreadId: 1}})
	await[*dap.ContinueResponse](c)

	// Exactly one more stop: the breakpoint on line 5.
	awaitStopped(c, "breakpoint")

	c.send(&dap.ContinueRequest{Request: c.request("continue"), Arguments: dap.ContinueArguments{ThreadId: 1}})
	await[*dap.ContinueResponse](c)

	select {
	case err := <-scriptDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("script never completed")
	}
}

func TestVariablesSetVariableAndEvaluate(t *testing.T) {
	c, _, _, scriptDone := newHarness(t)
	c.initializeAndAttach()
	awaitStopped(c, "entry")

	c.send(&dap.SetBreakpointsRequest{
		Request: c.request("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: "main.lua"},
			Breakpoints: []dap.SourceBreakpoint{{Line: 5}},
		},
	})
	await[*dap.SetBreakpointsResponse](c)
	c.send(&dap.ContinueRequest{Request: c.request("continue"), Arguments: dap.ContinueArguments{ThreadId: 1}})
	await[*dap.ContinueResponse](c)
	awaitStopped(c, "breakpoint")

	c.send(&dap.StackTraceRequest{Request: c.request("stackTrace"), Arguments: dap.StackTraceArguments{ThreadId: 1}})
	stResp := await[*dap.StackTraceResponse](c)
	frameID := stResp.Body.StackFrames[0].Id

	c.send(&dap.ScopesRequest{Request: c.request("scopes"), Arguments: dap.ScopesArguments{FrameId: frameID}})
	scResp := await[*dap.ScopesResponse](c)
	localsRef := scResp.Body.Scopes[0].VariablesReference

	c.send(&dap.VariablesRequest{Request: c.request("variables"), Arguments: dap.VariablesArguments{VariablesReference: localsRef}})
	vResp := await[*dap.VariablesResponse](c)
	byName := map[string]dap.Variable{}
	for _, v := range vResp.Body.Variables {
		byName[v.Name] = v
	}
	require.Equal(t, "1", byName["i"].Value)
	require.Equal(t, "lo", byName["s"].Value)
	require.NotZero(t, byName["t"].VariablesReference, "tables get a child scope")

	// Expanding the table yields its entries.
	c.send(&dap.VariablesRequest{Request: c.request("variables"), Arguments: dap.VariablesArguments{VariablesReference: byName["t"].VariablesReference}})
	tResp := await[*dap.VariablesResponse](c)
	entries := map[string]string{}
	for _, v := range tResp.Body.Variables {
		entries[v.Name] = v.Value
	}
	require.Equal(t, "1", entries["a"])
	require.Equal(t, "2", entries["b"])

	// setVariable on a string local: value "hi", reference 0, and the
	// next variables request observes it.
	c.send(&dap.SetVariableRequest{
		Request:   c.request("setVariable"),
		Arguments: dap.SetVariableArguments{VariablesReference: localsRef, Name: "s", Value: `"hi"`},
	})
	await[*dap.InvalidatedEvent](c)
	svResp := await[*dap.SetVariableResponse](c)
	require.Equal(t, "hi", svResp.Body.Value)
	require.Zero(t, svResp.Body.VariablesReference)

	c.send(&dap.VariablesRequest{Request: c.request("variables"), Arguments: dap.VariablesArguments{VariablesReference: localsRef}})
	vResp2 := await[*dap.VariablesResponse](c)
	for _, v := range vResp2.Body.Variables {
		if v.Name == "s" {
			require.Equal(t, "hi", v.Value)
		}
	}

	// Evaluate `t` in the REPL: a table result with a non-zero
	// variablesReference.
	c.send(&dap.EvaluateRequest{
		Request:   c.request("evaluate"),
		Arguments: dap.EvaluateArguments{Expression: "t", FrameId: frameID, Context: "repl"},
	})
	eResp := await[*dap.EvaluateResponse](c)
	require.Equal(t, "table", eResp.Body.Type)
	require.NotZero(t, eResp.Body.VariablesReference)

	c.send(&dap.ContinueRequest{Request: c.request("continue"), Arguments: dap.ContinueArguments{ThreadId: 1}})
	await[*dap.ContinueResponse](c)

	select {
	case err := <-scriptDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("script never completed")
	}
}

func TestDisconnectWhilePausedResumesScript(t *testing.T) {
	c, _, _, scriptDone := newHarness(t)
	c.initializeAndAttach()
	awaitStopped(c, "entry")

	c.send(&dap.DisconnectRequest{Request: c.request("disconnect")})
	await[*dap.DisconnectResponse](c)

	select {
	case err := <-scriptDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("the VM must resume and run to completion after disconnect")
	}
}

func TestRequestsRequiringPausedStateFailWhileRunning(t *testing.T) {
	c, _, _, scriptDone := newHarness(t)
	c.initializeAndAttach()
	awaitStopped(c, "entry")

	c.send(&dap.ContinueRequest{Request: c.request("continue"), Arguments: dap.ContinueArguments{ThreadId: 1}})
	await[*dap.ContinueResponse](c)
	require.NoError(t, <-scriptDone)

	// The script has finished; variables now requires a paused VM.
	c.send(&dap.VariablesRequest{Request: c.request("variables"), Arguments: dap.VariablesArguments{VariablesReference: 1}})
	errResp := await[*dap.ErrorResponse](c)
	require.False(t, errResp.Success)
	require.Equal(t, stateErrorID, errResp.Body.Error.Id)
}

func TestParseVectorLiteral(t *testing.T) {
	v, ok := parseVectorLiteral("(1, 2.5, -3)")
	require.True(t, ok)
	require.Equal(t, vmhost.KindVector3, v.Kind)
	require.Equal(t, [3]float64{1, 2.5, -3}, v.Vec)

	_, ok = parseVectorLiteral("(1, 2)")
	require.False(t, ok)
	_, ok = parseVectorLiteral("nope")
	require.False(t, ok)
}

func TestVariableNameForIntIndex(t *testing.T) {
	idx := 3
	require.Equal(t, "[3]", variableName(&scopes.Variable{IntIndex: &idx}))
	require.Equal(t, "x", variableName(&scopes.Variable{Name: "x"}))
}
