package dapserver

import (
	"bufio"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-dap"

	"github.com/sssooonnnggg/luaud/internal/errs"
	"github.com/sssooonnnggg/luaud/internal/ids"
	"github.com/sssooonnnggg/luaud/internal/logging"
	"github.com/sssooonnnggg/luaud/internal/tracing"
)

// quiescence is slept before tearing a session down, flushing any
// still-queued outbound errors.
const quiescence = 100 * time.Millisecond

// Session serves one connected DAP client. It is also the bridge's
// EventSink for the lifetime of the connection.
type Session struct {
	host   *Host
	conn   io.ReadWriteCloser
	reader *bufio.Reader

	id  string
	log *logging.SessionLogger

	sendMu sync.Mutex

	disconnected atomic.Bool
	launchExit   bool
}

// NewSession wraps an accepted connection.
func NewSession(conn io.ReadWriteCloser, host *Host) *Session {
	id := ids.NewSessionID()
	return &Session{
		host:   host,
		conn:   conn,
		reader: bufio.NewReader(conn),
		id:     id,
		log:    host.Log.With(id),
	}
}

// ID returns the session's correlation identifier.
func (s *Session) ID() string { return s.id }

// Serve reads and handles protocol messages until the client hangs up
// or disconnects. Requests from a single client are handled in order;
// the response for each is produced before the next request is read.
func (s *Session) Serve() error {
	s.log.Infof("client connected")
	if s.host.Metrics != nil {
		s.host.Metrics.SessionOpened()
	}
	defer func() {
		if s.host.Metrics != nil {
			s.host.Metrics.SessionClosed()
		}
		s.teardown()
	}()

	for {
		msg, err := dap.ReadProtocolMessage(s.reader)
		if err != nil {
			if err == io.EOF || s.disconnected.Load() {
				s.log.Infof("client gone")
				return nil
			}
			// Invalid DAP payload: the session closes on protocol
			// errors rather than trying to resynchronize the stream.
			s.log.Errorf("protocol read: %v", err)
			return errs.Protocolf("read: %v", err)
		}
		s.handle(msg)
		if s.disconnected.Load() {
			return nil
		}
	}
}

// teardown releases the paused VM if the client vanished without a
// disconnect request, so a dead session never wedges execution.
func (s *Session) teardown() {
	if !s.disconnected.Load() {
		s.host.Step.Clear()
		s.host.VM.SingleStep(false)
		s.host.Bridge.Disconnect()
	}
	time.Sleep(quiescence)
	s.conn.Close()
	if s.launchExit && s.host.OnLaunchExit != nil {
		s.host.OnLaunchExit()
	}
}

func (s *Session) handle(msg dap.Message) {
	rm, ok := msg.(dap.RequestMessage)
	if !ok {
		s.log.Warnf("ignoring non-request message %T", msg)
		return
	}
	req := rm.GetRequest()

	start := time.Now()
	var handleErr error
	tracing.WithSpan(context.Background(), "dap."+req.Command, func(ctx context.Context) error {
		tracing.SetAttributes(ctx, tracing.RequestAttributes(req.Command, req.Seq, s.id)...)
		handleErr = s.dispatch(msg)
		return handleErr
	}, tracing.SpanKind.Server)

	if handleErr != nil {
		s.sendErrorResponse(req, handleErr)
	}
	if s.host.Metrics != nil {
		s.host.Metrics.RecordRequest(req.Command, handleErr == nil, time.Since(start))
	}
}

func (s *Session) dispatch(msg dap.Message) error {
	switch request := msg.(type) {
	case *dap.InitializeRequest:
		return s.onInitialize(request)
	case *dap.LaunchRequest:
		return s.onLaunch(request)
	case *dap.AttachRequest:
		return s.onAttach(request)
	case *dap.DisconnectRequest:
		return s.onDisconnect(request)
	case *dap.SetBreakpointsRequest:
		return s.onSetBreakpoints(request)
	case *dap.SetExceptionBreakpointsRequest:
		return s.onSetExceptionBreakpoints(request)
	case *dap.ConfigurationDoneRequest:
		return s.onConfigurationDone(request)
	case *dap.ContinueRequest:
		return s.onContinue(request)
	case *dap.NextRequest:
		return s.onNext(request)
	case *dap.StepInRequest:
		return s.onStepIn(request)
	case *dap.StepOutRequest:
		return s.onStepOut(request)
	case *dap.PauseRequest:
		return s.onPause(request)
	case *dap.ThreadsRequest:
		return s.onThreads(request)
	case *dap.StackTraceRequest:
		return s.onStackTrace(request)
	case *dap.ScopesRequest:
		return s.onScopes(request)
	case *dap.VariablesRequest:
		return s.onVariables(request)
	case *dap.SetVariableRequest:
		return s.onSetVariable(request)
	case *dap.EvaluateRequest:
		return s.onEvaluate(request)
	case *dap.CompletionsRequest:
		return s.onCompletions(request)
	default:
		if rm, ok := msg.(dap.RequestMessage); ok {
			s.sendUnsupported(rm.GetRequest())
		}
		return nil
	}
}

func (s *Session) send(message dap.Message) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := dap.WriteProtocolMessage(s.conn, message); err != nil {
		s.log.Warnf("write: %v", err)
	}
}

// Error response ids per errs.Kind, so clients and logs can correlate
// failures back to the taxonomy.
const (
	unsupportedErrorID = 1000
	stateErrorID       = 2000
	vmErrorID          = 3000
	hostErrorID        = 4000
	logicErrorID       = 5000
	unknownErrorID     = 9999
)

func errorID(err error) int {
	e, ok := errs.As(err)
	if !ok {
		return unknownErrorID
	}
	switch e.Kind {
	case errs.State:
		return stateErrorID
	case errs.VM:
		return vmErrorID
	case errs.Host:
		return hostErrorID
	case errs.Logic:
		return logicErrorID
	default:
		return unknownErrorID
	}
}

func (s *Session) sendErrorResponse(req *dap.Request, err error) {
	id := errorID(err)
	r := &dap.ErrorResponse{}
	r.Response = *newResponse(req.Seq, req.Command)
	r.Success = false
	r.Message = err.Error()
	r.Body.Error = &dap.ErrorMessage{
		Id:       id,
		Format:   err.Error(),
		ShowUser: id == vmErrorID,
	}
	s.send(r)

	// VM errors carry a script-side diagnostic that's also worth
	// showing in the Debug Console.
	if e, ok := errs.As(err); ok {
		if s.host.Metrics != nil {
			s.host.Metrics.RecordRequestError(req.Command, e.Kind.String())
		}
		if e.Kind == errs.VM && e.Diagnostic != "" {
			s.OutputEvent("stderr", e.Diagnostic)
		}
	}
}

func (s *Session) sendUnsupported(req *dap.Request) {
	s.log.Warnf("unsupported request %q", req.Command)
	r := &dap.ErrorResponse{}
	r.Response = *newResponse(req.Seq, req.Command)
	r.Success = false
	r.Message = "unsupported"
	r.Body.Error = &dap.ErrorMessage{
		Id:     unsupportedErrorID,
		Format: "unsupported request: " + req.Command,
	}
	s.send(r)
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

// --- bridge.EventSink ---

// Stopped emits the stopped event opening a Break episode.
func (s *Session) Stopped(reason string, threadID int, source string, line int) {
	if s.host.Metrics != nil {
		s.host.Metrics.RecordBreak(reason)
	}
	if s.host.Audit != nil {
		s.host.Audit.RecordBreak(s.id, reason, source, line)
	}
	if s.host.Observer != nil {
		s.host.Observer.Publish("stopped", map[string]interface{}{
			"reason": reason, "threadId": threadID, "source": source, "line": line,
		})
	}
	s.send(&dap.StoppedEvent{
		Event: *newEvent("stopped"),
		Body: dap.StoppedEventBody{
			Reason:            reason,
			ThreadId:          threadID,
			AllThreadsStopped: true,
		},
	})
}

// OutputEvent forwards console text to the client.
func (s *Session) OutputEvent(category, text string) {
	if len(text) == 0 || text[len(text)-1] != '\n' {
		text += "\n"
	}
	if s.host.Observer != nil {
		s.host.Observer.Publish("output", map[string]interface{}{
			"category": category, "text": text,
		})
	}
	s.send(&dap.OutputEvent{
		Event: *newEvent("output"),
		Body:  dap.OutputEventBody{Category: category, Output: text},
	})
}

// Invalidated tells the client its cached variable views are stale.
func (s *Session) Invalidated() {
	s.send(&dap.InvalidatedEvent{
		Event: *newEvent("invalidated"),
		Body:  dap.InvalidatedEventBody{Areas: []dap.InvalidatedAreas{"variables"}},
	})
}

// Continued announces a resume initiated outside a continue request.
func (s *Session) Continued(threadID int) {
	if s.host.Observer != nil {
		s.host.Observer.Publish("continued", map[string]interface{}{"threadId": threadID})
	}
	s.send(&dap.ContinuedEvent{
		Event: *newEvent("continued"),
		Body:  dap.ContinuedEventBody{ThreadId: threadID, AllThreadsContinued: true},
	})
}

// Exited reports the debuggee's exit code.
func (s *Session) Exited(code int) {
	s.send(&dap.ExitedEvent{
		Event: *newEvent("exited"),
		Body:  dap.ExitedEventBody{ExitCode: code},
	})
}

// Terminated reports the end of the debug session.
func (s *Session) Terminated() {
	s.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
}
