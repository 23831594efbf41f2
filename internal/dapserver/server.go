package dapserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/go-dap"
	"github.com/google/uuid"

	"github.com/novaide/nova-debug/internal/config"
	"github.com/novaide/nova-debug/internal/debugger"
	apperrors "github.com/novaide/nova-debug/internal/errors"
	"github.com/novaide/nova-debug/internal/jdwp"
	"github.com/novaide/nova-debug/pkg/types"
)

// errShutdown stops the session loop after a disconnect request.
var errShutdown = errors.New("session shutdown")

// Session serves one DAP client over one transport.
type Session struct {
	id     string
	t      *Transport
	cfg    *config.Config
	logger *slog.Logger

	// mu serializes the request handlers against the event pump; the
	// debugger core relies on having a single caller at a time.
	mu     sync.Mutex
	dbg    *debugger.Debugger
	conn   *jdwp.Connection
	status types.SessionStatus

	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
}

// NewSession creates a session over the given transport.
func NewSession(t *Transport, cfg *config.Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		t:      t,
		cfg:    cfg,
		logger: logger.With("session", id),
		status: types.SessionStatusAttaching,
	}
}

// Info summarizes the session.
func (s *Session) Info() types.SessionInfo {
	return types.SessionInfo{SessionID: s.id, Address: s.cfg.Address(), Status: s.status}
}

// Run reads and dispatches client requests until the client disconnects.
func (s *Session) Run(ctx context.Context) error {
	defer s.teardown()
	for {
		msg, err := s.t.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := s.dispatch(ctx, msg); err != nil {
			if errors.Is(err, errShutdown) {
				return nil
			}
			return err
		}
	}
}

func (s *Session) teardown() {
	if s.pumpCancel != nil {
		s.pumpCancel()
		<-s.pumpDone
	}
	if s.dbg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
		defer cancel()
		s.mu.Lock()
		_ = s.dbg.Disconnect(ctx)
		s.mu.Unlock()
	}
	s.status = types.SessionStatusTerminated
}

func (s *Session) dispatch(ctx context.Context, msg dap.Message) error {
	req, ok := msg.(dap.RequestMessage)
	if !ok {
		s.logger.Warn("ignoring non-request message")
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var err error
	switch r := msg.(type) {
	case *dap.InitializeRequest:
		err = s.onInitialize(r)
	case *dap.AttachRequest:
		err = s.onAttach(rctx, r)
	case *dap.LaunchRequest:
		err = s.sendError(req.GetRequest(), apperrors.Unsupported("launch; this adapter attaches to a running VM"))
	case *dap.ConfigurationDoneRequest:
		err = s.t.Send(&dap.ConfigurationDoneResponse{Response: newResponse(r.Request)})
	case *dap.SetBreakpointsRequest:
		err = s.onSetBreakpoints(rctx, r)
	case *dap.SetFunctionBreakpointsRequest:
		err = s.onSetFunctionBreakpoints(rctx, r)
	case *dap.DataBreakpointInfoRequest:
		err = s.onDataBreakpointInfo(rctx, r)
	case *dap.SetDataBreakpointsRequest:
		err = s.onSetDataBreakpoints(rctx, r)
	case *dap.ThreadsRequest:
		err = s.onThreads(rctx, r)
	case *dap.StackTraceRequest:
		err = s.onStackTrace(rctx, r)
	case *dap.ScopesRequest:
		err = s.onScopes(rctx, r)
	case *dap.VariablesRequest:
		err = s.onVariables(rctx, r)
	case *dap.SetVariableRequest:
		err = s.onSetVariable(rctx, r)
	case *dap.EvaluateRequest:
		err = s.onEvaluate(rctx, r)
	case *dap.ContinueRequest:
		err = s.onContinue(rctx, r)
	case *dap.NextRequest:
		err = s.onStep(rctx, r.Request, r.Arguments.ThreadId, jdwp.StepOver)
	case *dap.StepInRequest:
		err = s.onStepIn(rctx, r)
	case *dap.StepOutRequest:
		err = s.onStep(rctx, r.Request, r.Arguments.ThreadId, jdwp.StepOut)
	case *dap.StepInTargetsRequest:
		err = s.onStepInTargets(rctx, r)
	case *dap.PauseRequest:
		err = s.onPause(rctx, r)
	case *dap.ExceptionInfoRequest:
		err = s.onExceptionInfo(rctx, r)
	case *dap.DisconnectRequest:
		if err := s.t.Send(&dap.DisconnectResponse{Response: newResponse(r.Request)}); err != nil {
			return err
		}
		return errShutdown
	default:
		err = s.sendError(req.GetRequest(), apperrors.Unsupported(
			fmt.Sprintf("request %q", req.GetRequest().Command)))
	}
	if err != nil {
		return err
	}
	return s.flushUpdates()
}

// flushUpdates forwards breakpoint-changed events queued during the last
// request.
func (s *Session) flushUpdates() error {
	if s.dbg == nil {
		return nil
	}
	s.mu.Lock()
	updates := s.dbg.DrainBreakpointUpdates()
	s.mu.Unlock()
	for _, m := range updates {
		if err := s.t.Send(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) onInitialize(r *dap.InitializeRequest) error {
	resp := &dap.InitializeResponse{Response: newResponse(r.Request)}
	resp.Body = dap.Capabilities{
		SupportsConfigurationDoneRequest:  true,
		SupportsFunctionBreakpoints:       true,
		SupportsConditionalBreakpoints:    true,
		SupportsHitConditionalBreakpoints: true,
		SupportsLogPoints:                 true,
		SupportsDataBreakpoints:           true,
		SupportsStepInTargetsRequest:      true,
		SupportsSetVariable:               true,
		SupportsExceptionInfoRequest:      true,
		SupportsEvaluateForHovers:         true,
	}
	return s.t.Send(resp)
}

func (s *Session) onAttach(ctx context.Context, r *dap.AttachRequest) error {
	if s.dbg != nil {
		return s.sendError(&r.Request, apperrors.New(apperrors.CodeInvalidParameter, "already attached"))
	}

	var args types.AttachArguments
	if len(r.Arguments) > 0 {
		if err := json.Unmarshal(r.Arguments, &args); err != nil {
			return s.sendError(&r.Request, apperrors.InvalidParameter("arguments", err.Error()))
		}
	}
	host, port := s.cfg.Host, s.cfg.Port
	if args.Host != "" {
		host = args.Host
	}
	if args.Port != 0 {
		port = args.Port
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	breakOnUncaught := s.cfg.BreakOnUncaught
	if args.BreakOnUncaught != nil {
		breakOnUncaught = *args.BreakOnUncaught
	}

	var conn *jdwp.Connection
	dbg := debugger.New(debugger.Options{
		Dialer: func(ctx context.Context) (debugger.Conn, error) {
			c, err := jdwp.Dial(ctx, addr, s.logger)
			if err != nil {
				return nil, err
			}
			conn = c
			return c, nil
		},
		Logger:          s.logger,
		Address:         addr,
		AttachTimeout:   s.cfg.AttachTimeout,
		AttachRetryBase: s.cfg.AttachRetryBase,
		PageSize:        s.cfg.PageSize,
		BreakOnUncaught: breakOnUncaught,
	})

	// Attach gets its own deadline: the retry policy may legitimately
	// outlive a single request timeout.
	actx, cancel := context.WithTimeout(context.Background(), s.cfg.AttachTimeout+s.cfg.RequestTimeout)
	defer cancel()
	if err := dbg.Attach(actx); err != nil {
		return s.sendError(&r.Request, err)
	}
	s.dbg = dbg
	s.conn = conn
	s.status = types.SessionStatusRunning

	pctx, pcancel := context.WithCancel(context.Background())
	s.pumpCancel = pcancel
	s.pumpDone = make(chan struct{})
	go s.pumpEvents(pctx)

	if err := s.t.Send(&dap.AttachResponse{Response: newResponse(r.Request)}); err != nil {
		return err
	}
	return s.t.Send(&dap.InitializedEvent{Event: newEvent("initialized")})
}

// pumpEvents folds VM events into the debugger and forwards the resulting
// client events. It shares the session mutex with the request handlers.
func (s *Session) pumpEvents(ctx context.Context) {
	defer close(s.pumpDone)
	for {
		var composite jdwp.Events
		var ok bool
		select {
		case <-ctx.Done():
			return
		case composite, ok = <-s.conn.Events():
			if !ok {
				return
			}
		}

		s.mu.Lock()
		msgs, err := s.dbg.HandleEvent(ctx, composite)
		msgs = append(msgs, s.dbg.DrainBreakpointUpdates()...)
		s.mu.Unlock()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("event handling failed", "err", err)
		}
		for _, m := range msgs {
			if err := s.t.Send(m); err != nil {
				s.logger.Error("event send failed", "err", err)
				return
			}
		}
	}
}

func (s *Session) onSetBreakpoints(ctx context.Context, r *dap.SetBreakpointsRequest) error {
	dbg, err := s.debuggerFor(&r.Request)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	bps, err := dbg.SetBreakpoints(ctx, r.Arguments.Source.Path, r.Arguments.Breakpoints)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&r.Request, err)
	}
	resp := &dap.SetBreakpointsResponse{Response: newResponse(r.Request)}
	resp.Body.Breakpoints = bps
	return s.t.Send(resp)
}

func (s *Session) onSetFunctionBreakpoints(ctx context.Context, r *dap.SetFunctionBreakpointsRequest) error {
	dbg, err := s.debuggerFor(&r.Request)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	bps, err := dbg.SetFunctionBreakpoints(ctx, r.Arguments.Breakpoints)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&r.Request, err)
	}
	resp := &dap.SetFunctionBreakpointsResponse{Response: newResponse(r.Request)}
	resp.Body.Breakpoints = bps
	return s.t.Send(resp)
}

func (s *Session) onDataBreakpointInfo(ctx context.Context, r *dap.DataBreakpointInfoRequest) error {
	dbg, err := s.debuggerFor(&r.Request)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	body, err := dbg.DataBreakpointInfo(ctx, r.Arguments.VariablesReference, r.Arguments.Name)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&r.Request, err)
	}
	resp := &dap.DataBreakpointInfoResponse{Response: newResponse(r.Request)}
	resp.Body = body
	return s.t.Send(resp)
}

func (s *Session) onSetDataBreakpoints(ctx context.Context, r *dap.SetDataBreakpointsRequest) error {
	dbg, err := s.debuggerFor(&r.Request)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	bps, err := dbg.SetDataBreakpoints(ctx, r.Arguments.Breakpoints)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&r.Request, err)
	}
	resp := &dap.SetDataBreakpointsResponse{Response: newResponse(r.Request)}
	resp.Body.Breakpoints = bps
	return s.t.Send(resp)
}

func (s *Session) onThreads(ctx context.Context, r *dap.ThreadsRequest) error {
	dbg, err := s.debuggerFor(&r.Request)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	threads, err := dbg.Threads(ctx)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&r.Request, err)
	}
	resp := &dap.ThreadsResponse{Response: newResponse(r.Request)}
	resp.Body.Threads = threads
	return s.t.Send(resp)
}

func (s *Session) onStackTrace(ctx context.Context, r *dap.StackTraceRequest) error {
	dbg, err := s.debuggerFor(&r.Request)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	frames, total, err := dbg.StackTrace(ctx, r.Arguments.ThreadId, r.Arguments.StartFrame, r.Arguments.Levels)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&r.Request, err)
	}
	resp := &dap.StackTraceResponse{Response: newResponse(r.Request)}
	resp.Body = dap.StackTraceResponseBody{StackFrames: frames, TotalFrames: total}
	return s.t.Send(resp)
}

func (s *Session) onScopes(ctx context.Context, r *dap.ScopesRequest) error {
	dbg, err := s.debuggerFor(&r.Request)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	scopes, err := dbg.Scopes(ctx, r.Arguments.FrameId)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&r.Request, err)
	}
	resp := &dap.ScopesResponse{Response: newResponse(r.Request)}
	resp.Body.Scopes = scopes
	return s.t.Send(resp)
}

func (s *Session) onVariables(ctx context.Context, r *dap.VariablesRequest) error {
	dbg, err := s.debuggerFor(&r.Request)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	vars, err := dbg.Variables(ctx, r.Arguments.VariablesReference, r.Arguments.Start, r.Arguments.Count)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&r.Request, err)
	}
	resp := &dap.VariablesResponse{Response: newResponse(r.Request)}
	resp.Body.Variables = vars
	return s.t.Send(resp)
}

func (s *Session) onSetVariable(ctx context.Context, r *dap.SetVariableRequest) error {
	dbg, err := s.debuggerFor(&r.Request)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	v, err := dbg.SetVariable(ctx, r.Arguments.VariablesReference, r.Arguments.Name, r.Arguments.Value)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&r.Request, err)
	}
	resp := &dap.SetVariableResponse{Response: newResponse(r.Request)}
	resp.Body = dap.SetVariableResponseBody{
		Value:              v.Value,
		Type:               v.Type,
		VariablesReference: v.VariablesReference,
		IndexedVariables:   v.IndexedVariables,
	}
	return s.t.Send(resp)
}

func (s *Session) onEvaluate(ctx context.Context, r *dap.EvaluateRequest) error {
	dbg, err := s.debuggerFor(&r.Request)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	body, err := dbg.Evaluate(ctx, r.Arguments.FrameId, r.Arguments.Expression)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&r.Request, err)
	}
	resp := &dap.EvaluateResponse{Response: newResponse(r.Request)}
	resp.Body = body
	return s.t.Send(resp)
}

func (s *Session) onContinue(ctx context.Context, r *dap.ContinueRequest) error {
	dbg, err := s.debuggerFor(&r.Request)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	err = dbg.Continue(ctx)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&r.Request, err)
	}
	resp := &dap.ContinueResponse{Response: newResponse(r.Request)}
	resp.Body.AllThreadsContinued = true
	return s.t.Send(resp)
}

func (s *Session) onStep(ctx context.Context, req dap.Request, threadID int, depth jdwp.StepDepth) error {
	dbg, err := s.debuggerFor(&req)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	err = dbg.Step(ctx, jdwp.ThreadID(threadID), depth)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&req, err)
	}
	resp := newResponse(req)
	if req.Command == "next" {
		return s.t.Send(&dap.NextResponse{Response: resp})
	}
	return s.t.Send(&dap.StepOutResponse{Response: resp})
}

func (s *Session) onStepIn(ctx context.Context, r *dap.StepInRequest) error {
	dbg, err := s.debuggerFor(&r.Request)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	err = dbg.StepIn(ctx, jdwp.ThreadID(r.Arguments.ThreadId), r.Arguments.TargetId)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&r.Request, err)
	}
	return s.t.Send(&dap.StepInResponse{Response: newResponse(r.Request)})
}

func (s *Session) onStepInTargets(ctx context.Context, r *dap.StepInTargetsRequest) error {
	dbg, err := s.debuggerFor(&r.Request)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	targets, err := dbg.StepInTargets(ctx, r.Arguments.FrameId)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&r.Request, err)
	}
	resp := &dap.StepInTargetsResponse{Response: newResponse(r.Request)}
	resp.Body.Targets = targets
	return s.t.Send(resp)
}

func (s *Session) onPause(ctx context.Context, r *dap.PauseRequest) error {
	dbg, err := s.debuggerFor(&r.Request)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	stoppedEv, err := dbg.Pause(ctx, r.Arguments.ThreadId)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&r.Request, err)
	}
	if err := s.t.Send(&dap.PauseResponse{Response: newResponse(r.Request)}); err != nil {
		return err
	}
	return s.t.Send(stoppedEv)
}

func (s *Session) onExceptionInfo(ctx context.Context, r *dap.ExceptionInfoRequest) error {
	dbg, err := s.debuggerFor(&r.Request)
	if err != nil || dbg == nil {
		return err
	}
	s.mu.Lock()
	body, err := dbg.ExceptionInfo(ctx, r.Arguments.ThreadId)
	s.mu.Unlock()
	if err != nil {
		return s.sendError(&r.Request, err)
	}
	resp := &dap.ExceptionInfoResponse{Response: newResponse(r.Request)}
	resp.Body = body
	return s.t.Send(resp)
}

// debuggerFor returns the live debugger, or sends a not-attached error and
// returns nil.
func (s *Session) debuggerFor(req *dap.Request) (*debugger.Debugger, error) {
	if s.dbg == nil {
		return nil, s.sendError(req, apperrors.NotAttached())
	}
	return s.dbg, nil
}

// sendError turns an internal error into a DAP error response.
func (s *Session) sendError(req *dap.Request, err error) error {
	s.logger.Debug("request failed", "command", req.Command, "err", err)
	resp := &dap.ErrorResponse{}
	resp.Response = newResponse(*req)
	resp.Success = false
	resp.Message = err.Error()
	em := &dap.ErrorMessage{Id: errorID(err), Format: err.Error(), ShowUser: true}
	if de, ok := apperrors.AsDebugError(err); ok && de.Hint != "" {
		em.Format = de.Message + "\n" + de.Hint
	}
	resp.Body.Error = em
	return s.t.Send(resp)
}

// errorID maps error categories onto stable numeric ids for clients that
// key on them.
func errorID(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.CodeNotAttached:
		return 1001
	case apperrors.CodeAttachFailed:
		return 1002
	case apperrors.CodeSessionTerminated:
		return 1003
	case apperrors.CodeStaleHandle:
		return 1004
	case apperrors.CodeThreadNotStopped:
		return 1005
	case apperrors.CodeUnsupported:
		return 1007
	case apperrors.CodeInvalidParameter, apperrors.CodeMissingParameter:
		return 1008
	}
	return 1000
}

func newResponse(req dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		Command:         req.Command,
		RequestSeq:      req.Seq,
		Success:         true,
	}
}

func newEvent(name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Type: "event"},
		Event:           name,
	}
}
