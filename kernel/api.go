package kernel

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gojupyter/kernelclient/comm"
	"github.com/gojupyter/kernelclient/future"
	"github.com/gojupyter/kernelclient/jkerrors"
	"github.com/gojupyter/kernelclient/wire"
)

// requestReply sends msgType/content as a shell request and blocks until
// either its reply arrives or ctx is done. The OnReply/OnDone callbacks are
// registered inside the same dispatch-goroutine action as the send itself,
// so there is no window in which an already-queued incoming reply could be
// processed before the callbacks are attached (spec §5's single-writer
// guarantee is what makes this safe without a separate lock).
func (e *Engine) requestReply(ctx context.Context, msgType string, content map[string]interface{}, out interface{}) error {
	msg := e.newShellMessage(msgType, content)
	replyCh := make(chan map[string]interface{}, 1)
	doneCh := make(chan error, 1)

	var sendErr error
	e.do(func() {
		sendErr = e.sendShellMessageLocked(msg, true, true)
		if sendErr != nil {
			return
		}
		f, _ := e.futures.Get(msg.Header.MsgID)
		f.OnReply(func(content map[string]interface{}) {
			select {
			case replyCh <- content:
			default:
			}
		})
		f.OnTerminate(func(err error) {
			select {
			case doneCh <- err:
			default:
			}
		})
	})
	if sendErr != nil {
		return sendErr
	}

	select {
	case content := <-replyCh:
		if out != nil {
			return mapToStruct(content, out)
		}
		return nil
	case err := <-doneCh:
		return err
	case <-ctx.Done():
		if f, ok := e.futures.Get(msg.Header.MsgID); ok {
			f.Dispose()
		}
		return ctx.Err()
	}
}

// KernelInfo sends a kernel_info_request and returns its reply content.
func (e *Engine) KernelInfo(ctx context.Context) (KernelInfoReply, error) {
	var reply KernelInfoReply
	err := e.requestReply(ctx, "kernel_info_request", nil, &reply)
	return reply, err
}

// Complete sends a complete_request and returns its reply content.
func (e *Engine) Complete(ctx context.Context, req CompleteRequest) (CompleteReply, error) {
	content, err := toContent(req)
	if err != nil {
		return CompleteReply{}, err
	}
	var reply CompleteReply
	err = e.requestReply(ctx, "complete_request", content, &reply)
	return reply, err
}

// Inspect sends an inspect_request and returns its reply content.
func (e *Engine) Inspect(ctx context.Context, req InspectRequest) (InspectReply, error) {
	content, err := toContent(req)
	if err != nil {
		return InspectReply{}, err
	}
	var reply InspectReply
	err = e.requestReply(ctx, "inspect_request", content, &reply)
	return reply, err
}

// History sends a history_request and returns its reply content.
func (e *Engine) History(ctx context.Context, req HistoryRequest) (HistoryReply, error) {
	content, err := toContent(req)
	if err != nil {
		return HistoryReply{}, err
	}
	var reply HistoryReply
	err = e.requestReply(ctx, "history_request", content, &reply)
	return reply, err
}

// IsComplete sends an is_complete_request and returns its reply content.
func (e *Engine) IsComplete(ctx context.Context, req IsCompleteRequest) (IsCompleteReply, error) {
	content, err := toContent(req)
	if err != nil {
		return IsCompleteReply{}, err
	}
	var reply IsCompleteReply
	err = e.requestReply(ctx, "is_complete_request", content, &reply)
	return reply, err
}

// CommInfo sends a comm_info_request and returns its reply content.
func (e *Engine) CommInfo(ctx context.Context, req CommInfoRequest) (CommInfoReply, error) {
	content, err := toContent(req)
	if err != nil {
		return CommInfoReply{}, err
	}
	var reply CommInfoReply
	err = e.requestReply(ctx, "comm_info_request", content, &reply)
	return reply, err
}

// executeDefaults fills the defaults spec §4.F requires before sending an
// execute_request, regardless of how the caller built the ExecuteRequest.
// Silent/StopOnError default to false (Go's zero value is already
// correct); StoreHistory/AllowStdin default to true and are pointers for
// exactly that reason — a bare ExecuteRequest{Code: ...} must still end up
// with both true on the wire.
func executeDefaults(req ExecuteRequest) ExecuteRequest {
	if req.UserExpressions == nil {
		req.UserExpressions = map[string]interface{}{}
	}
	if req.StoreHistory == nil {
		req.StoreHistory = boolPtr(true)
	}
	if req.AllowStdin == nil {
		req.AllowStdin = boolPtr(true)
	}
	return req
}

func boolPtr(b bool) *bool { return &b }

// NewExecuteRequest builds an ExecuteRequest with spec §4.F's defaults:
// silent=false, store_history=true, user_expressions={}, allow_stdin=true,
// stop_on_error=false.
func NewExecuteRequest(code string) ExecuteRequest {
	return executeDefaults(ExecuteRequest{Code: code})
}

// Execute sends an execute_request (expectReply=true always, per spec
// §4.F). disposeOnDone has no default: callers pass it explicitly, and
// true evicts the Future once it completes.
func (e *Engine) Execute(req ExecuteRequest, disposeOnDone bool) (*future.Future, error) {
	req = executeDefaults(req)
	content, err := toContent(req)
	if err != nil {
		return nil, errors.WithMessage(err, "kernel: encoding execute_request")
	}
	msg := e.newShellMessage("execute_request", content)
	return e.SendShellMessage(msg, true, disposeOnDone)
}

// SendInputReply replies to a kernel input_request on the stdin channel,
// fire-and-forget. Like SendShellMessage, this is a documented synchronous
// failure point on a Dead engine (spec §7).
func (e *Engine) SendInputReply(req InputReply) error {
	if e.Status() == StatusDead {
		return jkerrors.ErrKernelDead
	}
	content, err := toContent(req)
	if err != nil {
		return errors.WithMessage(err, "kernel: encoding input_reply")
	}
	var sendErr error
	e.do(func() {
		msg := wire.NewMessage(e.session, e.username, "input_reply", wire.ChannelStdin, content, nil)
		data, isBinary, encErr := wire.Encode(msg)
		if encErr != nil {
			sendErr = errors.WithMessage(encErr, "kernel: encoding input_reply frame")
			return
		}
		sendErr = e.socket.Send(data, !isBinary)
	})
	return sendErr
}

// RegisterCommTarget installs a local handler for server-initiated
// comm_open messages naming targetName. Returns a disposer.
func (e *Engine) RegisterCommTarget(targetName string, fn comm.TargetFunc) (dispose func()) {
	e.comms.RegisterTarget(targetName, fn)
	return func() { e.comms.UnregisterTarget(targetName) }
}

// ConnectToComm performs a client-initiated comm open.
func (e *Engine) ConnectToComm(targetName, commID string, data, metadata map[string]interface{}) (*comm.Comm, error) {
	return e.comms.Open(targetName, commID, data, metadata)
}
