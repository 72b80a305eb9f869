// Package kernel implements the Kernel Channel Engine: the top-level
// coordinator owning one Managed Socket, one Future Registry, and one Comm
// Registry for a single kernel connection.
//
// Grounded on the teacher's kernel/kernel.go (constructor wiring sockets
// plus polling goroutines, Stop/ExitWait lifecycle becomes
// NewEngine/Dispose), kernel/messages.go for the typed request/reply shape,
// and internal/dispatcher/dispatcher.go for the per-channel dispatch loop
// and its BusyMessageTypes-driven status bookkeeping, generalized here into
// a single action queue that serializes every engine mutation onto one
// goroutine (spec §5's single-threaded-cooperative execution model).
package kernel

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gojupyter/kernelclient/comm"
	"github.com/gojupyter/kernelclient/future"
	"github.com/gojupyter/kernelclient/internal/runtime"
	"github.com/gojupyter/kernelclient/internal/transport"
	"github.com/gojupyter/kernelclient/internal/xid"
	"github.com/gojupyter/kernelclient/jkerrors"
	"github.com/gojupyter/kernelclient/restclient"
	"github.com/gojupyter/kernelclient/wire"
)

// RESTClient is the subset of *restclient.Client the engine depends on, for
// interrupt/restart/shutdown and spec lookup.
type RESTClient interface {
	Interrupt(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) (restclient.KernelModel, error)
	DeleteKernel(ctx context.Context, id string) error
	GetKernelSpecs(ctx context.Context) (restclient.SpecsBundle, error)
}

// Config supplies everything NewEngine needs to attach to one server-side
// kernel id.
type Config struct {
	BaseURL      string
	WSURL        string
	Token        string
	Username     string
	ClientID     string // session_id query parameter; generated if empty
	Name         string // kernel type name (e.g. "python3")
	ID           string // server-assigned kernel id

	REST         RESTClient
	ModuleLoader comm.ModuleLoader
	Dialer       transport.Dialer
	ReconnectLimit int
}

// Engine is the Kernel Channel Engine for one server kernel id. All
// exported methods are safe for concurrent use; internally every mutation
// is serialized onto a single goroutine via the actions channel.
type Engine struct {
	id       string
	name     string
	baseURL  string
	session  string // the client session id used as Header.Session
	username string
	rest     RESTClient

	socket  *transport.Socket
	futures *future.Registry
	comms   *comm.Registry

	statusSig    *broadcaster
	iopubSig     *broadcaster
	unhandledSig *broadcaster

	actions chan func()
	stopped chan struct{}
	stopOnce     sync.Once
	shutdownOnce sync.Once

	mu     sync.Mutex
	status Status
	spec   *restclient.KernelSpec
}

// ID implements internal/runtime.Engine.
func (e *Engine) ID() string { return e.id }

// NewEngine attaches a Managed Socket to
// {wsUrl}/api/kernels/{id}/channels?session_id={clientId} and starts the
// engine's dispatch loop. It sends a kernel_info_request right away; if the
// socket is not Open yet, the request waits in the socket's queue until the
// first iopub status message triggers a flush.
func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.ID == "" {
		return nil, errors.New("kernel: Config.ID is required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = xid.New()
	}

	e := &Engine{
		id:           cfg.ID,
		name:         cfg.Name,
		baseURL:      cfg.BaseURL,
		session:      clientID,
		username:     cfg.Username,
		rest:         cfg.REST,
		futures:      future.NewRegistry(),
		statusSig:    newBroadcaster(),
		iopubSig:     newBroadcaster(),
		unhandledSig: newBroadcaster(),
		actions:      make(chan func(), 256),
		stopped:      make(chan struct{}),
		status:       StatusUnknown,
	}
	e.comms = comm.NewRegistry(e, cfg.ModuleLoader)

	wsURL := strings.TrimRight(cfg.WSURL, "/") + "/api/kernels/" + url.PathEscape(cfg.ID) +
		"/channels?session_id=" + url.QueryEscape(clientID)

	var sockOpts []transport.Option
	if cfg.Dialer != nil {
		sockOpts = append(sockOpts, transport.WithDialer(cfg.Dialer))
	}
	if cfg.ReconnectLimit > 0 {
		sockOpts = append(sockOpts, transport.WithReconnectLimit(cfg.ReconnectLimit))
	}
	sockOpts = append(sockOpts,
		transport.WithStateListener(e.onSocketState),
		transport.WithFrameListener(e.onFrame),
		transport.WithDeathListener(e.onSocketDead),
	)
	e.socket = transport.NewSocket(wsURL, sockOpts...)

	go e.run()
	e.socket.Start(ctx)
	runtime.Register(e)

	e.do(func() {
		msg := wire.NewMessage(e.session, e.username, "kernel_info_request", wire.ChannelShell, nil, nil)
		if err := e.sendShellMessageLocked(msg, true, true); err != nil {
			klog.Warningf("kernel: failed to send initial kernel_info_request: %+v", err)
		}
	})

	return e, nil
}

// run is the engine's single dispatch goroutine: every action-queue entry
// runs here, so no two callbacks ever race on engine state.
func (e *Engine) run() {
	for {
		select {
		case fn := <-e.actions:
			fn()
		case <-e.stopped:
			return
		}
	}
}

// do posts fn onto the action queue and blocks until it has run. Exported
// methods use this to serialize onto the single dispatch goroutine per
// spec §5.
func (e *Engine) do(fn func()) {
	done := make(chan struct{})
	select {
	case e.actions <- func() { fn(); close(done) }:
	case <-e.stopped:
		close(done)
		return
	}
	<-done
}

// SendCommMessage implements comm.Sender by routing through the engine's
// normal shell-send path with no reply expected. It calls
// sendShellMessageLocked directly, NOT via e.do — the Comm Registry invokes
// this synchronously from inside frame dispatch (a comm_open target
// callback, or the registry's own CommTargetNotFound close-back), which
// already runs on the single dispatch goroutine; routing through e.do a
// second time would deadlock it against itself.
func (e *Engine) SendCommMessage(msgType, commID string, content, metadata map[string]interface{}) error {
	msg := wire.NewMessage(e.session, e.username, msgType, wire.ChannelShell, content, metadata)
	return e.sendShellMessageLocked(msg, false, true)
}

// Status returns the engine's current lifecycle status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	cur := e.status
	if cur == StatusDead {
		e.mu.Unlock()
		return // absorbing: invariant 3
	}
	changed := cur != s
	e.status = s
	e.mu.Unlock()

	if changed {
		e.statusSig.emit(Event{Kind: EventStatusChanged, Status: s})
	}
	if s == StatusDead {
		e.disposeLocked(jkerrors.ErrKernelTerminated)
	}
}

func (e *Engine) onSocketState(st transport.State) {
	e.do(func() {
		switch st {
		case transport.StateReconnecting:
			e.setStatus(StatusReconnecting)
		case transport.StateOpen:
			// Status becomes Starting/Idle/Busy only from an explicit
			// iopub status message; Open alone does not change it.
		}
	})
}

func (e *Engine) onSocketDead(err error) {
	e.do(func() {
		e.setStatus(StatusDead)
	})
}

// onFrame is the transport's raw-frame callback; it always runs on the
// socket's own read-loop goroutine, so it must only ever enqueue work.
func (e *Engine) onFrame(isText bool, data []byte) {
	e.do(func() {
		e.handleFrame(data, isText)
	})
}

// ListenStatus subscribes to status-change events.
func (e *Engine) ListenStatus() (<-chan Event, func()) { return e.statusSig.Listen() }

// ListenIOPub subscribes to every iopub message (spec's iopubMessage signal).
func (e *Engine) ListenIOPub() (<-chan Event, func()) { return e.iopubSig.Listen() }

// ListenUnhandled subscribes to frames no Future claimed (spec's
// unhandledMessage signal).
func (e *Engine) ListenUnhandled() (<-chan Event, func()) { return e.unhandledSig.Listen() }

// sendShellMessageLocked encodes and sends one shell message and registers
// its Future. The name is historical: most callers run it from inside an
// e.do closure for the dispatch goroutine's single-writer serialization,
// but the body itself only ever touches already-synchronized state
// (e.Status's mutex, the Managed Socket, the Future Registry), so it is
// also safe to call directly from any goroutine — SendCommMessage does
// exactly that, to avoid re-entering the action queue from within frame
// dispatch.
func (e *Engine) sendShellMessageLocked(msg wire.Message, expectReply, disposeOnDone bool) error {
	if e.Status() == StatusDead {
		return jkerrors.ErrKernelDead
	}
	data, isBinary, err := wire.Encode(msg)
	if err != nil {
		return errors.WithMessage(err, "kernel: encoding outgoing message")
	}
	if err := e.socket.Send(data, !isBinary); err != nil {
		return errors.WithMessage(err, "kernel: sending message")
	}
	e.futures.New(msg.Header.MsgID, expectReply, disposeOnDone)
	return nil
}

// SendShellMessage is the generic send primitive (spec §4.F). It does not
// panic; on a Dead engine it returns jkerrors.ErrKernelDead synchronously
// without sending — per spec §7, this is the one documented
// synchronous-failure public operation besides SendInputReply.
func (e *Engine) SendShellMessage(msg wire.Message, expectReply, disposeOnDone bool) (*future.Future, error) {
	if e.Status() == StatusDead {
		return nil, jkerrors.ErrKernelDead
	}
	var f *future.Future
	var sendErr error
	e.do(func() {
		sendErr = e.sendShellMessageLocked(msg, expectReply, disposeOnDone)
		if sendErr == nil {
			f, _ = e.futures.Get(msg.Header.MsgID)
		}
	})
	return f, sendErr
}

func (e *Engine) newShellMessage(msgType string, content map[string]interface{}) wire.Message {
	return wire.NewMessage(e.session, e.username, msgType, wire.ChannelShell, content, nil)
}

// disposeLocked tears down all outstanding work: Futures reject with err,
// Comms close locally without notifying the (by now unreachable) kernel.
func (e *Engine) disposeLocked(err error) {
	e.futures.TerminateAll(err)
	e.comms.CloseAll()
	runtime.Unregister(e.id, e)
}

// Dispose tears down the engine immediately: all outstanding Futures reject
// with KernelTerminated, Comms close locally, and the engine is removed
// from the process-wide registry. Idempotent.
func (e *Engine) Dispose() {
	e.stopOnce.Do(func() {
		e.do(func() {
			e.setStatus(StatusDead)
		})
		_ = e.socket.Close()
		close(e.stopped)
		e.statusSig.closeAll()
		e.iopubSig.closeAll()
		e.unhandledSig.closeAll()
	})
}
