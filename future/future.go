// Package future implements the Future Registry: the per-request
// correlation table that lets one outgoing shell/control request observe
// its reply, its iopub side effects, and its stdin traffic as they arrive
// out of band on the single multiplexed WebSocket.
//
// Grounded on the per-channel dispatch loop in the teacher's
// internal/dispatcher/dispatcher.go (one pending shell operation
// correlated to its single reply) generalized to N outstanding futures
// keyed by msg_id, each exposing four observer slots plus a LIFO hook
// chain, in the shape of nugget-thane-ai-agent's
// internal/homeassistant/websocket.go pending-response-channel table.
package future

import (
	"sync"

	"github.com/gojupyter/kernelclient/internal/util"
	"github.com/gojupyter/kernelclient/wire"
)

// Future is a client-side handle for one outstanding shell/control
// request. It is terminal when (!ExpectReply || replyReceived) &&
// idleReceived — at that point onDone fires, and if DisposeOnDone was
// requested, the Registry removes it.
type Future struct {
	msgID         string
	expectReply   bool
	disposeOnDone bool

	mu            sync.Mutex
	replyReceived bool
	idleReceived  bool
	done          bool
	disposed      bool

	onReply     func(content map[string]interface{})
	onIOPub     func(msg wire.Message)
	onStdin     func(msg wire.Message)
	onDone      func()
	onTerminate func(err error)
	hooks       []hookEntry
}

type hookEntry struct {
	id int
	fn func(msg wire.Message) bool
}

func newFuture(msgID string, expectReply, disposeOnDone bool) *Future {
	return &Future{msgID: msgID, expectReply: expectReply, disposeOnDone: disposeOnDone}
}

// MsgID returns the msg_id this Future correlates against.
func (f *Future) MsgID() string { return f.msgID }

// ExpectReply reports whether a shell/control reply is expected at all
// (false for fire-and-forget sends, e.g. comm_open).
func (f *Future) ExpectReply() bool { return f.expectReply }

// DisposeOnDone reports whether the registry should evict this future the
// moment it reaches its terminal state.
func (f *Future) DisposeOnDone() bool { return f.disposeOnDone }

// OnReply registers the callback fired exactly once on the shell/control
// reply whose parent_header.msg_id matches this future. Never invoked if
// ExpectReply is false.
func (f *Future) OnReply(fn func(content map[string]interface{})) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onReply = fn
}

// OnIOPub registers the callback fired for each iopub message with a
// matching parent, including the terminal idle status.
func (f *Future) OnIOPub(fn func(msg wire.Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onIOPub = fn
}

// OnStdin registers the callback fired for each matching stdin message.
func (f *Future) OnStdin(fn func(msg wire.Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStdin = fn
}

// OnDone registers the callback fired once the terminal condition is met.
// Guaranteed to fire after the last onReply/onIOPub/onStdin call that
// participated in reaching it.
func (f *Future) OnDone(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDone = fn
}

// OnTerminate registers the callback fired, in place of the normal
// onDone/onReply sequence, when the Registry is force-terminated (kernel
// death) while this future is still outstanding.
func (f *Future) OnTerminate(fn func(err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTerminate = fn
}

var hookSeq int
var hookSeqMu sync.Mutex

// RegisterMessageHook adds an iopub observer that runs before onIOPub.
// Hooks run in LIFO registration order; a falsy return from any hook
// suppresses delivery of that message to this future's onIOPub (but does
// not affect the terminal-idle bookkeeping, which tracks the raw message
// stream). Returns a deregistration function.
func (f *Future) RegisterMessageHook(fn func(msg wire.Message) bool) (deregister func()) {
	hookSeqMu.Lock()
	hookSeq++
	id := hookSeq
	hookSeqMu.Unlock()

	f.mu.Lock()
	f.hooks = append(f.hooks, hookEntry{id: id, fn: fn})
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, h := range f.hooks {
			if h.id == id {
				f.hooks = append(f.hooks[:i], f.hooks[i+1:]...)
				return
			}
		}
	}
}

// Dispose detaches all observers. Idempotent. After Dispose, the Registry
// no longer reports this future as registered, so further matching
// messages are routed to the engine's unhandled signal instead of to it.
func (f *Future) Dispose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
	f.onReply = nil
	f.onIOPub = nil
	f.onStdin = nil
	f.onDone = nil
	f.onTerminate = nil
	f.hooks = nil
}

// IsDisposed reports whether Dispose has already run.
func (f *Future) IsDisposed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

// IsDone reports whether the terminal condition has already been met.
func (f *Future) IsDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// deliverReply delivers the shell/control reply. Returns true if this
// call satisfied the terminal condition (done transitioned to true).
func (f *Future) deliverReply(content map[string]interface{}) (becameDone bool) {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return false
	}
	f.replyReceived = true
	onReply := f.onReply
	f.mu.Unlock()

	if onReply != nil {
		safeCall(func() { onReply(content) })
	}
	return f.maybeFinish()
}

// deliverIOPub runs the hook chain (LIFO) then, unless suppressed, the
// onIOPub callback. If msg is the terminal idle status for this future,
// idleReceived is recorded regardless of hook suppression — termination
// bookkeeping tracks the raw stream, not what the hooks let through.
func (f *Future) deliverIOPub(msg wire.Message, isIdle bool) (becameDone bool) {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return false
	}
	if isIdle {
		f.idleReceived = true
	}
	// Copy the hook list (LIFO) and callback under the lock, run outside it.
	hooks := make([]func(wire.Message) bool, len(f.hooks))
	for i, h := range f.hooks {
		hooks[len(f.hooks)-1-i] = h.fn
	}
	onIOPub := f.onIOPub
	f.mu.Unlock()

	suppressed := false
	for _, hook := range hooks {
		var keep bool
		safeCall(func() { keep = hook(msg) })
		if !keep {
			suppressed = true
			break
		}
	}
	if !suppressed && onIOPub != nil {
		safeCall(func() { onIOPub(msg) })
	}
	return f.maybeFinish()
}

func (f *Future) deliverStdin(msg wire.Message) {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return
	}
	onStdin := f.onStdin
	f.mu.Unlock()
	if onStdin != nil {
		safeCall(func() { onStdin(msg) })
	}
}

// maybeFinish checks the terminal condition and fires onDone exactly once.
func (f *Future) maybeFinish() (becameDone bool) {
	f.mu.Lock()
	if f.done || f.disposed {
		f.mu.Unlock()
		return false
	}
	terminal := (!f.expectReply || f.replyReceived) && f.idleReceived
	if !terminal {
		f.mu.Unlock()
		return false
	}
	f.done = true
	onDone := f.onDone
	f.mu.Unlock()

	if onDone != nil {
		safeCall(onDone)
	}
	return true
}

// terminate force-disposes the future because the engine died with it
// still outstanding, invoking onTerminate instead of the normal
// onDone/onReply sequence.
func (f *Future) terminate(err error) {
	f.mu.Lock()
	if f.disposed || f.done {
		f.mu.Unlock()
		return
	}
	f.disposed = true
	onTerminate := f.onTerminate
	f.onReply = nil
	f.onIOPub = nil
	f.onStdin = nil
	f.onDone = nil
	f.onTerminate = nil
	f.hooks = nil
	f.mu.Unlock()

	if onTerminate != nil {
		safeCall(func() { onTerminate(err) })
	}
}

func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			util.ReportError(panicAsError(r))
		}
	}()
	fn()
}

type panicError struct{ v interface{} }

func (p panicError) Error() string { return "panic in future observer callback" }

func panicAsError(v interface{}) error { return panicError{v: v} }
