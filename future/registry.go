package future

import (
	"sync"

	"github.com/gojupyter/kernelclient/wire"
)

// Registry correlates outgoing shell/control requests, by msg_id, to the
// Future each one owns. One Registry is owned by one Kernel Channel Engine
// instance.
type Registry struct {
	mu  sync.Mutex
	byID map[string]*Future
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Future)}
}

// New creates and registers a Future for msgID. expectReply is false for
// requests with no shell/control reply (e.g. a comm_msg send).
// disposeOnDone tells the Registry to evict the Future as soon as it
// reaches its terminal state, rather than waiting for an explicit Dispose.
func (r *Registry) New(msgID string, expectReply, disposeOnDone bool) *Future {
	f := newFuture(msgID, expectReply, disposeOnDone)
	r.mu.Lock()
	r.byID[msgID] = f
	r.mu.Unlock()
	return f
}

// Get returns the Future registered for msgID, if any. A Future that has
// been disposed is not returned, so messages addressed to it count as
// unhandled.
func (r *Registry) Get(msgID string) (*Future, bool) {
	r.mu.Lock()
	f, ok := r.byID[msgID]
	r.mu.Unlock()
	if !ok || f.IsDisposed() {
		return nil, false
	}
	return f, true
}

// Dispose detaches and removes the Future for msgID. Idempotent; a second
// call or a call for an unknown msgID is a no-op.
func (r *Registry) Dispose(msgID string) {
	r.mu.Lock()
	f, ok := r.byID[msgID]
	delete(r.byID, msgID)
	r.mu.Unlock()
	if ok {
		f.Dispose()
	}
}

// DeliverReply routes a shell/control reply to the Future named by
// parentMsgID. Returns false if no such Future is registered — the caller
// should treat that as an unhandled/late reply.
func (r *Registry) DeliverReply(parentMsgID string, content map[string]interface{}) bool {
	f, ok := r.Get(parentMsgID)
	if !ok {
		return false
	}
	done := f.deliverReply(content)
	r.evictIfDone(f, done)
	return true
}

// DeliverIOPub routes an iopub message to the Future named by parentMsgID.
// isIdle marks the message as the idle status that, combined with a
// received reply (or no reply expected), completes the Future.
func (r *Registry) DeliverIOPub(parentMsgID string, msg wire.Message, isIdle bool) bool {
	f, ok := r.Get(parentMsgID)
	if !ok {
		return false
	}
	done := f.deliverIOPub(msg, isIdle)
	r.evictIfDone(f, done)
	return true
}

// DeliverStdin routes a stdin message to the Future named by parentMsgID.
func (r *Registry) DeliverStdin(parentMsgID string, msg wire.Message) bool {
	f, ok := r.Get(parentMsgID)
	if !ok {
		return false
	}
	f.deliverStdin(msg)
	return true
}

func (r *Registry) evictIfDone(f *Future, becameDone bool) {
	if !becameDone || !f.DisposeOnDone() {
		return
	}
	r.mu.Lock()
	if cur, ok := r.byID[f.MsgID()]; ok && cur == f {
		delete(r.byID, f.MsgID())
	}
	r.mu.Unlock()
}

// Len reports the number of outstanding futures. Intended for tests and
// diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// TerminateAll force-disposes every outstanding Future, invoking each
// one's onTerminate callback with err, and empties the registry. Called by
// the Kernel Channel Engine when the kernel dies or the client shuts down
// with requests still outstanding.
func (r *Registry) TerminateAll(err error) {
	r.mu.Lock()
	futures := make([]*Future, 0, len(r.byID))
	for _, f := range r.byID {
		futures = append(futures, f)
	}
	r.byID = make(map[string]*Future)
	r.mu.Unlock()

	for _, f := range futures {
		f.terminate(err)
	}
}
