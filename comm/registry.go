package comm

import (
	"sync"

	"k8s.io/klog/v2"

	"github.com/gojupyter/kernelclient/common"
	"github.com/gojupyter/kernelclient/internal/util"
	"github.com/gojupyter/kernelclient/internal/xid"
	"github.com/gojupyter/kernelclient/jkerrors"
)

// pendingOpen tracks a server-initiated comm_open whose target is still
// resolving (e.g. via an async module loader). Inbound comm_msg/comm_close
// frames that race the resolution are queued here instead of dropped.
type pendingOpen struct {
	mu     sync.Mutex
	queued []queuedFrame
}

type queuedFrame struct {
	isClose  bool
	data     map[string]interface{}
	metadata map[string]interface{}
}

// Registry is the per-engine comm table: named targets, live comms, and
// in-flight server-open resolutions.
type Registry struct {
	send   Sender
	loader ModuleLoader

	mu       sync.Mutex
	targets  map[string]TargetFunc
	comms    map[string]*Comm
	promises map[string]*pendingOpen
}

// NewRegistry builds an empty Comm Registry. loader may be nil if the host
// environment provides no module-backed targets.
func NewRegistry(send Sender, loader ModuleLoader) *Registry {
	return &Registry{
		send:     send,
		loader:   loader,
		targets:  make(map[string]TargetFunc),
		comms:    make(map[string]*Comm),
		promises: make(map[string]*pendingOpen),
	}
}

// RegisterTarget installs a local handler for server-initiated comm_open
// messages naming targetName.
func (r *Registry) RegisterTarget(targetName string, fn TargetFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[targetName] = fn
}

// UnregisterTarget removes a previously registered target.
func (r *Registry) UnregisterTarget(targetName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, targetName)
}

// Open performs a client-initiated comm open: allocates a commId if
// unspecified, installs a local Comm in the Open state, and sends
// comm_open as a fire-and-forget shell message (no reply expected).
func (r *Registry) Open(targetName, commID string, data, metadata map[string]interface{}) (*Comm, error) {
	if commID == "" {
		commID = xid.New()
	}
	c := &Comm{id: commID, targetName: targetName, send: r.send, state: StateOpen}

	r.mu.Lock()
	r.comms[commID] = c
	r.mu.Unlock()

	content := map[string]interface{}{"comm_id": commID, "target_name": targetName, "data": data}
	if err := r.send.SendCommMessage("comm_open", commID, content, metadata); err != nil {
		r.mu.Lock()
		delete(r.comms, commID)
		r.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// HandleCommOpen processes a server-initiated comm_open. It resolves the
// target against the local registry, or via the module loader when
// target_module is given; both lookups run synchronously on the caller's
// goroutine. If no target resolves,
// the comm is closed back immediately with ErrCommTargetNotFound and
// never exposed to the caller. If the target callback panics, the comm is
// closed back the same way and the panic is logged, never propagated.
func (r *Registry) HandleCommOpen(commID, targetName, targetModule string, data map[string]interface{}) {
	r.mu.Lock()
	fn, ok := r.targets[targetName]
	r.mu.Unlock()

	if ok {
		r.openWith(commID, targetName, fn, data)
		return
	}

	if targetModule != "" && r.loader != nil {
		r.beginAsyncOpen(commID, targetName, targetModule, data)
		return
	}

	r.rejectOpen(commID, jkerrors.ErrCommTargetNotFound)
}

func (r *Registry) openWith(commID, targetName string, fn TargetFunc, data map[string]interface{}) {
	c := &Comm{id: commID, targetName: targetName, send: r.send, state: StateOpen}
	r.mu.Lock()
	r.comms[commID] = c
	r.mu.Unlock()

	if !r.invokeTarget(c, fn, data) {
		r.mu.Lock()
		delete(r.comms, commID)
		r.mu.Unlock()
		r.rejectOpen(commID, nil)
	}
}

// invokeTarget runs fn, converting a panic into a reported error. Returns
// false if the callback panicked.
func (r *Registry) invokeTarget(c *Comm, fn TargetFunc, data map[string]interface{}) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			klog.Warningf("comm: target callback for %q panicked: %v\n%s", c.TargetName(), rec, util.GetStackTrace())
			ok = false
		}
	}()
	fn(c, data)
	return true
}

// beginAsyncOpen resolves targetModule via the loader. The loader call is
// synchronous and blocks the caller until it returns; any comm_msg/
// comm_close for commID that another goroutine routes here while the call
// is in progress is queued on the pending entry and replayed once the
// comm is installed.
func (r *Registry) beginAsyncOpen(commID, targetName, targetModule string, data map[string]interface{}) {
	pending := &pendingOpen{}
	r.mu.Lock()
	r.promises[commID] = pending
	r.mu.Unlock()

	fn, ok := r.loader(targetModule)
	if !ok {
		r.mu.Lock()
		delete(r.promises, commID)
		r.mu.Unlock()
		r.rejectOpen(commID, jkerrors.ErrCommTargetNotFound)
		return
	}

	c := &Comm{id: commID, targetName: targetName, send: r.send, state: StateOpen}
	r.mu.Lock()
	r.comms[commID] = c
	delete(r.promises, commID)
	r.mu.Unlock()

	opened := r.invokeTarget(c, fn, data)
	if !opened {
		r.mu.Lock()
		delete(r.comms, commID)
		r.mu.Unlock()
		r.rejectOpen(commID, nil)
		pending.drain(c)
		return
	}

	pending.drain(c)
}

func (p *pendingOpen) drain(c *Comm) {
	p.mu.Lock()
	queued := p.queued
	p.queued = nil
	p.mu.Unlock()

	for _, q := range queued {
		if q.isClose {
			_ = c.Close(q.data, false)
		} else {
			c.deliverMsg(q.data, q.metadata)
		}
	}
}

// rejectOpen closes a comm_open the registry could not or would not honor,
// sending comm_close back to the kernel. err is logged if non-nil.
func (r *Registry) rejectOpen(commID string, err error) {
	if err != nil {
		klog.V(2).Infof("comm: rejecting comm_open %s: %v", commID, err)
	}
	if sendErr := r.send.SendCommMessage("comm_close", commID, map[string]interface{}{}, nil); sendErr != nil {
		klog.Warningf("comm: failed to send comm_close rejecting %s: %v", commID, sendErr)
	}
}

// HandleCommMsg routes an inbound comm_msg. If the comm exists, its onMsg
// fires. If a pending async open exists, the frame is queued to chain
// onto that resolution. Otherwise it is logged and dropped.
func (r *Registry) HandleCommMsg(commID string, data, metadata map[string]interface{}) {
	r.mu.Lock()
	c, ok := r.comms[commID]
	pending, pendingOK := r.promises[commID]
	r.mu.Unlock()

	if ok {
		c.deliverMsg(data, metadata)
		return
	}
	if pendingOK {
		pending.mu.Lock()
		pending.queued = append(pending.queued, queuedFrame{data: data, metadata: metadata})
		pending.mu.Unlock()
		return
	}
	klog.V(2).Infof("comm: comm_msg for unknown comm %s dropped", commID)
}

// HandleCommClose routes an inbound comm_close. A second close for the
// same comm id is a no-op.
func (r *Registry) HandleCommClose(commID string, data map[string]interface{}) {
	r.mu.Lock()
	c, ok := r.comms[commID]
	pending, pendingOK := r.promises[commID]
	r.mu.Unlock()

	if ok {
		_ = c.Close(data, false)
		r.mu.Lock()
		delete(r.comms, commID)
		r.mu.Unlock()
		return
	}
	if pendingOK {
		pending.mu.Lock()
		pending.queued = append(pending.queued, queuedFrame{isClose: true, data: data})
		pending.mu.Unlock()
		return
	}
	klog.V(2).Infof("comm: comm_close for unknown comm %s dropped", commID)
}

// Get returns the live Comm for commID, if any.
func (r *Registry) Get(commID string) (*Comm, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.comms[commID]
	return c, ok
}

// ActiveTargets returns the sorted, de-duplicated set of target names that
// currently have at least one live Comm — the address-subscription
// bookkeeping a host application polls for diagnostics (e.g. "which
// ipywidgets targets are in use right now").
func (r *Registry) ActiveTargets() []string {
	r.mu.Lock()
	names := common.MakeSet[string](len(r.comms))
	for _, c := range r.comms {
		names.Insert(c.TargetName())
	}
	r.mu.Unlock()

	return common.SortedKeys[struct{}](names)
}

// Len reports the number of live comms. Intended for tests and diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.comms)
}

// CloseAll closes every live comm locally, without sending comm_close —
// used when the engine dies (the spec's resolution of the corresponding
// Open Question: an already-dead kernel is not notified).
func (r *Registry) CloseAll() {
	r.mu.Lock()
	comms := make([]*Comm, 0, len(r.comms))
	for _, c := range r.comms {
		comms = append(comms, c)
	}
	r.comms = make(map[string]*Comm)
	r.promises = make(map[string]*pendingOpen)
	r.mu.Unlock()

	for _, c := range comms {
		_ = c.Close(nil, false)
	}
}
