// Package comm implements the Comm Registry: the named-target registry and
// live comm-id table that backs Jupyter's custom-messages protocol
// (ipywidgets and friends) on top of the shell/iopub channels.
//
// Grounded on the teacher's internal/comms/comms.go target/async-open shape
// (State.InstallWebSocket plus an openLatch that queues messages until a
// server-initiated resource resolves); Registry.ActiveTargets uses
// common.Set/SortedKeys for its address-subscription bookkeeping. The
// teacher's named-pipe transport is a different physical channel and is
// not reused, but its retry-on-open-failure shape informs the pending
// open-promise queue here.
package comm

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/gojupyter/kernelclient/internal/util"
)

// State is a Comm's lifecycle stage.
type State int

const (
	StateOpening State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sender abstracts the Kernel Channel Engine's outgoing shell send, so the
// registry can emit comm_open/comm_msg/comm_close without depending on the
// kernel package (which depends on comm).
type Sender interface {
	SendCommMessage(msgType, commID string, content, metadata map[string]interface{}) error
}

// TargetFunc is invoked for a server-initiated comm_open once the named
// target has been resolved (locally, or via the host module loader).
type TargetFunc func(c *Comm, openContent map[string]interface{})

// ModuleLoader resolves a target_module name to a TargetFunc, for comms
// the host environment provides but this process never registered by name.
type ModuleLoader func(module string) (TargetFunc, bool)

// Comm is one live custom-message channel, identified by commId.
type Comm struct {
	id         string
	targetName string
	send       Sender

	mu      sync.Mutex
	state   State
	onMsg   func(data, metadata map[string]interface{})
	onClose func(data map[string]interface{})
}

// ID returns the comm's unique id.
func (c *Comm) ID() string { return c.id }

// TargetName returns the comm's target name.
func (c *Comm) TargetName() string { return c.targetName }

// State returns the comm's current lifecycle stage.
func (c *Comm) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnMessage registers the callback invoked for each comm_msg addressed to
// this comm.
func (c *Comm) OnMessage(fn func(data, metadata map[string]interface{})) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMsg = fn
}

// OnClose registers the callback invoked, at most once, when this comm is
// closed from either direction.
func (c *Comm) OnClose(fn func(data map[string]interface{})) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// Send transmits a comm_msg on this comm.
func (c *Comm) Send(data, metadata map[string]interface{}) error {
	if c.State() == StateClosed {
		return errors.New("comm: send on closed comm")
	}
	return c.send.SendCommMessage("comm_msg", c.id, data, metadata)
}

// Close transitions the comm to Closed, invokes onClose once, and —
// unless notifyKernel is false (used for the kernel-death path, which the
// spec says must not attempt to notify an already-dead kernel) — sends
// comm_close.
func (c *Comm) Close(data map[string]interface{}, notifyKernel bool) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	onClose := c.onClose
	c.mu.Unlock()

	if onClose != nil {
		safeCall(func() { onClose(data) })
	}
	if notifyKernel {
		return c.send.SendCommMessage("comm_close", c.id, data, nil)
	}
	return nil
}

func (c *Comm) deliverMsg(data, metadata map[string]interface{}) {
	c.mu.Lock()
	onMsg := c.onMsg
	c.mu.Unlock()
	if onMsg != nil {
		safeCall(func() { onMsg(data, metadata) })
	}
}

func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			util.ReportError(errors.Errorf("panic in comm callback: %v\n%s", r, util.GetStackTrace()))
		}
	}()
	fn()
}
