// Package session implements the Session Coordinator: it couples one
// Kernel Channel Engine to a server-side Jupyter session id plus the
// (path, name, type) triple the notebook server tracks, reconciling local
// state against PATCH responses with race-safe, reentrancy-guarded updates.
//
// Grounded on the teacher's kernel.Kernel/goexec.State ownership split
// (one coordinator owns one execution engine and can swap it out),
// generalized from "one process, one kernel" to "one session, a
// replaceable kernel engine". The PATCH reconciliation itself has no
// teacher analogue — restclient.PatchSession supplies the generic PATCH
// verb this package builds its race-safety on top of.
package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gojupyter/kernelclient/kernel"
	"github.com/gojupyter/kernelclient/restclient"
)

// KernelConnector attaches a Kernel Channel Engine to a server-assigned
// kernel id. Session depends on this instead of kernel.NewEngine directly
// so tests can substitute a fake.
type KernelConnector func(ctx context.Context, kernelID, kernelName string) (*kernel.Engine, error)

// RESTClient is the subset of *restclient.Client the coordinator depends on.
type RESTClient interface {
	CreateSession(ctx context.Context, req restclient.CreateSessionRequest) (restclient.SessionModel, error)
	PatchSession(ctx context.Context, id string, req restclient.PatchSessionRequest) (restclient.SessionModel, error)
	DeleteSession(ctx context.Context, id string) error
}

// EventKind identifies which field a Session's changed Event names.
type EventKind int

const (
	EventChangedKernel EventKind = iota
	EventChangedPath
	EventChangedName
	EventChangedType
	EventTerminated
)

// Event is emitted on Session's Listen channel.
type Event struct {
	Kind  EventKind
	Value string
}

// Session is the Session Coordinator for one logical (path, name, type).
// All exported methods are safe for concurrent use.
type Session struct {
	rest      RESTClient
	connect   KernelConnector
	baseURL   string

	mu        sync.Mutex
	id        string // server session id; "" before first startKernel/create
	path      string
	name      string
	typ       string
	kernelID  string
	kernel    *kernel.Engine
	updating  bool

	// patchMu serializes the network PATCH calls issued by
	// setPath/setName/setType: only one may be in flight for this session
	// at any moment (property #5), independent of the _updating flag that
	// guards reentrant Update calls instead.
	patchMu sync.Mutex

	sigMu sync.Mutex
	subs  map[int]chan Event
	next  int
}

// New builds a Session bound to path/name/type, not yet started.
func New(rest RESTClient, connect KernelConnector, path, name, typ string) *Session {
	return &Session{
		rest:    rest,
		connect: connect,
		path:    path,
		name:    name,
		typ:     typ,
		subs:    make(map[int]chan Event),
	}
}

// ID returns the server-assigned session id, or "" if none yet.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Kernel returns the currently attached engine, if any.
func (s *Session) Kernel() *kernel.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kernel
}

// Listen subscribes to this session's change/terminated events.
func (s *Session) Listen() (<-chan Event, func()) {
	s.sigMu.Lock()
	defer s.sigMu.Unlock()
	ch := make(chan Event, 16)
	id := s.next
	s.next++
	s.subs[id] = ch
	return ch, func() {
		s.sigMu.Lock()
		defer s.sigMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) emit(ev Event) {
	s.sigMu.Lock()
	defer s.sigMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// setField implements setPath/setName/setType's shared shape: early-return
// if unchanged, emit locally, PATCH if an id is already assigned, and roll
// back the local value if the PATCH fails.
func (s *Session) setField(ctx context.Context, kind EventKind, fieldName string, get func() string, set func(string)) func(ctx context.Context, value string) error {
	return func(ctx context.Context, value string) error {
		s.mu.Lock()
		if get() == value {
			s.mu.Unlock()
			return nil
		}
		prev := get()
		set(value)
		id := s.id
		s.mu.Unlock()

		s.emit(Event{Kind: kind, Value: value})

		if id == "" {
			return nil
		}

		req := restclient.PatchSessionRequest{}
		switch fieldName {
		case "path":
			req.Path = value
		case "name":
			req.Name = value
		case "type":
			req.Type = value
		}
		s.patchMu.Lock()
		model, err := s.rest.PatchSession(ctx, id, req)
		s.patchMu.Unlock()
		if err != nil {
			s.mu.Lock()
			set(prev)
			s.mu.Unlock()
			s.emit(Event{Kind: kind, Value: prev})
			return errors.WithMessagef(err, "session: patching %s", fieldName)
		}
		s.reconcile(ctx, model)
		return nil
	}
}

// SetPath sets the session's path, PATCHing the server if already started.
func (s *Session) SetPath(ctx context.Context, value string) error {
	return s.setField(ctx, EventChangedPath, "path",
		func() string { return s.path },
		func(v string) { s.path = v },
	)(ctx, value)
}

// SetName sets the session's display name.
func (s *Session) SetName(ctx context.Context, value string) error {
	return s.setField(ctx, EventChangedName, "name",
		func() string { return s.name },
		func(v string) { s.name = v },
	)(ctx, value)
}

// SetType sets the session's notebook/console/file type.
func (s *Session) SetType(ctx context.Context, value string) error {
	return s.setField(ctx, EventChangedType, "type",
		func() string { return s.typ },
		func(v string) { s.typ = v },
	)(ctx, value)
}

// StartKernel disposes any currently-attached engine, then either POSTs a
// new session (if this Session has no id yet) or PATCHes the existing
// session with the new kernel name, and attaches a fresh Kernel Channel
// Engine for the id the server returns.
func (s *Session) StartKernel(ctx context.Context, kernelName string) (*kernel.Engine, error) {
	s.mu.Lock()
	if s.kernel != nil {
		s.kernel.Dispose()
		s.kernel = nil
	}
	s.kernelID = ""
	id := s.id
	path, name, typ := s.path, s.name, s.typ
	s.mu.Unlock()

	var model restclient.SessionModel
	var err error
	if id == "" {
		model, err = s.rest.CreateSession(ctx, restclient.CreateSessionRequest{
			Path: path,
			Name: name,
			Type: typ,
			Kernel: &restclient.SessionKernel{Name: kernelName},
		})
	} else {
		model, err = s.rest.PatchSession(ctx, id, restclient.PatchSessionRequest{
			Kernel: &restclient.SessionKernel{Name: kernelName},
		})
	}
	if err != nil {
		return nil, errors.WithMessage(err, "session: starting kernel")
	}

	s.reconcile(ctx, model)
	return s.Kernel(), nil
}

// Shutdown nulls out the session id first so any SetPath/SetName/SetType
// that has not yet read the id short-circuits against an empty id (a PATCH
// already sent is not cancelled), then
// DELETEs the session and emits EventTerminated. Idempotent: a second
// concurrent or subsequent call observes the id already cleared and issues
// no further DELETE (spec's S5 scenario).
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	id := s.id
	s.id = ""
	k := s.kernel
	s.kernel = nil
	s.mu.Unlock()

	if id == "" {
		return nil
	}

	if k != nil {
		k.Dispose()
	}
	if err := s.rest.DeleteSession(ctx, id); err != nil {
		return errors.WithMessage(err, "session: shutdown")
	}
	s.emit(Event{Kind: EventTerminated})
	return nil
}

// Update reconciles local state from a server-provided model, guarded by
// the updating reentrancy flag: an Update that arrives while another
// Update is reconciling returns without applying its model. The flag is
// set only by Update itself; an outstanding PATCH from SetPath/SetName/
// SetType does not set it, and PATCH/POST responses are reconciled without
// passing through it. Differing fields emit in
// kernel-then-path-then-name-then-type order.
func (s *Session) Update(ctx context.Context, model restclient.SessionModel) {
	s.mu.Lock()
	if s.updating {
		s.mu.Unlock()
		return
	}
	s.updating = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.updating = false
		s.mu.Unlock()
	}()

	s.reconcile(ctx, model)
}

// reconcile is Update's body, without the reentrancy guard — called both
// from Update and internally after a successful PATCH/POST. It takes no
// guard of its own beyond s.mu around the field reads and writes.
func (s *Session) reconcile(ctx context.Context, model restclient.SessionModel) {
	s.mu.Lock()
	s.id = model.ID

	kernelChanged := model.Kernel.ID != "" && model.Kernel.ID != s.kernelID
	var newKernelID, newKernelName string
	if kernelChanged {
		newKernelID = model.Kernel.ID
		newKernelName = model.Kernel.Name
	}

	pathChanged := model.Path != "" && model.Path != s.path
	nameChanged := model.Name != "" && model.Name != s.name
	typeChanged := model.Type != "" && model.Type != s.typ

	if pathChanged {
		s.path = model.Path
	}
	if nameChanged {
		s.name = model.Name
	}
	if typeChanged {
		s.typ = model.Type
	}
	s.mu.Unlock()

	if kernelChanged {
		s.attachKernel(ctx, newKernelID, newKernelName)
		s.emit(Event{Kind: EventChangedKernel, Value: newKernelID})
	}
	if pathChanged {
		s.emit(Event{Kind: EventChangedPath, Value: model.Path})
	}
	if nameChanged {
		s.emit(Event{Kind: EventChangedName, Value: model.Name})
	}
	if typeChanged {
		s.emit(Event{Kind: EventChangedType, Value: model.Type})
	}
}

func (s *Session) attachKernel(ctx context.Context, kernelID, kernelName string) {
	s.mu.Lock()
	old := s.kernel
	s.mu.Unlock()
	if old != nil {
		old.Dispose()
	}

	eng, err := s.connect(ctx, kernelID, kernelName)
	if err != nil {
		klog.Errorf("session: failed to attach kernel %s: %+v", kernelID, err)
		return
	}

	s.mu.Lock()
	s.kernelID = kernelID
	s.kernel = eng
	s.mu.Unlock()
}
