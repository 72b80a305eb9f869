package manager

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/gojupyter/kernelclient/restclient"
	"github.com/gojupyter/kernelclient/session"
)

// SessionManagerREST is the subset of *restclient.Client SessionManager
// depends on.
type SessionManagerREST interface {
	ListSessions(ctx context.Context) ([]restclient.SessionModel, error)
}

// SessionManager is the Manager Layer instance for running sessions. It
// polls ListSessions, and keeps a registry of Session Coordinators it has
// itself created via StartNew/ConnectTo, keyed by session id, so a later
// ConnectTo for the same session id returns the existing coordinator
// instead of building a second one. Polling never creates coordinators.
type SessionManager struct {
	*Manager
	rest    SessionManagerREST
	connect session.KernelConnector
	restSvc session.RESTClient

	mu       sync.Mutex
	sessions map[string]*session.Session // session id -> coordinator
}

// NewSessionManager builds a SessionManager.
func NewSessionManager(rest SessionManagerREST, restSvc session.RESTClient, connect session.KernelConnector) *SessionManager {
	sm := &SessionManager{rest: rest, restSvc: restSvc, connect: connect, sessions: make(map[string]*session.Session)}
	sm.Manager = New(sm.fetchRunning, noSpecs)
	return sm
}

func noSpecs(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func (sm *SessionManager) fetchRunning(ctx context.Context) (map[string]interface{}, error) {
	models, err := sm.rest.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(models))
	for _, m := range models {
		out[m.ID] = m
	}
	return out, nil
}

// StartNew creates a brand-new session (empty path/name/type become the
// caller's responsibility via the returned Session's SetPath/SetName/
// SetType) and a kernel of kernelName, registering the coordinator so a
// subsequent poll recognizes the session id instead of creating a
// duplicate coordinator for it.
func (sm *SessionManager) StartNew(ctx context.Context, path, name, typ, kernelName string) (*session.Session, error) {
	s := session.New(sm.restSvc, sm.connect, path, name, typ)
	if _, err := s.StartKernel(ctx, kernelName); err != nil {
		return nil, errors.WithMessage(err, "manager: starting session")
	}

	sm.mu.Lock()
	sm.sessions[s.ID()] = s
	sm.mu.Unlock()

	return s, nil
}

// ConnectTo returns the coordinator already registered for id, if any,
// else builds a fresh one wrapping the given model.
func (sm *SessionManager) ConnectTo(model restclient.SessionModel) *session.Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.sessions[model.ID]; ok {
		return s
	}
	s := session.New(sm.restSvc, sm.connect, model.Path, model.Name, model.Type)
	sm.sessions[model.ID] = s
	return s
}

// Forget removes id from the coordinator registry, used once a Session
// emits EventTerminated.
func (sm *SessionManager) Forget(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, id)
}

