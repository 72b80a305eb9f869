// Package jupyter is the root facade tying baseUrl/token/clientID into the
// Kernel Channel Engine, Session Coordinator, Manager Layer, and REST
// client, so a caller only constructs one jupyter.Client instead of
// threading a base URL and auth token through every sub-package by hand.
//
// Grounded on the teacher's top-level package (gonb's main.go/kernel.go
// boundary, where the root package is the thing that owns configuration
// and wires the kernel package's constructor) generalized from a
// single-process CLI entry point into a library facade a host application
// calls into directly.
package jupyter

import (
	"context"
	"strings"

	"github.com/gojupyter/kernelclient/comm"
	"github.com/gojupyter/kernelclient/internal/transport"
	"github.com/gojupyter/kernelclient/internal/xid"
	"github.com/gojupyter/kernelclient/kernel"
	"github.com/gojupyter/kernelclient/manager"
	"github.com/gojupyter/kernelclient/restclient"
	"github.com/gojupyter/kernelclient/session"
)

// Config supplies everything a Client needs to talk to one Jupyter server.
type Config struct {
	BaseURL      string // http(s)://host:port, no trailing slash required
	Token        string
	XSRFCookie   string
	Username     string
	ModuleLoader comm.ModuleLoader
	Dialer       transport.Dialer // overridden in tests; nil uses the real WebSocket dialer

	// Contents/Terminal/ConfigSection are thin, caller-supplied
	// implementations of the out-of-scope collaborator stubs (§6
	// expansion) — nil is fine, since nothing in this package calls them.
	Contents      restclient.ContentsService
	Terminal      restclient.TerminalService
	ConfigSection restclient.ConfigSectionService
}

// Client is the facade a host application holds: one REST client, and
// factories for kernel engines, session coordinators, and the two Manager
// Layer pollers.
type Client struct {
	cfg  Config
	rest *restclient.Client
}

// New builds a Client. It does not make any network call.
func New(cfg Config) *Client {
	var opts []restclient.Option
	if cfg.Token != "" {
		opts = append(opts, restclient.WithToken(cfg.Token))
	}
	if cfg.XSRFCookie != "" {
		opts = append(opts, restclient.WithXSRFCookie(cfg.XSRFCookie))
	}
	return &Client{
		cfg:  cfg,
		rest: restclient.NewClient(cfg.BaseURL, opts...),
	}
}

// REST returns the underlying typed REST client, for callers that need a
// method §6's expansion didn't wrap in a higher-level type.
func (c *Client) REST() *restclient.Client { return c.rest }

// wsURL derives the ws(s):// base from the configured http(s):// BaseURL.
func (c *Client) wsURL() string {
	u := c.cfg.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}

func (c *Client) engineConfig(id, name string) kernel.Config {
	return kernel.Config{
		BaseURL:      c.cfg.BaseURL,
		WSURL:        c.wsURL(),
		Token:        c.cfg.Token,
		Username:     c.cfg.Username,
		ClientID:     xid.New(),
		Name:         name,
		ID:           id,
		REST:         c.rest,
		ModuleLoader: c.cfg.ModuleLoader,
		Dialer:       c.cfg.Dialer,
	}
}

// StartKernel starts a new kernel of the given spec name and attaches a
// Kernel Channel Engine to it.
func (c *Client) StartKernel(ctx context.Context, specName string) (*kernel.Engine, error) {
	model, err := c.rest.StartKernel(ctx, specName)
	if err != nil {
		return nil, err
	}
	return kernel.NewEngine(ctx, c.engineConfig(model.ID, model.Name))
}

// ConnectToKernel attaches a Kernel Channel Engine to an already-running
// kernel id.
func (c *Client) ConnectToKernel(ctx context.Context, id, name string) (*kernel.Engine, error) {
	return kernel.NewEngine(ctx, c.engineConfig(id, name))
}

// NewSession builds a Session Coordinator for path/name/type, not yet
// started.
func (c *Client) NewSession(path, name, typ string) *session.Session {
	connector := func(ctx context.Context, kernelID, kernelName string) (*kernel.Engine, error) {
		return kernel.NewEngine(ctx, c.engineConfig(kernelID, kernelName))
	}
	return session.New(c.rest, connector, path, name, typ)
}

// KernelManager builds the Manager Layer poller for running kernels and
// kernel specs.
func (c *Client) KernelManager() *manager.KernelManager {
	return manager.NewKernelManager(c.rest, c.engineConfig)
}

// SessionManager builds the Manager Layer poller for running sessions.
func (c *Client) SessionManager() *manager.SessionManager {
	connector := func(ctx context.Context, kernelID, kernelName string) (*kernel.Engine, error) {
		return kernel.NewEngine(ctx, c.engineConfig(kernelID, kernelName))
	}
	return manager.NewSessionManager(c.rest, c.rest, connector)
}
