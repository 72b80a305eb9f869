// Package restclient implements the REST half of spec §6: kernels,
// sessions, and kernel specs over plain net/http. Grounded on
// nugget-thane-ai-agent/internal/httpkit/httpkit.go's shared-transport
// construction (explicit dial/TLS/idle-conn timeouts, a RoundTripper
// wrapper for a header that must ride on every request), generalized from
// User-Agent injection to the token/XSRF auth header this spec requires.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/gojupyter/kernelclient/internal/version"
	"github.com/gojupyter/kernelclient/jkerrors"
)

const (
	defaultDialTimeout         = 10 * time.Second
	defaultKeepAlive           = 30 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultIdleConnTimeout     = 90 * time.Second
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 5
)

// newTransport builds the shared *http.Transport with the same
// good-citizen defaults httpkit applies: bounded dial/TLS/idle timeouts and
// a capped connection pool so a misbehaving Jupyter server cannot exhaust
// file descriptors in a long-lived client process.
func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		IdleConnTimeout:     defaultIdleConnTimeout,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:   true,
	}
}

// authTransport injects either a bearer token or an XSRF header on every
// request, per spec §6: "if a bearer token is configured, set
// Authorization: token {tok}; otherwise, if a cookie named _xsrf is
// present, set X-XSRFToken". Shaped after httpkit's userAgentTransport.
type authTransport struct {
	base       http.RoundTripper
	token      string
	xsrfCookie string
	userAgent  string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	switch {
	case t.token != "":
		req.Header.Set("Authorization", "token "+t.token)
	case t.xsrfCookie != "":
		req.Header.Set("X-XSRFToken", t.xsrfCookie)
	}
	return t.base.RoundTrip(req)
}

// Option configures a Client at construction.
type Option func(*options)

type options struct {
	token      string
	xsrfCookie string
	timeout    time.Duration
	httpClient *http.Client
}

// WithToken configures the bearer token sent as "Authorization: token {tok}".
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

// WithXSRFCookie configures the value of the `_xsrf` cookie to mirror back
// as X-XSRFToken, used when no bearer token is configured.
func WithXSRFCookie(value string) Option {
	return func(o *options) { o.xsrfCookie = value }
}

// WithTimeout sets a default per-call timeout (0 disables it), per spec §5.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithHTTPClient overrides the underlying *http.Client, for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// Client is a thin typed REST client over one Jupyter server's baseUrl.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// NewClient builds a Client against baseURL (no trailing slash required).
func NewClient(baseURL string, opts ...Option) *Client {
	o := &options{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(o)
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &authTransport{
				base:       newTransport(),
				token:      o.token,
				xsrfCookie: o.xsrfCookie,
				userAgent:  version.Detect().UserAgent(),
			},
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		timeout: o.timeout,
	}
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// do executes one request, applying the client's default timeout (unless
// ctx already carries a deadline), decoding a JSON body into out when
// wantStatus matches, and translating anything else into the spec's error
// taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, wantStatus int) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.WithMessage(err, "restclient: encoding request body")
		}
		reader = bytes.NewReader(encoded)
	}

	if c.timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return errors.WithMessage(err, "restclient: building request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return jkerrors.ErrTimeout
		}
		return errors.WithMessagef(err, "restclient: %s %s", method, path)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != wantStatus {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &jkerrors.InvalidResponseError{
			Status:     resp.StatusCode,
			StatusText: resp.Status,
			Body:       respBody,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &jkerrors.MalformedModelError{Context: path, Err: err}
	}
	return nil
}

func drainAndClose(rc io.ReadCloser) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64*1024))
	_ = rc.Close()
}

func queryEscape(s string) string { return url.QueryEscape(s) }
