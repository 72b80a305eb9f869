package jupyter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gojupyter/kernelclient/internal/transport"
)

func TestWSURLDerivation(t *testing.T) {
	https := New(Config{BaseURL: "https://notebook.example.com:8888"})
	assert.Equal(t, "wss://notebook.example.com:8888", https.wsURL())

	plain := New(Config{BaseURL: "http://localhost:8888"})
	assert.Equal(t, "ws://localhost:8888", plain.wsURL())
}

// fakeConn is a transport.Conn that never actually produces frames; it
// exists only so kernel.NewEngine's dial succeeds without a real socket.
type fakeConn struct{}

func (fakeConn) WriteMessage(int, []byte) error     { return nil }
func (fakeConn) ReadMessage() (int, []byte, error)  { select {} }
func (fakeConn) Close() error                       { return nil }

func fakeDialer(ctx context.Context, url string) (transport.Conn, error) {
	return fakeConn{}, nil
}

// TestStartKernelWiresEngine covers §6+§4.F end to end against a fake REST
// server and a fake WebSocket dialer: StartKernel must POST api/kernels,
// then attach a Kernel Channel Engine to the returned id.
func TestStartKernelWiresEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/api/kernels" {
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"id": "kernel-1", "name": "python3",
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Dialer: fakeDialer})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	eng, err := c.StartKernel(ctx, "python3")
	require.NoError(t, err)
	require.NotNil(t, eng)
	defer eng.Dispose()

	assert.Equal(t, "kernel-1", eng.ID())
}

// TestNewSessionReturnsSession confirms NewSession builds a Session
// Coordinator without any network call; it does not inspect the
// KernelConnector the Session holds.
func TestNewSessionReturnsSession(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost:8888", Dialer: fakeDialer})
	s := c.NewSession("/notebook.ipynb", "", "notebook")
	require.NotNil(t, s)
}

func TestManagersAreWired(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost:8888"})
	require.NotNil(t, c.KernelManager())
	require.NotNil(t, c.SessionManager())
}
