package kernel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gojupyter/kernelclient/internal/transport"
	"github.com/gojupyter/kernelclient/jkerrors"
	"github.com/gojupyter/kernelclient/restclient"
	"github.com/gojupyter/kernelclient/wire"
)

// fakeConn is an in-memory transport.Conn, mirroring
// internal/transport/socket_test.go's fake so the kernel package can drive
// an Engine without a real network connection.
type fakeConn struct {
	mu       sync.Mutex
	sent     [][]byte
	toRead   chan frame
	closed   bool
}

type frame struct {
	data []byte
	err  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{toRead: make(chan frame, 32)}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	f, ok := <-c.toRead
	if !ok {
		return 0, nil, assertAnError{}
	}
	return websocket.TextMessage, f.data, f.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.toRead)
	}
	return nil
}

func (c *fakeConn) push(data string) { c.toRead <- frame{data: []byte(data)} }

type assertAnError struct{}

func (assertAnError) Error() string { return "fake connection closed" }

func dialerFor(conns ...*fakeConn) transport.Dialer {
	i := 0
	var mu sync.Mutex
	return func(ctx context.Context, url string) (transport.Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(conns) {
			return nil, assertAnError{}
		}
		c := conns[i]
		i++
		return c, nil
	}
}

// fakeREST is a no-op RESTClient stub; individual tests override the
// fields they exercise.
type fakeREST struct {
	interruptFn func(ctx context.Context, id string) error
	restartFn   func(ctx context.Context, id string) (restclient.KernelModel, error)
	deleteFn    func(ctx context.Context, id string) error
	specsFn     func(ctx context.Context) (restclient.SpecsBundle, error)
}

func (f *fakeREST) Interrupt(ctx context.Context, id string) error {
	if f.interruptFn != nil {
		return f.interruptFn(ctx, id)
	}
	return nil
}

func (f *fakeREST) Restart(ctx context.Context, id string) (restclient.KernelModel, error) {
	if f.restartFn != nil {
		return f.restartFn(ctx, id)
	}
	return restclient.KernelModel{ID: id}, nil
}

func (f *fakeREST) DeleteKernel(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

func (f *fakeREST) GetKernelSpecs(ctx context.Context) (restclient.SpecsBundle, error) {
	if f.specsFn != nil {
		return f.specsFn(ctx)
	}
	return restclient.SpecsBundle{}, nil
}

func newTestEngine(t *testing.T, conns ...*fakeConn) (*Engine, *fakeREST) {
	t.Helper()
	rest := &fakeREST{}
	e, err := NewEngine(context.Background(), Config{
		BaseURL: "http://test",
		WSURL:   "ws://test",
		ID:      "kernel-1",
		Name:    "python3",
		REST:    rest,
		Dialer:  dialerFor(conns...),
	})
	require.NoError(t, err)
	t.Cleanup(e.Dispose)
	return e, rest
}

func waitStatus(t *testing.T, ch <-chan Event, want Status) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == EventStatusChanged && ev.Status == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %v", want)
		}
	}
}

func statusFrame(parentMsgID, state string) string {
	msg := wire.NewMessage("kernel-session", "kernel", "status", wire.ChannelIOPub,
		map[string]interface{}{"execution_state": state}, nil)
	msg.ParentHeader.MsgID = parentMsgID
	data, _, _ := wire.Encode(msg)
	return string(data)
}

func replyFrame(parentMsgID, msgType string, content map[string]interface{}) string {
	msg := wire.NewMessage("kernel-session", "kernel", msgType, wire.ChannelShell, content, nil)
	msg.ParentHeader.MsgID = parentMsgID
	data, _, _ := wire.Encode(msg)
	return string(data)
}

// TestExecuteHappyPath covers S1: execute_request, execute_reply on shell,
// busy then idle on iopub — the Future completes and is evicted.
func TestExecuteHappyPath(t *testing.T) {
	conn := newFakeConn()
	e, _ := newTestEngine(t, conn)

	req := NewExecuteRequest("1+1")
	f, err := e.Execute(req, true)
	require.NoError(t, err)
	require.NotNil(t, f)

	var gotReply bool
	var mu sync.Mutex
	doneCh := make(chan struct{})
	f.OnReply(func(content map[string]interface{}) {
		mu.Lock()
		gotReply = true
		mu.Unlock()
	})
	f.OnDone(func() { close(doneCh) })

	conn.push(statusFrame(f.MsgID(), "busy"))
	conn.push(replyFrame(f.MsgID(), "execute_reply", map[string]interface{}{
		"status": "ok", "execution_count": 1,
	}))
	conn.push(statusFrame(f.MsgID(), "idle"))

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for execute future to finish")
	}
	mu.Lock()
	assert.True(t, gotReply)
	mu.Unlock()
}

// TestOutOfOrderIdleBeforeReply covers S2: the idle status can arrive before
// the shell reply; the future must still wait for both.
func TestOutOfOrderIdleBeforeReply(t *testing.T) {
	conn := newFakeConn()
	e, _ := newTestEngine(t, conn)

	f, err := e.Execute(NewExecuteRequest("x"), true)
	require.NoError(t, err)

	doneCh := make(chan struct{})
	f.OnDone(func() { close(doneCh) })

	conn.push(statusFrame(f.MsgID(), "idle"))

	select {
	case <-doneCh:
		t.Fatal("future finished before its reply arrived")
	case <-time.After(100 * time.Millisecond):
	}

	conn.push(replyFrame(f.MsgID(), "execute_reply", map[string]interface{}{"status": "ok", "execution_count": 1}))

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for execute future to finish after late reply")
	}
}

// TestReconnectQueuesSendUntilFlush covers S3: a send issued while the
// socket is mid-reconnect queues and is only written once the socket is
// Open again and an iopub status triggers the flush.
func TestReconnectQueuesSendUntilFlush(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	e, _ := newTestEngine(t, conn1, conn2)

	statusCh, unsub := e.ListenStatus()
	defer unsub()

	// Drop the first connection to force a reconnect.
	conn1.Close()
	waitStatus(t, statusCh, StatusReconnecting)

	f, err := e.Execute(NewExecuteRequest("1+1"), true)
	require.NoError(t, err)
	require.NotNil(t, f)

	conn2.mu.Lock()
	sentSoFar := len(conn2.sent)
	conn2.mu.Unlock()
	assert.Equal(t, 0, sentSoFar, "send must queue, not hit the new connection, until a status flush")

	conn2.push(statusFrame(f.MsgID(), "idle"))
	conn2.push(replyFrame(f.MsgID(), "execute_reply", map[string]interface{}{"status": "ok", "execution_count": 1}))

	deadline := time.After(5 * time.Second)
	for {
		conn2.mu.Lock()
		n := len(conn2.sent)
		conn2.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for queued execute_request to flush onto the new connection")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestReconnectExhaustionMarksEngineDead covers S6: once the Managed
// Socket's reconnect budget is exhausted, the engine transitions to Dead
// and a subsequent Execute is rejected with ErrKernelDead.
func TestReconnectExhaustionMarksEngineDead(t *testing.T) {
	conn := newFakeConn()
	e, err := NewEngine(context.Background(), Config{
		BaseURL:        "http://test",
		WSURL:          "ws://test",
		ID:             "kernel-1",
		Name:           "python3",
		REST:           &fakeREST{},
		Dialer:         dialerFor(conn),
		ReconnectLimit: 1,
	})
	require.NoError(t, err)
	defer e.Dispose()

	statusCh, unsub := e.ListenStatus()
	defer unsub()

	conn.Close()
	waitStatus(t, statusCh, StatusDead)

	assert.Equal(t, StatusDead, e.Status())
	_, err = e.Execute(NewExecuteRequest("1+1"), true)
	assert.ErrorIs(t, err, jkerrors.ErrKernelDead)
}
