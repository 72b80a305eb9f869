package comm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMsg
}

type sentMsg struct {
	msgType  string
	commID   string
	content  map[string]interface{}
	metadata map[string]interface{}
}

func (s *fakeSender) SendCommMessage(msgType, commID string, content, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMsg{msgType: msgType, commID: commID, content: content, metadata: metadata})
	return nil
}

func (s *fakeSender) last() sentMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestOpenSendsCommOpenAndInstallsLocalComm(t *testing.T) {
	sender := &fakeSender{}
	r := NewRegistry(sender, nil)

	c, err := r.Open("jupyter.widget", "", map[string]interface{}{"x": 1}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID())
	assert.Equal(t, StateOpen, c.State())

	last := sender.last()
	assert.Equal(t, "comm_open", last.msgType)
	assert.Equal(t, c.ID(), last.commID)

	got, ok := r.Get(c.ID())
	assert.True(t, ok)
	assert.Same(t, c, got)
}

func TestServerInitiatedCommOpenResolvesLocalTarget(t *testing.T) {
	sender := &fakeSender{}
	r := NewRegistry(sender, nil)

	var openedWith map[string]interface{}
	r.RegisterTarget("tgt", func(c *Comm, openContent map[string]interface{}) {
		openedWith = openContent
		c.OnMessage(func(data, metadata map[string]interface{}) {})
	})

	r.HandleCommOpen("c1", "tgt", "", map[string]interface{}{"hello": "world"})

	_, ok := r.Get("c1")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"hello": "world"}, openedWith)
	assert.Equal(t, 0, sender.count(), "no comm_close should be sent for a resolved target")
}

func TestServerInitiatedCommOpenUnknownTargetIsRejected(t *testing.T) {
	sender := &fakeSender{}
	r := NewRegistry(sender, nil)

	r.HandleCommOpen("c1", "nope", "", nil)

	_, ok := r.Get("c1")
	assert.False(t, ok, "a rejected comm is never exposed")
	last := sender.last()
	assert.Equal(t, "comm_close", last.msgType)
	assert.Equal(t, "c1", last.commID)
}

func TestServerInitiatedCommOpenTargetPanicIsRejectedNotPropagated(t *testing.T) {
	sender := &fakeSender{}
	r := NewRegistry(sender, nil)

	r.RegisterTarget("boom", func(c *Comm, openContent map[string]interface{}) {
		panic("kaboom")
	})

	assert.NotPanics(t, func() {
		r.HandleCommOpen("c1", "boom", "", nil)
	})

	_, ok := r.Get("c1")
	assert.False(t, ok)
	assert.Equal(t, "comm_close", sender.last().msgType)
}

func TestAsyncModuleLoaderResolvesTargetAndDeliversQueuedMsgAfterOpen(t *testing.T) {
	sender := &fakeSender{}
	var opened bool
	loader := func(module string) (TargetFunc, bool) {
		assert.Equal(t, "m", module)
		return func(c *Comm, openContent map[string]interface{}) {
			opened = true
		}, true
	}
	r := NewRegistry(sender, loader)

	var delivered map[string]interface{}
	// Simulate the engine dispatching comm_open then comm_msg in sequence,
	// as the single-threaded dispatch loop would.
	r.HandleCommOpen("c1", "tgt", "m", map[string]interface{}{"k": "v"})
	assert.True(t, opened)

	c, ok := r.Get("c1")
	require.True(t, ok)
	c.OnMessage(func(data, metadata map[string]interface{}) { delivered = data })

	r.HandleCommMsg("c1", map[string]interface{}{"payload": "x"}, nil)
	assert.Equal(t, map[string]interface{}{"payload": "x"}, delivered)
}

func TestAsyncModuleLoaderMissingModuleIsRejected(t *testing.T) {
	sender := &fakeSender{}
	loader := func(module string) (TargetFunc, bool) { return nil, false }
	r := NewRegistry(sender, loader)

	r.HandleCommOpen("c1", "tgt", "missing-module", nil)

	_, ok := r.Get("c1")
	assert.False(t, ok)
	assert.Equal(t, "comm_close", sender.last().msgType)
}

func TestCommMsgForUnknownCommIsDroppedNotPanicked(t *testing.T) {
	sender := &fakeSender{}
	r := NewRegistry(sender, nil)
	assert.NotPanics(t, func() {
		r.HandleCommMsg("nope", map[string]interface{}{}, nil)
	})
}

func TestCommCloseIsIdempotentAndEvicts(t *testing.T) {
	sender := &fakeSender{}
	r := NewRegistry(sender, nil)
	r.RegisterTarget("tgt", func(c *Comm, openContent map[string]interface{}) {})
	r.HandleCommOpen("c1", "tgt", "", nil)

	var closedCount int
	c, _ := r.Get("c1")
	c.OnClose(func(data map[string]interface{}) { closedCount++ })

	r.HandleCommClose("c1", nil)
	r.HandleCommClose("c1", nil) // second close on an already-evicted id: no-op

	assert.Equal(t, 1, closedCount)
	_, ok := r.Get("c1")
	assert.False(t, ok)
}

func TestCloseAllClosesLocallyWithoutSendingCommClose(t *testing.T) {
	sender := &fakeSender{}
	r := NewRegistry(sender, nil)
	r.RegisterTarget("tgt", func(c *Comm, openContent map[string]interface{}) {})
	r.HandleCommOpen("c1", "tgt", "", nil)

	var closed bool
	c, _ := r.Get("c1")
	c.OnClose(func(map[string]interface{}) { closed = true })

	before := sender.count()
	r.CloseAll()

	assert.True(t, closed)
	assert.Equal(t, before, sender.count(), "CloseAll must not send comm_close to a dead kernel")
	assert.Equal(t, 0, r.Len())
}

func TestSendOnClosedCommFails(t *testing.T) {
	sender := &fakeSender{}
	r := NewRegistry(sender, nil)
	c, err := r.Open("tgt", "", nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close(nil, true))

	err = c.Send(map[string]interface{}{"x": 1}, nil)
	assert.Error(t, err)
}
