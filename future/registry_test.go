package future

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gojupyter/kernelclient/wire"
)

func TestFutureReplyThenIdleFiresOnDoneExactlyOnce(t *testing.T) {
	r := NewRegistry()
	f := r.New("m1", true, true)

	var mu sync.Mutex
	var replies, dones int
	f.OnReply(func(content map[string]interface{}) {
		mu.Lock()
		replies++
		mu.Unlock()
	})
	f.OnDone(func() {
		mu.Lock()
		dones++
		mu.Unlock()
	})

	assert.True(t, r.DeliverReply("m1", map[string]interface{}{"status": "ok"}))
	assert.False(t, f.IsDone(), "must not be done until idle arrives")

	assert.True(t, r.DeliverIOPub("m1", wire.Message{}, true))
	assert.True(t, f.IsDone())

	// A second idle delivery (late/duplicate) must not double-fire onDone.
	r.DeliverIOPub("m1", wire.Message{}, true)
	mu.Lock()
	assert.Equal(t, 1, replies)
	assert.Equal(t, 1, dones)
	mu.Unlock()
}

func TestFutureIdleBeforeReplyWaitsForReply(t *testing.T) {
	r := NewRegistry()
	f := r.New("m1", true, false)

	var done bool
	f.OnDone(func() { done = true })

	r.DeliverIOPub("m1", wire.Message{}, true)
	assert.False(t, done)

	r.DeliverReply("m1", map[string]interface{}{})
	assert.True(t, done)
}

func TestFutureNoReplyExpectedOnlyNeedsIdle(t *testing.T) {
	r := NewRegistry()
	f := r.New("m1", false, false)

	var done bool
	f.OnDone(func() { done = true })

	r.DeliverIOPub("m1", wire.Message{}, true)
	assert.True(t, done)
}

func TestRegistryDisposeOnDoneEvictsFuture(t *testing.T) {
	r := NewRegistry()
	r.New("m1", false, true)
	require.Equal(t, 1, r.Len())

	r.DeliverIOPub("m1", wire.Message{}, true)
	assert.Equal(t, 0, r.Len())

	// Further delivery for an evicted msg_id is unhandled.
	assert.False(t, r.DeliverIOPub("m1", wire.Message{}, false))
}

func TestFutureDisposeStopsFurtherSignalsAndIsIdempotent(t *testing.T) {
	r := NewRegistry()
	f := r.New("m1", true, false)

	var replies int
	f.OnReply(func(map[string]interface{}) { replies++ })

	f.Dispose()
	f.Dispose() // idempotent

	r.DeliverReply("m1", map[string]interface{}{})
	assert.Equal(t, 0, replies)
	assert.True(t, f.IsDisposed())
}

func TestMessageHooksRunLIFOAndSuppressDelivery(t *testing.T) {
	r := NewRegistry()
	f := r.New("m1", false, false)

	var order []string
	var delivered bool
	f.OnIOPub(func(wire.Message) { delivered = true })

	f.RegisterMessageHook(func(wire.Message) bool {
		order = append(order, "first")
		return true
	})
	dereg := f.RegisterMessageHook(func(wire.Message) bool {
		order = append(order, "second")
		return false // suppress
	})

	r.DeliverIOPub("m1", wire.Message{}, false)
	assert.Equal(t, []string{"second", "first"}, order, "hooks run LIFO")
	assert.False(t, delivered, "falsy hook return suppresses onIOPub")

	dereg()
	order = nil
	r.DeliverIOPub("m1", wire.Message{}, false)
	assert.Equal(t, []string{"first"}, order)
	assert.True(t, delivered)
}

func TestHookSuppressionDoesNotBlockTerminalIdleBookkeeping(t *testing.T) {
	r := NewRegistry()
	f := r.New("m1", false, false)

	var done bool
	f.OnDone(func() { done = true })
	f.RegisterMessageHook(func(wire.Message) bool { return false })

	r.DeliverIOPub("m1", wire.Message{}, true)
	assert.True(t, done, "idle bookkeeping tracks the raw stream regardless of hook suppression")
}

func TestTerminateAllInvokesOnTerminateInsteadOfOnDone(t *testing.T) {
	r := NewRegistry()
	f1 := r.New("m1", true, false)
	f2 := r.New("m2", true, false)

	var terminated []string
	var mu sync.Mutex
	var doneFired bool

	f1.OnTerminate(func(err error) {
		mu.Lock()
		terminated = append(terminated, "m1")
		mu.Unlock()
	})
	f2.OnTerminate(func(err error) {
		mu.Lock()
		terminated = append(terminated, "m2")
		mu.Unlock()
	})
	f1.OnDone(func() { doneFired = true })

	cause := assert.AnError
	r.TerminateAll(cause)

	mu.Lock()
	assert.ElementsMatch(t, []string{"m1", "m2"}, terminated)
	mu.Unlock()
	assert.False(t, doneFired)
	assert.Equal(t, 0, r.Len())
	assert.True(t, f1.IsDisposed())

	// Futures already terminated don't get force-terminated again.
	r.TerminateAll(cause)
}

func TestDeliverStdinRoutesToRegisteredFuture(t *testing.T) {
	r := NewRegistry()
	f := r.New("m1", false, false)

	var got wire.Message
	f.OnStdin(func(msg wire.Message) { got = msg })

	input := wire.Message{Content: map[string]interface{}{"value": "hi"}}
	assert.True(t, r.DeliverStdin("m1", input))
	assert.Equal(t, input, got)

	assert.False(t, r.DeliverStdin("unknown", input))
}
