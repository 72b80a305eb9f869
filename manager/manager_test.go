package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPollEmitsOnlyOnMismatch covers property #6: a poll whose snapshot is
// deep-equal to the prior one emits nothing; a poll whose snapshot differs
// emits exactly one event.
func TestPollEmitsOnlyOnMismatch(t *testing.T) {
	var mu sync.Mutex
	snapshot := map[string]interface{}{"k1": "running"}

	m := New(
		func(ctx context.Context) (map[string]interface{}, error) {
			mu.Lock()
			defer mu.Unlock()
			out := make(map[string]interface{}, len(snapshot))
			for k, v := range snapshot {
				out[k] = v
			}
			return out, nil
		},
		func(ctx context.Context) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		},
	)

	events, unsub := m.Listen()
	defer unsub()

	m.pollRunning(context.Background())
	select {
	case ev := <-events:
		assert.Equal(t, EventRunningChanged, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a runningChanged event on the first poll")
	}

	// Same snapshot again: no new event.
	m.pollRunning(context.Background())
	select {
	case ev := <-events:
		t.Fatalf("unexpected event on unchanged poll: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	// Mutate the snapshot: exactly one more event.
	mu.Lock()
	snapshot["k2"] = "running"
	mu.Unlock()
	m.pollRunning(context.Background())
	select {
	case ev := <-events:
		assert.Equal(t, EventRunningChanged, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a runningChanged event after the snapshot changed")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestReadyClosesAfterBothFirstPolls covers spec §4.H's readyPromise.
func TestReadyClosesAfterBothFirstPolls(t *testing.T) {
	m := New(
		func(ctx context.Context) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		},
		func(ctx context.Context) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		},
	)

	m.pollRunning(context.Background())
	select {
	case <-m.Ready():
		t.Fatal("ready closed before the specs poll ran")
	default:
	}

	m.pollSpecs(context.Background())
	select {
	case <-m.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready did not close after both first polls completed")
	}
}

// TestShutdownRemovesFromCacheOptimistically covers the shutdown(id)
// contract: immediate removal plus a runningChanged emission.
func TestShutdownRemovesFromCacheOptimistically(t *testing.T) {
	m := New(
		func(ctx context.Context) (map[string]interface{}, error) {
			return map[string]interface{}{"k1": "running"}, nil
		},
		func(ctx context.Context) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		},
	)
	m.pollRunning(context.Background())

	events, unsub := m.Listen()
	defer unsub()

	m.Shutdown("k1")
	require.NotContains(t, m.Cache(), "k1")

	select {
	case ev := <-events:
		assert.Equal(t, EventRunningChanged, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a runningChanged event after Shutdown")
	}
}
