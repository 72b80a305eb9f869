package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeEngine struct{ id string }

func (f *fakeEngine) ID() string { return f.id }

func TestRegisterLookupUnregister(t *testing.T) {
	e := &fakeEngine{id: "k1"}
	Register(e)
	defer Unregister("k1", e)

	got, ok := Lookup("k1")
	assert.True(t, ok)
	assert.Same(t, e, got)

	Unregister("k1", e)
	_, ok = Lookup("k1")
	assert.False(t, ok)
}

func TestUnregisterIsNoOpIfSupersededByNewerEngine(t *testing.T) {
	e1 := &fakeEngine{id: "k1"}
	e2 := &fakeEngine{id: "k1"}
	Register(e1)
	Register(e2) // reconnect reuses the id

	Unregister("k1", e1) // stale reference, must not evict e2
	got, ok := Lookup("k1")
	assert.True(t, ok)
	assert.Same(t, e2, got)

	Unregister("k1", e2)
}
