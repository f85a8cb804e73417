package states

import (
	"log"
	"testing"

	"github.com/stretchr/testify/require"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestStore() *Store {
	return NewStore(log.New(nopWriter{}, "", 0))
}

func TestSetAndGet(t *testing.T) {
	store := newTestStore()

	_, ok := store.State("switch.casting")
	require.False(t, ok)

	store.Set("switch.casting", "on")
	state, ok := store.State("switch.casting")
	require.True(t, ok)
	require.Equal(t, "on", state)
}

func TestListenersNotifiedOnChangeOnly(t *testing.T) {
	store := newTestStore()
	var changes []Change
	store.Subscribe(func(c Change) { changes = append(changes, c) })

	store.Set("switch.casting", "on")
	store.Set("switch.casting", "on") // no-op, same state
	store.Set("switch.casting", "off")

	require.Len(t, changes, 2)
	require.Equal(t, "", changes[0].OldState)
	require.Equal(t, "on", changes[0].NewState)
	require.Equal(t, "on", changes[1].OldState)
	require.Equal(t, "off", changes[1].NewState)
}

func TestAllReturnsCopy(t *testing.T) {
	store := newTestStore()
	store.Set("a", "1")

	all := store.All()
	all["a"] = "tampered"

	state, _ := store.State("a")
	require.Equal(t, "1", state)
}
