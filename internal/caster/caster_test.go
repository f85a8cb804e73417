package caster

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tfield/dashcast-go/internal/castctl"
	"github.com/tfield/dashcast-go/internal/probe"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	handler func(call int, args []string) (string, error)
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	call := len(f.calls)
	f.mu.Unlock()
	return f.handler(call, args)
}

func (f *fakeRunner) verbs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var verbs []string
	for _, args := range f.calls {
		if args[0] == "-d" {
			verbs = append(verbs, args[2])
		} else {
			verbs = append(verbs, args[0])
		}
	}
	return verbs
}

func newTestExecutor(runner *fakeRunner, maxRetries int) *Executor {
	tool := castctl.NewTool(runner, time.Second)
	pr := probe.New(tool, log.New(testWriter{}, "", 0))
	return NewExecutor(tool, pr, maxRetries, 0, 0, time.Minute, log.New(testWriter{}, "", 0))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestCastSequenceAndVolumeRestore(t *testing.T) {
	castDone := false
	runner := &fakeRunner{handler: func(call int, args []string) (string, error) {
		verb := args[0]
		if verb == "-d" {
			verb = args[2]
		}
		switch verb {
		case "status":
			if castDone {
				return "Title: Dummy 2\nVolume: 0", nil
			}
			return "Volume: 30\nVolume muted: False", nil
		case "cast_site":
			castDone = true
			return "Casting http://ha.local/dash on Kitchen", nil
		default:
			return "", nil
		}
	}}
	exec := newTestExecutor(runner, 3)

	ok, err := exec.Cast(context.Background(), "192.168.1.10", "http://ha.local/dash", Options{Marker: "Dummy"})
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, []string{"status", "stop", "volume", "cast_site", "status", "volume"}, runner.verbs())
	// No configured volume, so the pre-cast level comes back.
	require.Equal(t, []string{"-d", "192.168.1.10", "volume", "30"}, runner.calls[5])
}

func TestCastRestoresConfiguredVolume(t *testing.T) {
	castDone := false
	runner := &fakeRunner{handler: func(call int, args []string) (string, error) {
		verb := args[0]
		if verb == "-d" {
			verb = args[2]
		}
		switch verb {
		case "status":
			if castDone {
				return "Title: Dummy 2", nil
			}
			return "Volume: 80", nil
		case "cast_site":
			castDone = true
			return "Casting http://ha.local/dash on Kitchen", nil
		default:
			return "", nil
		}
	}}
	exec := newTestExecutor(runner, 1)

	volume := 4
	ok, err := exec.Cast(context.Background(), "192.168.1.10", "http://ha.local/dash", Options{Volume: &volume, Marker: "Dummy"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"-d", "192.168.1.10", "volume", "40"}, runner.calls[len(runner.calls)-1])
}

func TestCastRetriesThenSucceeds(t *testing.T) {
	castAttempts := 0
	runner := &fakeRunner{handler: func(call int, args []string) (string, error) {
		verb := args[0]
		if verb == "-d" {
			verb = args[2]
		}
		switch verb {
		case "status":
			if castAttempts >= 2 {
				return "Title: Dummy 2", nil
			}
			return "Volume: 50", nil
		case "cast_site":
			castAttempts++
			if castAttempts == 1 {
				return "", errors.New("device unreachable")
			}
			return "Casting http://ha.local/dash on Kitchen", nil
		default:
			return "", nil
		}
	}}
	exec := newTestExecutor(runner, 3)

	ok, err := exec.Cast(context.Background(), "192.168.1.10", "http://ha.local/dash", Options{Marker: "Dummy"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, castAttempts)
}

func TestCastExhaustsRetries(t *testing.T) {
	runner := &fakeRunner{handler: func(call int, args []string) (string, error) {
		verb := args[0]
		if verb == "-d" {
			verb = args[2]
		}
		if verb == "cast_site" {
			return "", errors.New("device unreachable")
		}
		return "Volume: 50", nil
	}}
	exec := newTestExecutor(runner, 3)

	ok, err := exec.Cast(context.Background(), "192.168.1.10", "http://ha.local/dash", Options{Marker: "Dummy"})
	require.NoError(t, err)
	require.False(t, ok)

	casts := 0
	for _, verb := range runner.verbs() {
		if verb == "cast_site" {
			casts++
		}
	}
	require.Equal(t, 3, casts)
}

func TestCastSingleFlightPerAddress(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	runner := &fakeRunner{handler: func(call int, args []string) (string, error) {
		verb := args[0]
		if verb == "-d" {
			verb = args[2]
		}
		if verb == "cast_site" {
			once.Do(func() { close(started) })
			<-block
			return "Casting http://ha.local/dash on Kitchen", nil
		}
		return "Title: Dummy 2\nVolume: 50", nil
	}}
	exec := newTestExecutor(runner, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ok, err := exec.Cast(context.Background(), "192.168.1.10", "http://ha.local/dash", Options{Marker: "Dummy"})
		require.NoError(t, err)
		require.True(t, ok)
	}()

	<-started
	require.True(t, exec.InFlight("192.168.1.10"))

	before := len(runner.verbs())
	ok, err := exec.Cast(context.Background(), "192.168.1.10", "http://ha.local/dash", Options{Marker: "Dummy"})
	require.ErrorIs(t, err, ErrCastInProgress)
	require.False(t, ok)
	require.Len(t, runner.verbs(), before)

	close(block)
	<-done
	require.False(t, exec.InFlight("192.168.1.10"))
}

func TestStuckCastIsForceCleaned(t *testing.T) {
	registry := newInflightRegistry(time.Minute, log.New(testWriter{}, "", 0))
	op, err := registry.begin(context.Background(), "192.168.1.10", "http://ha.local/dash")
	require.NoError(t, err)

	// A fresh operation blocks new claims.
	_, err = registry.begin(context.Background(), "192.168.1.10", "http://ha.local/dash")
	require.ErrorIs(t, err, ErrCastInProgress)

	// Age the operation past the stuck timeout.
	registry.now = func() time.Time { return op.StartedAt.Add(2 * time.Minute) }
	replacement, err := registry.begin(context.Background(), "192.168.1.10", "http://ha.local/dash")
	require.NoError(t, err)
	require.Error(t, op.Context().Err())

	registry.release(replacement)
	require.False(t, registry.active("192.168.1.10"))
}
