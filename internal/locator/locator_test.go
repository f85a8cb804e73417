package locator

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tfield/dashcast-go/internal/castctl"
)

type fakeRunner struct {
	mu     sync.Mutex
	scans  int
	output string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if args[0] == "scan" {
		f.scans++
	}
	return f.output, f.err
}

func (f *fakeRunner) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestLocator(runner *fakeRunner) *Locator {
	tool := castctl.NewTool(runner, time.Second)
	return New(tool, log.New(nopWriter{}, "", 0))
}

const scanOutput = `Scanning Chromecasts...
192.168.1.10 - Kitchen Display
192.168.1.11 - Living Room TV
`

func TestResolveAddressBypassesScan(t *testing.T) {
	runner := &fakeRunner{output: scanOutput}
	loc := newTestLocator(runner)

	for _, input := range []string{"192.168.1.10", "192.168.1.10:8009", "fe80::1"} {
		got, err := loc.Resolve(context.Background(), input)
		require.NoError(t, err)
		require.Equal(t, input, got)
	}
	require.Zero(t, runner.scanCount())
}

func TestResolveByNameCaseInsensitive(t *testing.T) {
	runner := &fakeRunner{output: scanOutput}
	loc := newTestLocator(runner)

	got, err := loc.Resolve(context.Background(), "kitchen display")
	require.NoError(t, err)
	require.Equal(t, "192.168.1.10", got)
}

func TestResolveCachesAllScannedDevices(t *testing.T) {
	runner := &fakeRunner{output: scanOutput}
	loc := newTestLocator(runner)

	_, err := loc.Resolve(context.Background(), "Kitchen Display")
	require.NoError(t, err)
	require.Equal(t, 1, runner.scanCount())

	// The sibling device was cached by the same scan.
	got, err := loc.Resolve(context.Background(), "Living Room TV")
	require.NoError(t, err)
	require.Equal(t, "192.168.1.11", got)
	require.Equal(t, 1, runner.scanCount())
}

func TestResolveCacheExpires(t *testing.T) {
	runner := &fakeRunner{output: scanOutput}
	loc := newTestLocator(runner)
	base := time.Now()
	loc.now = func() time.Time { return base }

	_, err := loc.Resolve(context.Background(), "Kitchen Display")
	require.NoError(t, err)

	loc.now = func() time.Time { return base.Add(CacheTTL + time.Second) }
	_, err = loc.Resolve(context.Background(), "Kitchen Display")
	require.NoError(t, err)
	require.Equal(t, 2, runner.scanCount())
}

func TestResolveUnknownDevice(t *testing.T) {
	runner := &fakeRunner{output: scanOutput}
	loc := newTestLocator(runner)

	_, err := loc.Resolve(context.Background(), "Bedroom Hub")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveScanFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("network down")}
	loc := newTestLocator(runner)

	_, err := loc.Resolve(context.Background(), "Kitchen Display")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestParseScanOutputSkipsNoise(t *testing.T) {
	found := parseScanOutput("Scanning...\n\nnot a device line\n192.168.1.10 - Kitchen Display\n")
	require.Equal(t, map[string]string{"Kitchen Display": "192.168.1.10"}, found)
}
