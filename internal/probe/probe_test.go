package probe

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tfield/dashcast-go/internal/castctl"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

type stubRunner struct {
	output string
	err    error
}

func (s *stubRunner) Run(ctx context.Context, args ...string) (string, error) {
	return s.output, s.err
}

func newTestProbe(runner *stubRunner) *Probe {
	return New(castctl.NewTool(runner, time.Second), log.New(nopWriter{}, "", 0))
}

func TestIsIdle(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   bool
	}{
		{"single volume line", "Volume: 50\n", true},
		{"volume and mute", "Volume: 50\nVolume muted: False\n", true},
		{"empty", "", false},
		{"three lines", "Volume: 50\nVolume muted: False\nVolume step: 5\n", false},
		{"non volume line", "Title: Something\nVolume: 50\n", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsIdle(tc.status))
		})
	}
}

func TestIsDashboard(t *testing.T) {
	tests := []struct {
		name   string
		status string
		marker string
		want   bool
	}{
		{"marker present", "Title: Dummy 2\nVolume: 0\n", "Dummy", true},
		{"custom marker", "Title: Wallpanel\nVolume: 0\n", "Wallpanel", true},
		{"generic indicator", "Casting: http://ha.local:8123/lovelace\nVolume: 0\n", "Dummy", true},
		{"idle never dashboard", "Volume: 50\n", "Dummy", false},
		{"nothing playing veto", "Nothing is currently playing\nDummy\nExtra\n", "Dummy", false},
		{"idle word veto", "State: Idle\nTitle: Dummy 2\n", "Dummy", false},
		{"foreign content", "Title: The Matrix\nState: PLAYING\n", "Dummy", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsDashboard(tc.status, tc.marker))
		})
	}
}

func TestIsMediaPlaying(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   bool
	}{
		{"playing state", "Title: The Matrix\nState: PLAYING\nVolume: 50\n", true},
		{"paused state", "Title: The Matrix\nState: PAUSED\n", true},
		{"buffering state", "State: BUFFERING\nExtra line\n", true},
		{"starting cast", "Casting: Starting\nVolume: 50\n", true},
		{"voice assistant", "Google Assistant is processing\nVolume: 50\n", true},
		{"foreign title without state", "Title: Holiday Photos\nApp: Gallery\n", true},
		{"media app name", "Spotify\nSomething else\nVolume: 50\n", true},
		{"idle", "Volume: 50\n", false},
		{"dashboard title", "Title: Dummy 2\nVolume: 0\n", false},
		{"nothing playing", "Nothing is currently playing\nVolume: 50\nExtra\n", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsMediaPlaying(tc.status))
		})
	}
}

func TestParseVolume(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   int
	}{
		{"plain", "Volume: 30\n", 30},
		{"zero", "Volume: 0\n", 0},
		{"missing", "Title: Dummy 2\n", DefaultVolume},
		{"garbage", "Volume: loud\n", DefaultVolume},
		{"out of range", "Volume: 250\n", DefaultVolume},
		{"empty value", "Volume:\n", DefaultVolume},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ParseVolume(tc.status))
		})
	}
}

func TestProbeUnavailableIsUnknown(t *testing.T) {
	p := newTestProbe(&stubRunner{err: errors.New("timeout")})

	require.Equal(t, Unknown, p.DashboardActive(context.Background(), "192.168.1.10", "Dummy"))
	require.Equal(t, Unknown, p.MediaPlaying(context.Background(), "192.168.1.10"))
	_, ok := p.RawStatus(context.Background(), "192.168.1.10")
	require.False(t, ok)
}

func TestSpeakerGroupActiveShortCircuits(t *testing.T) {
	p := newTestProbe(&stubRunner{output: "State: PLAYING\nTitle: Morning Mix\n"})
	resolve := func(ctx context.Context, name string) (string, error) {
		return "192.168.1.20", nil
	}

	require.Equal(t, Yes, p.SpeakerGroupActive(context.Background(), resolve, []string{"Downstairs"}))
}

func TestSpeakerGroupUnresolvableCountsInactive(t *testing.T) {
	p := newTestProbe(&stubRunner{output: "State: PLAYING\n"})
	resolve := func(ctx context.Context, name string) (string, error) {
		return "", errors.New("not found")
	}

	require.Equal(t, No, p.SpeakerGroupActive(context.Background(), resolve, []string{"Downstairs"}))
}
