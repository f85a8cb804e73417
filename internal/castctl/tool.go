package castctl

import (
	"context"
	"strconv"
	"time"
)

// Tool wraps the device-control CLI verb contract:
// scan, status, stop, volume <0-100> and cast_site <url>.
type Tool struct {
	runner  Runner
	timeout time.Duration
}

// NewTool creates a Tool with a per-command timeout. A zero timeout
// falls back to DefaultCommandTimeout.
func NewTool(runner Runner, timeout time.Duration) *Tool {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Tool{runner: runner, timeout: timeout}
}

// Scan lists reachable devices. Output format: one "<address> - <name>"
// line per device.
func (t *Tool) Scan(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = t.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return t.runner.Run(ctx, "scan")
}

// Status returns the free-text status dump for a device.
func (t *Tool) Status(ctx context.Context, address string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.runner.Run(ctx, "-d", address, "status")
}

// Stop stops whatever the device is currently playing or showing.
func (t *Tool) Stop(ctx context.Context, address string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	_, err := t.runner.Run(ctx, "-d", address, "stop")
	return err
}

// SetVolume sets the device volume in the 0-100 range.
func (t *Tool) SetVolume(ctx context.Context, address string, volume int) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	_, err := t.runner.Run(ctx, "-d", address, "volume", strconv.Itoa(volume))
	return err
}

// CastSite casts a URL to the device and returns the tool's output for
// success-heuristic inspection by the caller.
func (t *Tool) CastSite(ctx context.Context, address, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.runner.Run(ctx, "-d", address, "cast_site", url)
}
