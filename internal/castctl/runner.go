package castctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds a single control-tool invocation.
const DefaultCommandTimeout = 30 * time.Second

// KillGracePeriod is how long a process gets to exit after a graceful
// terminate before it is forcibly killed.
const KillGracePeriod = 5 * time.Second

// ErrCommandFailed is returned when the control tool exits non-zero.
var ErrCommandFailed = errors.New("control command failed")

// Runner executes a control-tool invocation and returns its stdout.
// Implementations must honor context cancellation and deadlines.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner runs the configured binary as a subprocess. On context
// cancellation the process receives SIGTERM and, if it has not exited
// within KillGracePeriod, SIGKILL.
type ExecRunner struct {
	Binary string
}

// NewExecRunner creates an ExecRunner for the given binary name or path.
func NewExecRunner(binary string) *ExecRunner {
	if binary == "" {
		binary = "catt"
	}
	return &ExecRunner{Binary: binary}
}

// Run executes the binary with the given arguments and returns combined
// trimmed stdout. A non-zero exit wraps ErrCommandFailed with the stderr
// tail for context.
func (runner *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, runner.Binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Graceful terminate first, forced kill after the grace period.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(terminateSignal)
	}
	cmd.WaitDelay = KillGracePeriod

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s %s: %w", runner.Binary, strings.Join(args, " "), ctx.Err())
		}
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = err.Error()
		}
		return "", fmt.Errorf("%s %s: %w: %s", runner.Binary, strings.Join(args, " "), ErrCommandFailed, errMsg)
	}

	return strings.TrimSpace(stdout.String()), nil
}
