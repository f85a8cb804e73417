package caster

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/tfield/dashcast-go/internal/castctl"
	"github.com/tfield/dashcast-go/internal/probe"
)

// Options carry the per-window cast parameters.
type Options struct {
	// Volume is the configured dashboard volume on a 0-10 scale, nil
	// when the pre-cast volume should be restored instead.
	Volume *int
	// Marker identifies the dashboard in status output.
	Marker string
}

// Executor drives the full cast sequence against a device address:
// capture volume, stop, mute, cast, verify, restore volume. At most
// one sequence runs per address at a time.
type Executor struct {
	tool             *castctl.Tool
	probe            *probe.Probe
	logger           *log.Logger
	maxRetries       int
	retryDelay       time.Duration
	verificationWait time.Duration
	inflight         *inflightRegistry
}

// NewExecutor builds an Executor. maxRetries is the number of full
// sequence attempts; retryDelay is the initial pause between attempts
// and grows by half after each failure.
func NewExecutor(tool *castctl.Tool, pr *probe.Probe, maxRetries int, retryDelay, verificationWait, stuckTimeout time.Duration, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.Default()
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Executor{
		tool:             tool,
		probe:            pr,
		logger:           logger,
		maxRetries:       maxRetries,
		retryDelay:       retryDelay,
		verificationWait: verificationWait,
		inflight:         newInflightRegistry(stuckTimeout, logger),
	}
}

// InFlight reports whether a cast is currently running for the address.
func (e *Executor) InFlight(address string) bool {
	return e.inflight.active(address)
}

// Shutdown cancels every in-flight cast.
func (e *Executor) Shutdown() {
	e.inflight.cancelAll()
}

// Stop halts whatever the device is playing.
func (e *Executor) Stop(ctx context.Context, address string) error {
	return e.tool.Stop(ctx, address)
}

// Cast runs the cast sequence for url on the device at address,
// retrying failed attempts up to the configured limit. It returns true
// once the dashboard is confirmed (or strongly indicated) on the
// device. ErrCastInProgress is returned without side effects when the
// address is already being cast to.
func (e *Executor) Cast(ctx context.Context, address, url string, opts Options) (bool, error) {
	op, err := e.inflight.begin(ctx, address, url)
	if err != nil {
		return false, err
	}
	defer e.inflight.release(op)

	delay := e.retryDelay
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		ok, err := e.castOnce(op.Context(), address, url, opts)
		if err == nil && ok {
			return true, nil
		}
		if err != nil {
			e.logger.Printf("Cast attempt %d/%d for %s failed: %v", attempt, e.maxRetries, address, err)
		} else {
			e.logger.Printf("Cast attempt %d/%d for %s did not verify", attempt, e.maxRetries, address)
		}
		if attempt == e.maxRetries {
			break
		}
		if err := sleepCtx(op.Context(), delay); err != nil {
			return false, err
		}
		delay = delay * 3 / 2
	}
	return false, nil
}

// castOnce performs a single cast attempt. Volume is restored on a
// best-effort basis; only command and verification failures count
// against the attempt.
func (e *Executor) castOnce(ctx context.Context, address, url string, opts Options) (bool, error) {
	preVolume := e.captureVolume(ctx, address)

	if err := e.tool.Stop(ctx, address); err != nil {
		return false, err
	}
	if err := e.tool.SetVolume(ctx, address, 0); err != nil {
		return false, err
	}
	out, err := e.tool.CastSite(ctx, address, url)
	if err != nil {
		return false, err
	}
	// The tool reports "Casting <url> on <device>" when the launch went
	// through even if the later status probe is inconclusive.
	likely := strings.Contains(out, "Casting") && strings.Contains(out, "on")

	if err := sleepCtx(ctx, e.verificationWait); err != nil {
		return false, err
	}
	verified := e.probe.DashboardActive(ctx, address, opts.Marker)

	if verified == probe.Yes || likely {
		e.restoreVolume(ctx, address, preVolume, opts.Volume)
		return true, nil
	}
	return false, nil
}

// captureVolume reads the device volume before muting, falling back to
// the midpoint when the status is unreadable.
func (e *Executor) captureVolume(ctx context.Context, address string) int {
	status, ok := e.probe.RawStatus(ctx, address)
	if !ok {
		return probe.DefaultVolume
	}
	return probe.ParseVolume(status)
}

// restoreVolume sets the post-cast volume: the configured dashboard
// volume when present, otherwise the level captured before muting.
// Failures are logged and swallowed since the dashboard is already up.
func (e *Executor) restoreVolume(ctx context.Context, address string, preVolume int, configured *int) {
	target := preVolume
	if configured != nil {
		target = *configured * 10
	}
	if target < 0 {
		target = 0
	}
	if target > 100 {
		target = 100
	}
	if err := e.tool.SetVolume(ctx, address, target); err != nil {
		e.logger.Printf("Failed to restore volume %d on %s: %v", target, address, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
