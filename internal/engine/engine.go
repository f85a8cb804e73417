// Package engine runs the reconciliation loop that keeps idle devices
// on their configured dashboards.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tfield/dashcast-go/internal/caster"
	"github.com/tfield/dashcast-go/internal/config"
	"github.com/tfield/dashcast-go/internal/gate"
	"github.com/tfield/dashcast-go/internal/health"
	"github.com/tfield/dashcast-go/internal/locator"
	"github.com/tfield/dashcast-go/internal/probe"
	"github.com/tfield/dashcast-go/internal/states"
	"github.com/tfield/dashcast-go/internal/timewindow"
)

// ErrUnknownDevice is returned for operations naming a device that is
// not in the configuration.
var ErrUnknownDevice = errors.New("unknown device")

const (
	// StabilizationWindow is how long a device must stay disconnected
	// before the first reconnect attempt.
	StabilizationWindow = 30 * time.Second

	// ReconnectCeiling suspends reconnection after this many failed
	// attempts until a non-disconnected status is observed.
	ReconnectCeiling = 10

	// windowSwitchSettle is the pause between stopping the old
	// dashboard and casting the new one on a window transition.
	windowSwitchSettle = 2 * time.Second
)

// Engine owns the per-device runtime state and drives the periodic
// reconciliation ticks.
type Engine struct {
	cfg      config.Config
	locator  *locator.Locator
	probe    *probe.Probe
	gate     *gate.Checker
	caster   *caster.Executor
	health   *health.Recorder
	states   *states.Store
	logger   *log.Logger
	notifier func(Event)

	// tickMu serializes ticks; an overlapping tick skips instead of
	// queuing.
	tickMu sync.Mutex

	// stateMu guards devices for concurrent snapshot readers.
	stateMu sync.Mutex
	devices map[string]*deviceRuntime

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	stable time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Engine over its collaborators. Runtime entries are
// created for every configured device up front so snapshots include
// devices that have never been reached.
func New(cfg config.Config, loc *locator.Locator, pr *probe.Probe, gt *gate.Checker, cast *caster.Executor, rec *health.Recorder, st *states.Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{
		cfg:     cfg,
		locator: loc,
		probe:   pr,
		gate:    gt,
		caster:  cast,
		health:  rec,
		states:  st,
		logger:  logger,
		devices: make(map[string]*deviceRuntime, len(cfg.Devices)),
		ctx:     context.Background(),
		now:     time.Now,
		sleep:   sleepCtx,
		stable:  StabilizationWindow,
	}
	for _, spec := range cfg.Devices {
		e.devices[spec.Name] = &deviceRuntime{spec: spec, status: StatusUnknown}
	}
	return e
}

// SetNotifier installs a callback invoked on every classification
// change. Must be set before Start.
func (e *Engine) SetNotifier(fn func(Event)) { e.notifier = fn }

// Start launches the loop: a detached initialization pass, the
// periodic tick, and the state-trigger subscription.
func (e *Engine) Start() {
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.states.Subscribe(e.handleStateChange)

	e.wg.Add(1)
	go e.run()
}

// Stop cancels the loop and terminates in-flight casts. Blocks until
// the tick goroutine exits.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.caster.Shutdown()
}

func (e *Engine) run() {
	defer e.wg.Done()

	// Initialization casts run detached so service startup is not
	// blocked behind slow devices.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.initializeDevices(e.ctx)
	}()

	ticker := time.NewTicker(e.cfg.ScanInterval())
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick runs one reconciliation pass over all devices in declaration
// order. A tick that finds another still running skips entirely.
func (e *Engine) Tick() {
	if !e.tickMu.TryLock() {
		e.logger.Printf("Previous reconciliation pass still running, skipping tick")
		return
	}
	defer e.tickMu.Unlock()

	now := e.now()
	for _, spec := range e.cfg.Devices {
		e.checkDevice(e.ctx, spec, now)
	}
}

// checkDevice isolates one device's decision block: a panic or error
// here must never take down the tick for other devices.
func (e *Engine) checkDevice(ctx context.Context, spec config.DeviceSpec, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("Recovered while checking %s: %v", spec.Name, r)
		}
	}()
	if err := e.reconcileDevice(ctx, spec, now); err != nil {
		e.logger.Printf("Check for %s failed: %v", spec.Name, err)
	}
}

// reconcileDevice applies the per-tick transition policy. Checks are
// ordered and each early-exits the device's tick.
func (e *Engine) reconcileDevice(ctx context.Context, spec config.DeviceSpec, now time.Time) error {
	rt := e.runtime(spec.Name)
	windowIndex, inWindow := activeWindow(spec, now)
	window := spec.Windows[windowIndex]
	windowChanged := e.recordSelection(rt, windowIndex, inWindow)

	// 1. Gate closed: stop our content and stand down.
	if !e.gate.Enabled(gateRef(window)) {
		if e.currentStatus(rt) == StatusConnected || e.currentStatus(rt) == StatusCastingInProgress {
			e.stopDevice(ctx, rt, spec.Name)
		}
		e.setStatus(rt, StatusStopped, now)
		return nil
	}

	// 2. Outside every window: stop our content if it is up.
	if !inWindow {
		if e.currentStatus(rt) == StatusConnected {
			e.stopDevice(ctx, rt, spec.Name)
		}
		e.setStatus(rt, StatusStopped, now)
		return nil
	}

	address, err := e.locator.Resolve(ctx, spec.Name)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	e.setAddress(rt, address)

	// 3. Window transition: swap dashboards.
	if windowChanged && e.currentStatus(rt) == StatusConnected {
		e.logger.Printf("Active window changed for %s, switching dashboard to %s", spec.Name, window.URL)
		e.stopDevice(ctx, rt, spec.Name)
		if err := e.sleep(ctx, windowSwitchSettle); err != nil {
			return nil
		}
		e.castDashboard(ctx, rt, spec.Name, address, window)
		return nil
	}

	// 4. A cast is already running for this address.
	if e.caster.InFlight(address) {
		e.setStatus(rt, StatusCastingInProgress, now)
		return nil
	}

	// 5. An active speaker group suppresses casting.
	if len(window.SpeakerGroups) > 0 && e.probe.SpeakerGroupActive(ctx, e.locator.Resolve, window.SpeakerGroups) == probe.Yes {
		e.setStatus(rt, StatusSpeakerGroupActive, now)
		return nil
	}

	raw, ok := e.probe.RawStatus(ctx, address)
	if !ok {
		// Unavailable: cannot classify, leave state untouched until
		// the next tick.
		e.touch(rt, now)
		return nil
	}

	dashboard := probe.IsDashboard(raw, window.DashboardMarker)
	idle := probe.IsIdle(raw)

	// 6. Foreign media playing. A device that was connected holds its
	// status for one tick to absorb voice-assistant noise.
	if !dashboard && probe.IsMediaPlaying(raw) {
		if e.currentStatus(rt) == StatusConnected && !e.spendMediaHold(rt) {
			e.touch(rt, now)
			return nil
		}
		e.setStatus(rt, StatusMediaPlaying, now)
		return nil
	}
	e.resetMediaHold(rt)

	// 7. Idle: enter disconnected, then reconnect after the
	// stabilization window.
	if idle {
		if e.currentStatus(rt) != StatusDisconnected {
			if e.currentStatus(rt) == StatusConnected {
				e.health.Record(health.DeviceKey(spec.Name, address), health.Disconnected)
			}
			e.setStatus(rt, StatusDisconnected, now)
			return nil
		}
		if now.Sub(e.lastChange(rt)) >= e.stable {
			e.attemptReconnect(ctx, rt, spec.Name, address, window, now)
		} else {
			e.touch(rt, now)
		}
		return nil
	}

	// 8. Our dashboard is up.
	if dashboard {
		e.markConnected(rt, window.URL, now)
		return nil
	}

	// 9. Something else is on screen; never cast over it.
	e.setStatus(rt, StatusOtherContent, now)
	return nil
}

// attemptReconnect casts the active dashboard at an idle, disconnected
// device, bounded by the attempt ceiling and re-verified idleness.
func (e *Engine) attemptReconnect(ctx context.Context, rt *deviceRuntime, name, address string, window config.DashboardWindow, now time.Time) {
	attempts := e.reconnectCount(rt)
	if attempts >= ReconnectCeiling {
		e.logger.Printf("Reconnect backed off for %s after %d attempts", name, attempts)
		e.touch(rt, now)
		return
	}

	// A playback session may have started since the tick's status
	// read. Re-check idleness right before taking over the screen.
	raw, ok := e.probe.RawStatus(ctx, address)
	if !ok || !probe.IsIdle(raw) {
		e.touch(rt, now)
		return
	}

	key := health.DeviceKey(name, address)
	e.health.Record(key, health.ReconnectAttempt)
	e.bumpReconnect(rt)
	e.setStatus(rt, StatusCastingInProgress, now)

	if e.castDashboard(ctx, rt, name, address, window) {
		e.health.Record(key, health.ReconnectSuccess)
	} else {
		e.health.Record(key, health.ReconnectFailed)
		e.setStatus(rt, StatusDisconnected, e.now())
	}
}

// castDashboard runs one cast through the executor and updates runtime
// state on success.
func (e *Engine) castDashboard(ctx context.Context, rt *deviceRuntime, name, address string, window config.DashboardWindow) bool {
	opts := caster.Options{Volume: window.Volume, Marker: window.DashboardMarker}
	ok, err := e.caster.Cast(ctx, address, window.URL, opts)
	if err != nil {
		e.logger.Printf("Cast to %s (%s) failed: %v", name, address, err)
		return false
	}
	if !ok {
		e.logger.Printf("Cast to %s (%s) did not verify after retries", name, address)
		return false
	}
	e.markConnected(rt, window.URL, e.now())
	return true
}

// initializeDevices runs the one-shot startup pass: cast to every
// in-window, gated-on, idle device, staggered by the cast delay.
func (e *Engine) initializeDevices(ctx context.Context) {
	now := e.now()
	first := true
	for _, spec := range e.cfg.Devices {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rt := e.runtime(spec.Name)
		windowIndex, inWindow := activeWindow(spec, now)
		window := spec.Windows[windowIndex]
		if !inWindow || !e.gate.Enabled(gateRef(window)) {
			continue
		}

		address, err := e.locator.Resolve(ctx, spec.Name)
		if err != nil {
			e.logger.Printf("Skipping %s during startup: %v", spec.Name, err)
			continue
		}
		e.setAddress(rt, address)

		raw, ok := e.probe.RawStatus(ctx, address)
		if ok && probe.IsMediaPlaying(raw) {
			e.setStatus(rt, StatusMediaPlaying, e.now())
			continue
		}

		if !first {
			if err := e.sleep(ctx, e.cfg.CastDelay()); err != nil {
				return
			}
		}
		first = false

		key := health.DeviceKey(spec.Name, address)
		e.health.Record(key, health.ConnectionAttempt)
		if e.castDashboard(ctx, rt, spec.Name, address, window) {
			e.health.Record(key, health.ConnectionSuccess)
		}
	}
}

// CastNow casts the device's currently active (or fallback) dashboard
// regardless of window membership. Used by the HTTP API.
func (e *Engine) CastNow(ctx context.Context, name string) error {
	spec, ok := e.deviceSpec(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
	rt := e.runtime(name)
	windowIndex, _ := activeWindow(spec, e.now())
	window := spec.Windows[windowIndex]

	address, err := e.locator.Resolve(ctx, name)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", name, err)
	}
	e.setAddress(rt, address)
	if !e.castDashboard(ctx, rt, name, address, window) {
		return fmt.Errorf("cast to %s did not verify", name)
	}
	return nil
}

// StopNow stops whatever the device is playing. Used by the HTTP API.
func (e *Engine) StopNow(ctx context.Context, name string) error {
	rt := e.runtime(name)
	if rt == nil {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
	address, err := e.locator.Resolve(ctx, name)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", name, err)
	}
	e.setAddress(rt, address)
	if err := e.caster.Stop(ctx, address); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	e.setStatus(rt, StatusStopped, e.now())
	e.clearDashboard(rt)
	return nil
}

func (e *Engine) stopDevice(ctx context.Context, rt *deviceRuntime, name string) {
	address := e.deviceAddress(rt)
	if address == "" {
		resolved, err := e.locator.Resolve(ctx, name)
		if err != nil {
			e.logger.Printf("Cannot stop %s: %v", name, err)
			return
		}
		address = resolved
		e.setAddress(rt, address)
	}
	if err := e.caster.Stop(ctx, address); err != nil {
		e.logger.Printf("Stop for %s (%s) failed: %v", name, address, err)
	}
	e.clearDashboard(rt)
}

// activeWindow picks the window matching now, last match winning. With
// no match the first window is the fallback, reported as out-of-window.
func activeWindow(spec config.DeviceSpec, now time.Time) (int, bool) {
	spans := make([]timewindow.Span, len(spec.Windows))
	for i, w := range spec.Windows {
		spans[i] = w.Span
	}
	return timewindow.ActiveIndex(spans, now)
}

func gateRef(window config.DashboardWindow) *gate.Ref {
	if window.GateEntity == "" {
		return nil
	}
	return &gate.Ref{Entity: window.GateEntity, RequiredState: window.GateState}
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
