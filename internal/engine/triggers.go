package engine

import (
	"context"
	"time"

	"github.com/tfield/dashcast-go/internal/caster"
	"github.com/tfield/dashcast-go/internal/config"
	"github.com/tfield/dashcast-go/internal/health"
	"github.com/tfield/dashcast-go/internal/probe"
	"github.com/tfield/dashcast-go/internal/states"
)

// handleStateChange fires configured state triggers. Each matching
// trigger casts out of band, detached from the tick, with no ordering
// guarantee relative to the next tick.
func (e *Engine) handleStateChange(change states.Change) {
	if e.ctx == nil || e.ctx.Err() != nil {
		return
	}
	for device, triggers := range e.cfg.StateTriggers {
		for _, trigger := range triggers {
			if trigger.EntityID != change.EntityID || trigger.ToState != change.NewState {
				continue
			}
			e.logger.Printf("State trigger fired for %s: %s -> %s", device, change.EntityID, change.NewState)
			e.wg.Add(1)
			go func(device string, trigger config.StateTrigger) {
				defer e.wg.Done()
				e.runTrigger(e.ctx, device, trigger)
			}(device, trigger)
		}
	}
}

// runTrigger casts the trigger's dashboard at the device. Without
// force_cast, an out-of-window device or active playback wins over the
// trigger.
func (e *Engine) runTrigger(ctx context.Context, device string, trigger config.StateTrigger) {
	spec, ok := e.deviceSpec(device)
	if !ok {
		e.logger.Printf("State trigger references unknown device %q", device)
		return
	}
	rt := e.runtime(device)
	now := e.now()
	windowIndex, inWindow := activeWindow(spec, now)
	window := spec.Windows[windowIndex]

	if !trigger.ForceCast && !inWindow {
		e.logger.Printf("Ignoring trigger for %s: outside active window", device)
		return
	}

	address, err := e.locator.Resolve(ctx, device)
	if err != nil {
		e.logger.Printf("Trigger cast for %s failed: %v", device, err)
		return
	}
	e.setAddress(rt, address)

	if !trigger.ForceCast {
		raw, ok := e.probe.RawStatus(ctx, address)
		if ok && probe.IsMediaPlaying(raw) {
			e.logger.Printf("Ignoring trigger for %s: media is playing", device)
			return
		}
	}

	key := health.DeviceKey(device, address)
	e.health.Record(key, health.ConnectionAttempt)
	opts := caster.Options{Volume: window.Volume, Marker: window.DashboardMarker}
	castOK, err := e.caster.Cast(ctx, address, trigger.URL, opts)
	if err != nil || !castOK {
		e.logger.Printf("Trigger cast for %s did not complete: %v", device, err)
		return
	}
	e.health.Record(key, health.ConnectionSuccess)
	e.markConnected(rt, trigger.URL, e.now())

	if trigger.TimeoutS > 0 {
		e.scheduleTriggerStop(ctx, rt, device, time.Duration(trigger.TimeoutS)*time.Second)
	}
}

// scheduleTriggerStop stops the triggered cast once its timeout lapses.
func (e *Engine) scheduleTriggerStop(ctx context.Context, rt *deviceRuntime, device string, timeout time.Duration) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.sleep(ctx, timeout); err != nil {
			return
		}
		e.logger.Printf("Trigger timeout for %s, stopping cast", device)
		e.stopDevice(ctx, rt, device)
		e.setStatus(rt, StatusStopped, e.now())
	}()
}
