package engine

import (
	"time"

	"github.com/tfield/dashcast-go/internal/config"
)

// Accessors below are the only paths to deviceRuntime fields, so the
// tick loop and HTTP snapshot readers never race.

func (e *Engine) runtime(name string) *deviceRuntime {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.devices[name]
}

func (e *Engine) deviceSpec(name string) (config.DeviceSpec, bool) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	rt, ok := e.devices[name]
	if !ok {
		return config.DeviceSpec{}, false
	}
	return rt.spec, true
}

func (e *Engine) currentStatus(rt *deviceRuntime) Status {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return rt.status
}

func (e *Engine) lastChange(rt *deviceRuntime) time.Time {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return rt.lastStatusChange
}

func (e *Engine) deviceAddress(rt *deviceRuntime) string {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return rt.address
}

func (e *Engine) setAddress(rt *deviceRuntime, address string) {
	e.stateMu.Lock()
	rt.address = address
	e.stateMu.Unlock()
}

// setStatus applies a classification, stamping the transition time and
// notifying on an actual change.
func (e *Engine) setStatus(rt *deviceRuntime, status Status, now time.Time) {
	e.stateMu.Lock()
	rt.lastChecked = now
	old := rt.status
	if old == status {
		e.stateMu.Unlock()
		return
	}
	rt.status = status
	rt.lastStatusChange = now
	if status != StatusConnected {
		rt.mediaHoldUsed = false
	}
	name, address := rt.spec.Name, rt.address
	e.stateMu.Unlock()

	e.logger.Printf("Device %s: %s -> %s", name, old, status)
	if e.notifier != nil {
		e.notifier(Event{Device: name, Address: address, OldStatus: old, NewStatus: status, At: now})
	}
}

// touch records a check that produced no transition.
func (e *Engine) touch(rt *deviceRuntime, now time.Time) {
	e.stateMu.Lock()
	rt.lastChecked = now
	e.stateMu.Unlock()
}

func (e *Engine) markConnected(rt *deviceRuntime, url string, now time.Time) {
	e.stateMu.Lock()
	rt.reconnectAttempts = 0
	rt.currentDashboard = url
	e.stateMu.Unlock()
	e.setStatus(rt, StatusConnected, now)
}

func (e *Engine) clearDashboard(rt *deviceRuntime) {
	e.stateMu.Lock()
	rt.currentDashboard = ""
	e.stateMu.Unlock()
}

func (e *Engine) reconnectCount(rt *deviceRuntime) int {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return rt.reconnectAttempts
}

func (e *Engine) bumpReconnect(rt *deviceRuntime) {
	e.stateMu.Lock()
	rt.reconnectAttempts++
	e.stateMu.Unlock()
}

// spendMediaHold consumes the one-tick connected hold, reporting true
// when it was already spent.
func (e *Engine) spendMediaHold(rt *deviceRuntime) bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if rt.mediaHoldUsed {
		return true
	}
	rt.mediaHoldUsed = true
	return false
}

func (e *Engine) resetMediaHold(rt *deviceRuntime) {
	e.stateMu.Lock()
	rt.mediaHoldUsed = false
	e.stateMu.Unlock()
}

// recordSelection stores this tick's window choice and reports whether
// an in-window selection moved to a different window.
func (e *Engine) recordSelection(rt *deviceRuntime, windowIndex int, inWindow bool) bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	changed := inWindow && rt.hasSelection && rt.windowIndex != windowIndex
	rt.windowIndex = windowIndex
	rt.hasSelection = inWindow
	return changed
}

// DeviceStatuses returns per-device runtime detail in declaration
// order.
func (e *Engine) DeviceStatuses() []DeviceStatus {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	out := make([]DeviceStatus, 0, len(e.cfg.Devices))
	for _, spec := range e.cfg.Devices {
		rt := e.devices[spec.Name]
		out = append(out, DeviceStatus{
			Name:              spec.Name,
			Address:           rt.address,
			Status:            rt.status,
			ReconnectAttempts: rt.reconnectAttempts,
			CurrentDashboard:  rt.currentDashboard,
			LastChecked:       rt.lastChecked,
			LastStatusChange:  rt.lastStatusChange,
		})
	}
	return out
}

// StatusReport aggregates classification counts plus per-device detail.
func (e *Engine) StatusReport() StatusReport {
	statuses := e.DeviceStatuses()
	report := StatusReport{
		TotalDevices: len(statuses),
		Devices:      make(map[string]DeviceStatus, len(statuses)),
		GeneratedAt:  e.now(),
	}
	for _, ds := range statuses {
		report.Devices[ds.Name] = ds
		switch ds.Status {
		case StatusConnected:
			report.Connected++
		case StatusDisconnected:
			report.Disconnected++
		case StatusMediaPlaying:
			report.MediaPlaying++
		case StatusOtherContent:
			report.OtherContent++
		}
	}
	return report
}
