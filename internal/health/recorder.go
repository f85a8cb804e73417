// Package health accumulates passive per-device connection counters.
// The reconciliation loop writes events in; the API and snapshot files
// read aggregates out. Recording never fails the caller.
package health

import (
	"log"
	"sync"
)

// Event is one countable occurrence in a device's lifecycle.
type Event string

const (
	ConnectionAttempt Event = "connection_attempt"
	ConnectionSuccess Event = "connection_success"
	Disconnected      Event = "disconnected"
	ReconnectAttempt  Event = "reconnect_attempt"
	ReconnectSuccess  Event = "reconnect_success"
	ReconnectFailed   Event = "reconnect_failed"
)

// Counters are the accumulated totals for one device key.
type Counters struct {
	ConnectionAttempts    int `json:"connection_attempts"`
	SuccessfulConnections int `json:"successful_connections"`
	Disconnects           int `json:"disconnects"`
	ReconnectAttempts     int `json:"reconnect_attempts"`
	SuccessfulReconnects  int `json:"successful_reconnects"`
	FailedReconnects      int `json:"failed_reconnects"`
}

func (c *Counters) apply(event Event) {
	switch event {
	case ConnectionAttempt:
		c.ConnectionAttempts++
	case ConnectionSuccess:
		c.SuccessfulConnections++
	case Disconnected:
		c.Disconnects++
	case ReconnectAttempt:
		c.ReconnectAttempts++
	case ReconnectSuccess:
		c.SuccessfulReconnects++
	case ReconnectFailed:
		c.FailedReconnects++
	}
}

// Store persists counters between runs. Implementations must tolerate
// concurrent calls.
type Store interface {
	Save(deviceKey string, counters Counters) error
	LoadAll() (map[string]Counters, error)
}

// Recorder keeps counters in memory and mirrors each update to an
// optional store. Store failures are logged and swallowed.
type Recorder struct {
	mu       sync.Mutex
	counters map[string]*Counters
	store    Store
	logger   *log.Logger
}

// NewRecorder builds a Recorder, seeding counters from the store when
// one is provided.
func NewRecorder(store Store, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.Default()
	}
	r := &Recorder{
		counters: make(map[string]*Counters),
		store:    store,
		logger:   logger,
	}
	if store != nil {
		saved, err := store.LoadAll()
		if err != nil {
			logger.Printf("Failed to load persisted health counters: %v", err)
		} else {
			for key, counters := range saved {
				c := counters
				r.counters[key] = &c
			}
		}
	}
	return r
}

// DeviceKey builds the counter key for a device name and address.
func DeviceKey(name, address string) string {
	return name + "_" + address
}

// Record counts one event for the device key.
func (r *Recorder) Record(deviceKey string, event Event) {
	r.mu.Lock()
	counters, ok := r.counters[deviceKey]
	if !ok {
		counters = &Counters{}
		r.counters[deviceKey] = counters
	}
	counters.apply(event)
	snapshot := *counters
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Save(deviceKey, snapshot); err != nil {
			r.logger.Printf("Failed to persist health counters for %s: %v", deviceKey, err)
		}
	}
}

// Snapshot returns a copy of all counters keyed by device key.
func (r *Recorder) Snapshot() map[string]Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Counters, len(r.counters))
	for key, counters := range r.counters {
		out[key] = *counters
	}
	return out
}
