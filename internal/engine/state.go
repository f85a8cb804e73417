package engine

import (
	"time"

	"github.com/tfield/dashcast-go/internal/config"
)

// Status is the engine's classification of a device at its last check.
type Status string

const (
	StatusUnknown            Status = "unknown"
	StatusConnected          Status = "connected"
	StatusDisconnected       Status = "disconnected"
	StatusMediaPlaying       Status = "media_playing"
	StatusOtherContent       Status = "other_content"
	StatusCastingInProgress  Status = "casting_in_progress"
	StatusStopped            Status = "stopped"
	StatusSpeakerGroupActive Status = "speaker_group_active"
)

// deviceRuntime is the engine's live model of one device. Owned by the
// tick loop; read by snapshot callers under the state lock.
type deviceRuntime struct {
	spec    config.DeviceSpec
	address string

	status           Status
	lastStatusChange time.Time
	lastChecked      time.Time

	reconnectAttempts int
	currentDashboard  string

	// mediaHoldUsed marks that the one-tick connected hold against
	// transient voice-assistant noise has been spent.
	mediaHoldUsed bool

	// Active window selection from the previous tick, used to detect
	// window transitions.
	windowIndex  int
	hasSelection bool
}

// DeviceStatus is the externally visible runtime detail for a device.
type DeviceStatus struct {
	Name              string    `json:"name"`
	Address           string    `json:"address,omitempty"`
	Status            Status    `json:"status"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	CurrentDashboard  string    `json:"current_dashboard,omitempty"`
	LastChecked       time.Time `json:"last_checked"`
	LastStatusChange  time.Time `json:"last_status_change"`
}

// StatusReport is the aggregate classification snapshot.
type StatusReport struct {
	TotalDevices int                     `json:"total_devices"`
	Connected    int                     `json:"connected"`
	Disconnected int                     `json:"disconnected"`
	MediaPlaying int                     `json:"media_playing"`
	OtherContent int                     `json:"other_content"`
	Devices      map[string]DeviceStatus `json:"devices"`
	GeneratedAt  time.Time               `json:"generated_at"`
}

// Event is emitted whenever a device's classification changes.
type Event struct {
	Device    string    `json:"device"`
	Address   string    `json:"address,omitempty"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	At        time.Time `json:"at"`
}
