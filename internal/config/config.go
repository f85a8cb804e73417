package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tfield/dashcast-go/internal/timewindow"
)

// Defaults applied when the config file leaves a knob unset.
const (
	DefaultScanInterval     = 30 * time.Second
	DefaultMaxRetries       = 5
	DefaultRetryDelay       = 10 * time.Second
	DefaultVerificationWait = 15 * time.Second
	DefaultStartTime        = "07:00"
	DefaultEndTime          = "01:00"
	DefaultDashboardMarker  = "Dummy"
)

// DashboardWindow is one time-windowed dashboard configuration for a
// device. Span holds the effective, already-parsed window after device
// and global fallbacks are applied during Load.
type DashboardWindow struct {
	URL             string   `yaml:"dashboard_url"`
	StartTime       string   `yaml:"start_time"`
	EndTime         string   `yaml:"end_time"`
	Volume          *int     `yaml:"volume"` // 0-10 scale; nil inherits the device volume

	DashboardMarker string   `yaml:"dashboard_state_name"`
	SpeakerGroups   []string `yaml:"speaker_groups"`
	GateEntity      string   `yaml:"switch_entity"`
	GateState       string   `yaml:"switch_entity_state"`

	Span timewindow.Span `yaml:"-"`
}

// DeviceSpec is a named device and its ordered window list. Windows are
// evaluated in list order; the last matching window wins.
type DeviceSpec struct {
	Name    string
	Windows []DashboardWindow
}

// StateTrigger casts a dashboard when an entity transitions to a state.
type StateTrigger struct {
	EntityID  string `yaml:"entity_id"`
	ToState   string `yaml:"to_state"`
	URL       string `yaml:"dashboard_url"`
	TimeoutS  int    `yaml:"time_out"`
	ForceCast bool   `yaml:"force_cast"`
}

// ServerConfig holds the HTTP API settings. An empty JWTSecret disables
// API authentication.
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      string `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

// deviceList preserves the YAML mapping order of device entries, since
// devices are processed per tick in configuration-declared order.
type deviceList struct {
	specs []DeviceSpec
}

func (d *deviceList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("devices must be a mapping of name to dashboard entries")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var windows []DashboardWindow
		if err := node.Content[i+1].Decode(&windows); err != nil {
			return fmt.Errorf("device %q: %w", name, err)
		}
		d.specs = append(d.specs, DeviceSpec{Name: name, Windows: windows})
	}
	return nil
}

// Config is the full engine configuration.
type Config struct {
	Tool             string                    `yaml:"tool"`
	ScanIntervalS    int                       `yaml:"scan_interval"`
	CastDelayS       int                       `yaml:"cast_delay"`
	StartTime        string                    `yaml:"start_time"`
	EndTime          string                    `yaml:"end_time"`
	GateEntity       string                    `yaml:"switch_entity"`
	GateState        string                    `yaml:"switch_entity_state"`
	MaxRetries       int                       `yaml:"max_retries"`
	RetryDelayS      int                       `yaml:"retry_delay"`
	VerificationS    int                       `yaml:"verification_wait_time"`
	CommandTimeoutS  int                       `yaml:"command_timeout"`
	SnapshotDir      string                    `yaml:"snapshot_dir"`
	SnapshotSchedule string                    `yaml:"snapshot_schedule"`
	SQLiteDBPath     string                    `yaml:"db_path"`
	Server           ServerConfig              `yaml:"server"`
	RawDevices       deviceList                `yaml:"devices"`
	StateTriggers    map[string][]StateTrigger `yaml:"state_triggers"`

	// Devices is the validated device list in declaration order.
	Devices []DeviceSpec `yaml:"-"`
}

// ScanInterval returns the reconciliation tick interval.
func (c Config) ScanInterval() time.Duration {
	if c.ScanIntervalS <= 0 {
		return DefaultScanInterval
	}
	return time.Duration(c.ScanIntervalS) * time.Second
}

// CastDelay returns the stagger between initial casts.
func (c Config) CastDelay() time.Duration {
	return time.Duration(c.CastDelayS) * time.Second
}

// RetryDelay returns the initial delay between cast retries.
func (c Config) RetryDelay() time.Duration {
	if c.RetryDelayS <= 0 {
		return DefaultRetryDelay
	}
	return time.Duration(c.RetryDelayS) * time.Second
}

// VerificationWait returns the post-cast verification delay.
func (c Config) VerificationWait() time.Duration {
	if c.VerificationS <= 0 {
		return DefaultVerificationWait
	}
	return time.Duration(c.VerificationS) * time.Second
}

// CommandTimeout returns the per-subprocess timeout. Zero means the
// castctl default applies.
func (c Config) CommandTimeout() time.Duration {
	if c.CommandTimeoutS <= 0 {
		return 0
	}
	return time.Duration(c.CommandTimeoutS) * time.Second
}

// Load reads the YAML config file, applies environment overrides and
// validates device entries. Malformed entries are rejected here so the
// engine never re-checks them.
func Load(path string) (Config, error) {
	cfg := Config{
		Tool:       "catt",
		MaxRetries: DefaultMaxRetries,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Tool = envString("DASHCAST_TOOL", cfg.Tool)
	cfg.ScanIntervalS = envInt("DASHCAST_SCAN_INTERVAL", cfg.ScanIntervalS)
	cfg.SnapshotDir = envString("DASHCAST_SNAPSHOT_DIR", cfg.SnapshotDir)
	cfg.SQLiteDBPath = envString("SQLITE_DB_PATH", cfg.SQLiteDBPath)
	cfg.Server.Host = envString("HOST", cfg.Server.Host)
	cfg.Server.Port = envString("PORT", cfg.Server.Port)
	cfg.Server.JWTSecret = envString("JWT_SECRET", cfg.Server.JWTSecret)
}

func (c *Config) validate() error {
	if c.Tool == "" {
		c.Tool = "catt"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.StartTime == "" {
		c.StartTime = DefaultStartTime
	}
	if c.EndTime == "" {
		c.EndTime = DefaultEndTime
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == "" {
		c.Server.Port = "9010"
	}
	if c.SnapshotSchedule == "" {
		c.SnapshotSchedule = "@every 5m"
	}

	globalStart, err := timewindow.ParseClock(c.StartTime)
	if err != nil {
		return fmt.Errorf("global start_time: %w", err)
	}
	globalEnd, err := timewindow.ParseClock(c.EndTime)
	if err != nil {
		return fmt.Errorf("global end_time: %w", err)
	}

	c.Devices = make([]DeviceSpec, 0, len(c.RawDevices.specs))
	for _, raw := range c.RawDevices.specs {
		if strings.TrimSpace(raw.Name) == "" {
			return fmt.Errorf("device with empty name in config")
		}
		if len(raw.Windows) == 0 {
			return fmt.Errorf("device %q has no dashboard entries", raw.Name)
		}
		spec := DeviceSpec{Name: raw.Name, Windows: make([]DashboardWindow, len(raw.Windows))}
		for i, window := range raw.Windows {
			parsed, err := normalizeWindow(window, globalStart, globalEnd)
			if err != nil {
				return fmt.Errorf("device %q entry %d: %w", raw.Name, i, err)
			}
			spec.Windows[i] = parsed
		}
		c.Devices = append(c.Devices, spec)
	}

	for device, triggers := range c.StateTriggers {
		for i, trigger := range triggers {
			if trigger.EntityID == "" || trigger.ToState == "" || trigger.URL == "" {
				return fmt.Errorf("state trigger %d for %q: entity_id, to_state and dashboard_url are required", i, device)
			}
		}
	}

	return nil
}

func normalizeWindow(window DashboardWindow, globalStart, globalEnd timewindow.Clock) (DashboardWindow, error) {
	if strings.TrimSpace(window.URL) == "" {
		return DashboardWindow{}, fmt.Errorf("dashboard_url is required")
	}
	if window.DashboardMarker == "" {
		window.DashboardMarker = DefaultDashboardMarker
	}
	if window.Volume != nil && (*window.Volume < 0 || *window.Volume > 10) {
		return DashboardWindow{}, fmt.Errorf("volume %d out of range 0-10", *window.Volume)
	}

	window.Span = timewindow.Span{Start: globalStart, End: globalEnd}
	if window.StartTime != "" {
		start, err := timewindow.ParseClock(window.StartTime)
		if err != nil {
			return DashboardWindow{}, err
		}
		window.Span.Start = start
	}
	if window.EndTime != "" {
		end, err := timewindow.ParseClock(window.EndTime)
		if err != nil {
			return DashboardWindow{}, err
		}
		window.Span.End = end
	}
	return window, nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
