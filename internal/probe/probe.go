// Package probe queries and classifies device playback status from the
// control tool's free-text status output.
package probe

import (
	"context"
	"log"
	"strings"

	"github.com/tfield/dashcast-go/internal/castctl"
)

// Result is a three-valued probe outcome. Unknown means the probe could
// not determine the state (timeout, tool error, unreachable device) and
// must not be conflated with a definite no.
type Result int

const (
	No Result = iota
	Yes
	Unknown
)

func (r Result) String() string {
	switch r {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unknown"
	}
}

// mediaApps are application names whose presence in a status dump means
// user media is active.
var mediaApps = []string{
	"spotify", "youtube", "netflix", "plex", "disney+", "hulu",
	"amazon prime", "music", "audio", "video",
}

// Probe issues status queries against devices.
type Probe struct {
	tool   *castctl.Tool
	logger *log.Logger
}

// New creates a Probe backed by the given control tool.
func New(tool *castctl.Tool, logger *log.Logger) *Probe {
	if logger == nil {
		logger = log.Default()
	}
	return &Probe{tool: tool, logger: logger}
}

// RawStatus returns the device's status dump, or ok=false when the
// device could not be queried. Errors are logged, never propagated.
func (p *Probe) RawStatus(ctx context.Context, address string) (string, bool) {
	output, err := p.tool.Status(ctx, address)
	if err != nil {
		p.logger.Printf("Status check failed for %s: %v", address, err)
		return "", false
	}
	return output, true
}

// DashboardActive reports whether the device is showing our dashboard.
func (p *Probe) DashboardActive(ctx context.Context, address, marker string) Result {
	status, ok := p.RawStatus(ctx, address)
	if !ok {
		return Unknown
	}
	if IsDashboard(status, marker) {
		return Yes
	}
	return No
}

// MediaPlaying reports whether user media is playing, paused or
// starting on the device.
func (p *Probe) MediaPlaying(ctx context.Context, address string) Result {
	status, ok := p.RawStatus(ctx, address)
	if !ok {
		return Unknown
	}
	if IsMediaPlaying(status) {
		return Yes
	}
	return No
}

// SpeakerGroupActive reports whether any of the named speaker groups is
// actively playing. It short-circuits on the first active group. A
// group that cannot be probed counts as inactive.
func (p *Probe) SpeakerGroupActive(ctx context.Context, resolve func(context.Context, string) (string, error), groups []string) Result {
	for _, group := range groups {
		address, err := resolve(ctx, group)
		if err != nil {
			continue
		}
		status, ok := p.RawStatus(ctx, address)
		if !ok {
			continue
		}
		if hasPlayingIndicator(status) {
			p.logger.Printf("Speaker group %q is active", group)
			return Yes
		}
	}
	return No
}

// IsIdle reports whether a status dump shows the idle signature: at
// most two lines, all of them volume info.
func IsIdle(status string) bool {
	lines := nonEmptyLines(status)
	if len(lines) == 0 || len(lines) > 2 {
		return false
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "Volume") {
			return false
		}
	}
	return true
}

// IsDashboard reports whether a status dump shows our dashboard. The
// marker token (default "Dummy") wins outright; generic dashboard
// indicators are accepted as a fallback. Idle output never counts.
func IsDashboard(status, marker string) bool {
	if IsIdle(status) {
		return false
	}
	if strings.Contains(status, "Idle") || strings.Contains(status, "Nothing is currently playing") {
		return false
	}
	if marker != "" && strings.Contains(status, marker) {
		return true
	}
	lower := strings.ToLower(status)
	for _, indicator := range []string{"8123", "dashboard", "kiosk", "homeassistant"} {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// IsMediaPlaying reports whether a status dump shows user media that
// casting over would disrupt: an active transport state, a recognized
// media app, a foreign title, a transitional "starting to cast" marker
// or voice-assistant processing.
func IsMediaPlaying(status string) bool {
	if IsIdle(status) {
		return false
	}
	if strings.Contains(status, "Casting: Starting") {
		return true
	}
	lower := strings.ToLower(status)
	if strings.Contains(lower, "assistant") {
		return true
	}
	if strings.Contains(status, "Idle") || strings.Contains(status, "Nothing is currently playing") {
		return false
	}
	if hasPlayingIndicator(status) {
		return true
	}
	for _, line := range nonEmptyLines(status) {
		if strings.Contains(line, "Title:") && !strings.Contains(line, "Dummy") {
			return true
		}
	}
	for _, app := range mediaApps {
		if strings.Contains(lower, app) {
			return true
		}
	}
	return false
}

// hasPlayingIndicator reports an active transport state line.
func hasPlayingIndicator(status string) bool {
	for _, line := range nonEmptyLines(status) {
		if !strings.Contains(line, "State:") {
			continue
		}
		if strings.Contains(line, "PLAYING") || strings.Contains(line, "PAUSED") || strings.Contains(line, "BUFFERING") {
			return true
		}
	}
	return false
}

// DefaultVolume is the fallback level used when a device's volume
// cannot be read from its status.
const DefaultVolume = 50

// ParseVolume extracts the device volume from a status dump. Missing or
// unparseable volume info yields the fallback.
func ParseVolume(status string) int {
	for _, line := range nonEmptyLines(status) {
		if !strings.HasPrefix(line, "Volume:") {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(line, "Volume:"))
		volume := 0
		for _, r := range value {
			if r < '0' || r > '9' {
				return DefaultVolume
			}
			volume = volume*10 + int(r-'0')
		}
		if value == "" || volume > 100 {
			return DefaultVolume
		}
		return volume
	}
	return DefaultVolume
}

func nonEmptyLines(status string) []string {
	var lines []string
	for _, line := range strings.Split(status, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
