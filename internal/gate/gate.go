// Package gate evaluates whether casting is currently enabled, based on
// the state of external switch entities.
package gate

import (
	"log"
	"strings"
)

// truthyStates is the default set of entity states that enable casting
// when no explicit required state is configured.
var truthyStates = map[string]struct{}{
	"on":   {},
	"true": {},
	"home": {},
	"open": {},
}

// StateSource supplies the current state of an entity. The second
// return is false when the entity is unknown.
type StateSource interface {
	State(entityID string) (string, bool)
}

// Ref names a gating entity and, optionally, the exact state required
// for casting to be enabled.
type Ref struct {
	Entity        string
	RequiredState string
}

// Checker evaluates gating entities against a state source.
type Checker struct {
	source StateSource
	global Ref
	logger *log.Logger
}

// New creates a Checker with an optional global gate.
func New(source StateSource, global Ref, logger *log.Logger) *Checker {
	if logger == nil {
		logger = log.Default()
	}
	return &Checker{source: source, global: global, logger: logger}
}

// Enabled reports whether casting is permitted. A device-specific gate
// takes precedence over the global one; with no gate configured at
// either level casting is always enabled. A gate whose entity cannot be
// resolved fails open so a dangling reference never freezes casting.
func (c *Checker) Enabled(device *Ref) bool {
	if device != nil && device.Entity != "" {
		return c.evaluate(*device)
	}
	if c.global.Entity != "" {
		return c.evaluate(c.global)
	}
	return true
}

func (c *Checker) evaluate(ref Ref) bool {
	state, ok := c.source.State(ref.Entity)
	if !ok {
		c.logger.Printf("Gate entity %s not found, defaulting to enabled", ref.Entity)
		return true
	}
	if ref.RequiredState != "" {
		return strings.EqualFold(state, ref.RequiredState)
	}
	_, truthy := truthyStates[strings.ToLower(state)]
	return truthy
}
