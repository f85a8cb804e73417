// Package locator resolves logical device names to network addresses
// using the control tool's scan output, with a freshness-bounded cache.
package locator

import (
	"context"
	"errors"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/tfield/dashcast-go/internal/castctl"
)

// CacheTTL is the freshness window for cached name-to-address entries.
const CacheTTL = 300 * time.Second

// ScanTimeout bounds a discovery scan.
const ScanTimeout = 15 * time.Second

// ErrNotFound is returned when a device name cannot be resolved.
var ErrNotFound = errors.New("device not found")

type cacheEntry struct {
	address string
	seenAt  time.Time
}

// Locator resolves device names via the control tool's scan verb.
type Locator struct {
	tool   *castctl.Tool
	logger *log.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

// New creates a Locator backed by the given control tool.
func New(tool *castctl.Tool, logger *log.Logger) *Locator {
	if logger == nil {
		logger = log.Default()
	}
	return &Locator{
		tool:   tool,
		logger: logger,
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

// Resolve maps a device name to its network address. Inputs that are
// already addresses are returned unchanged without a scan. Cached
// entries younger than CacheTTL short-circuit discovery. On a miss a
// bounded scan runs and every discovered device is cached, so lookups
// for other devices in the same tick stay cheap.
func (l *Locator) Resolve(ctx context.Context, name string) (string, error) {
	if IsAddress(name) {
		return name, nil
	}

	key := strings.ToLower(name)

	l.mu.Lock()
	entry, ok := l.cache[key]
	l.mu.Unlock()
	if ok && l.now().Sub(entry.seenAt) < CacheTTL {
		return entry.address, nil
	}

	output, err := l.tool.Scan(ctx, ScanTimeout)
	if err != nil {
		l.logger.Printf("Device scan failed: %v", err)
		return "", ErrNotFound
	}

	found := parseScanOutput(output)
	seenAt := l.now()

	l.mu.Lock()
	for foundName, address := range found {
		l.cache[strings.ToLower(foundName)] = cacheEntry{address: address, seenAt: seenAt}
	}
	l.mu.Unlock()

	for foundName, address := range found {
		if strings.EqualFold(foundName, name) {
			return address, nil
		}
	}

	names := make([]string, 0, len(found))
	for foundName := range found {
		names = append(names, foundName)
	}
	l.logger.Printf("Device %q not found in scan results, found: %v", name, names)
	return "", ErrNotFound
}

// IsAddress reports whether the input already has network-address
// syntax (an IP, optionally with a port) and needs no discovery.
func IsAddress(input string) bool {
	if net.ParseIP(input) != nil {
		return true
	}
	host, _, err := net.SplitHostPort(input)
	if err != nil {
		return false
	}
	return net.ParseIP(host) != nil
}

// parseScanOutput extracts "<address> - <name>" lines from scan output.
// Header lines and lines without the separator are skipped.
func parseScanOutput(output string) map[string]string {
	found := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "Scanning") {
			continue
		}
		parts := strings.SplitN(line, " - ", 2)
		if len(parts) != 2 {
			continue
		}
		address := strings.TrimSpace(parts[0])
		name := strings.TrimSpace(parts[1])
		if address == "" || name == "" {
			continue
		}
		found[name] = address
	}
	return found
}
