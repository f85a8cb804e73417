package health

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
)

// SnapshotWriter flushes status and health-stats JSON files to disk on
// a cron schedule and on demand. Writes are best effort.
type SnapshotWriter struct {
	dir      string
	recorder *Recorder
	status   func() any
	logger   *log.Logger
	cron     *cron.Cron
}

// NewSnapshotWriter builds a writer for dir. status produces the
// aggregate status payload at write time.
func NewSnapshotWriter(dir string, recorder *Recorder, status func() any, logger *log.Logger) *SnapshotWriter {
	if logger == nil {
		logger = log.Default()
	}
	return &SnapshotWriter{
		dir:      dir,
		recorder: recorder,
		status:   status,
		logger:   logger,
	}
}

// Start schedules periodic writes using a cron spec such as "@every 5m".
func (w *SnapshotWriter) Start(schedule string) error {
	w.cron = cron.New()
	if _, err := w.cron.AddFunc(schedule, w.Write); err != nil {
		return fmt.Errorf("invalid snapshot schedule %q: %w", schedule, err)
	}
	w.cron.Start()
	return nil
}

// Stop halts the schedule, letting an in-progress write finish.
func (w *SnapshotWriter) Stop() {
	if w.cron != nil {
		ctx := w.cron.Stop()
		<-ctx.Done()
	}
}

// Write flushes status.json and health_stats.json. Failures are logged,
// never propagated, since snapshots are informational.
func (w *SnapshotWriter) Write() {
	if w.dir == "" {
		return
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		w.logger.Printf("Failed to create snapshot dir %s: %v", w.dir, err)
		return
	}
	w.writeFile("status.json", w.status())
	w.writeFile("health_stats.json", w.recorder.Snapshot())
}

func (w *SnapshotWriter) writeFile(name string, payload any) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		w.logger.Printf("Failed to marshal %s: %v", name, err)
		return
	}
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		w.logger.Printf("Failed to write %s: %v", path, err)
	}
}
