package health

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu     sync.Mutex
	saved  map[string]Counters
	seed   map[string]Counters
	failed bool
}

func (s *fakeStore) Save(deviceKey string, counters Counters) error {
	if s.failed {
		return errors.New("disk full")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string]Counters)
	}
	s.saved[deviceKey] = counters
	return nil
}

func (s *fakeStore) LoadAll() (map[string]Counters, error) {
	return s.seed, nil
}

func discard() *log.Logger { return log.New(nopWriter{}, "", 0) }

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRecorderCountsAndPersists(t *testing.T) {
	store := &fakeStore{}
	recorder := NewRecorder(store, discard())
	key := DeviceKey("Kitchen Display", "192.168.1.10")

	recorder.Record(key, ConnectionAttempt)
	recorder.Record(key, ConnectionAttempt)
	recorder.Record(key, ConnectionSuccess)
	recorder.Record(key, Disconnected)

	snap := recorder.Snapshot()
	require.Equal(t, Counters{
		ConnectionAttempts:    2,
		SuccessfulConnections: 1,
		Disconnects:           1,
	}, snap[key])
	require.Equal(t, snap[key], store.saved[key])
}

func TestRecorderSeedsFromStore(t *testing.T) {
	store := &fakeStore{seed: map[string]Counters{
		"Kitchen Display_192.168.1.10": {ReconnectAttempts: 7},
	}}
	recorder := NewRecorder(store, discard())

	recorder.Record("Kitchen Display_192.168.1.10", ReconnectSuccess)
	snap := recorder.Snapshot()
	require.Equal(t, 7, snap["Kitchen Display_192.168.1.10"].ReconnectAttempts)
	require.Equal(t, 1, snap["Kitchen Display_192.168.1.10"].SuccessfulReconnects)
}

func TestRecorderSurvivesStoreFailure(t *testing.T) {
	recorder := NewRecorder(&fakeStore{failed: true}, discard())
	recorder.Record("k", ConnectionAttempt)
	require.Equal(t, 1, recorder.Snapshot()["k"].ConnectionAttempts)
}

func TestSnapshotWriterWritesBothFiles(t *testing.T) {
	dir := t.TempDir()
	recorder := NewRecorder(nil, discard())
	recorder.Record("Kitchen Display_192.168.1.10", ConnectionSuccess)

	writer := NewSnapshotWriter(dir, recorder, func() any {
		return map[string]int{"total_devices": 1}
	}, discard())
	writer.Write()

	statusData, err := os.ReadFile(filepath.Join(dir, "status.json"))
	require.NoError(t, err)
	var status map[string]int
	require.NoError(t, json.Unmarshal(statusData, &status))
	require.Equal(t, 1, status["total_devices"])

	healthData, err := os.ReadFile(filepath.Join(dir, "health_stats.json"))
	require.NoError(t, err)
	var stats map[string]Counters
	require.NoError(t, json.Unmarshal(healthData, &stats))
	require.Equal(t, 1, stats["Kitchen Display_192.168.1.10"].SuccessfulConnections)
}
