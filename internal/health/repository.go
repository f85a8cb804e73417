package health

import (
	"database/sql"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository persists counters to SQLite.
// Uses separate reader/writer connections for optimal SQLite concurrency.
type Repository struct {
	reader *sql.DB // For SELECT queries
	writer *sql.DB // For INSERT/UPDATE
}

// NewRepository creates a new health Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Save upserts the full counter row for a device key.
func (r *Repository) Save(deviceKey string, counters Counters) error {
	_, err := r.writer.Exec(`
		INSERT INTO device_health (device_key, connection_attempts, successful_connections, disconnects, reconnect_attempts, successful_reconnects, failed_reconnects, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(device_key) DO UPDATE SET
			connection_attempts = excluded.connection_attempts,
			successful_connections = excluded.successful_connections,
			disconnects = excluded.disconnects,
			reconnect_attempts = excluded.reconnect_attempts,
			successful_reconnects = excluded.successful_reconnects,
			failed_reconnects = excluded.failed_reconnects,
			updated_at = excluded.updated_at
	`, deviceKey, counters.ConnectionAttempts, counters.SuccessfulConnections, counters.Disconnects,
		counters.ReconnectAttempts, counters.SuccessfulReconnects, counters.FailedReconnects)
	return err
}

// LoadAll returns every persisted counter row keyed by device key.
func (r *Repository) LoadAll() (map[string]Counters, error) {
	rows, err := r.reader.Query(`
		SELECT device_key, connection_attempts, successful_connections, disconnects, reconnect_attempts, successful_reconnects, failed_reconnects
		FROM device_health
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Counters)
	for rows.Next() {
		var key string
		var c Counters
		if err := rows.Scan(&key, &c.ConnectionAttempts, &c.SuccessfulConnections, &c.Disconnects,
			&c.ReconnectAttempts, &c.SuccessfulReconnects, &c.FailedReconnects); err != nil {
			return nil, err
		}
		out[key] = c
	}
	return out, rows.Err()
}
