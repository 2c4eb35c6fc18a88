package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rigranger/rigrangerd/pkg/logging"
	"github.com/rigranger/rigrangerd/pkg/rigctl"
)

// Journal persists session events (connection transitions, daemon output,
// protocol anomalies) to SQLite so an operator can inspect what the manager
// saw after the fact.
type Journal struct {
	db        *sql.DB
	dbPath    string
	maxEvents int
	sub       *rigctl.Subscription
}

// Entry is one persisted event.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	State     string    `json:"state,omitempty"`
	Message   string    `json:"message"`
}

// Open creates or opens an event journal backed by SQLite.
func Open(dbPath string, maxEvents int) (*Journal, error) {
	j := &Journal{
		dbPath:    dbPath,
		maxEvents: maxEvents,
	}

	if err := j.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize event journal: %w", err)
	}

	return j, nil
}

// initialize sets up the database connection and creates the schema.
func (j *Journal) initialize() error {
	if j.dbPath == "" {
		return fmt.Errorf("journal path is required")
	}

	if err := os.MkdirAll(filepath.Dir(j.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	connectionString := j.dbPath + "?_busy_timeout=10000&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	j.db = db

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		kind TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	logging.Infof("journal", "event journal opened: %s (max %d events)", j.dbPath, j.maxEvents)
	return nil
}

// Attach subscribes the journal to a manager's event bus. Records are
// written on the subscription's dispatch goroutine, off the listener loop.
func (j *Journal) Attach(m *rigctl.Manager) {
	j.sub = m.Bus().SubscribeAll(func(ev rigctl.Event) {
		if err := j.Record(ev); err != nil {
			logging.Warnf("journal", "failed to record event: %v", err)
		}
	})
}

// Record persists one event and prunes old rows beyond the limit.
func (j *Journal) Record(ev rigctl.Event) error {
	state := ""
	if ev.Kind == rigctl.EventConnection {
		state = ev.State.String()
	}

	message := ev.Message
	if ev.Kind == rigctl.EventRadio {
		message = radioMessage(ev)
	}

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO events (timestamp, kind, state, message) VALUES (?, ?, ?, ?)",
		ev.Time, ev.Kind.String(), state, message,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if err := j.prune(tx); err != nil {
		logging.Warnf("journal", "failed to prune old events: %v", err)
	}

	return tx.Commit()
}

// radioMessage renders a radio event payload as a readable journal line.
func radioMessage(ev rigctl.Event) string {
	switch ev.Op {
	case rigctl.OpSetFrequency:
		return fmt.Sprintf("frequency set to %d Hz", ev.Frequency)
	case rigctl.OpSetMode:
		return fmt.Sprintf("mode set to %s (passband %d Hz)", ev.Mode, ev.Passband)
	case rigctl.OpSetPTT:
		if ev.PTT {
			return "ptt on"
		}
		return "ptt off"
	case rigctl.OpSetLevel:
		return fmt.Sprintf("level %s set to %g", ev.Level, ev.Value)
	default:
		return ev.Message
	}
}

// prune removes the oldest events beyond the configured maximum.
func (j *Journal) prune(tx *sql.Tx) error {
	if j.maxEvents <= 0 {
		return nil
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return err
	}
	if count <= j.maxEvents {
		return nil
	}

	_, err := tx.Exec(`
		DELETE FROM events
		WHERE id IN (
			SELECT id FROM events
			ORDER BY timestamp ASC, id ASC
			LIMIT ?
		)
	`, count-j.maxEvents)
	return err
}

// Recent returns up to n events, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	rows, err := j.db.Query(
		"SELECT id, timestamp, kind, state, message FROM events ORDER BY id DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &e.State, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Detach removes the journal's bus subscription.
func (j *Journal) Detach(m *rigctl.Manager) {
	if j.sub != nil {
		m.Bus().Unsubscribe(j.sub)
		j.sub = nil
	}
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}
