package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time TEXT NOT NULL,
	envelope_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	channel TEXT NOT NULL,
	decision TEXT NOT NULL,
	subject TEXT NOT NULL,
	reason TEXT,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_records(user_id);
CREATE INDEX IF NOT EXISTS idx_audit_decision ON audit_records(decision);
`

// SQLiteSink persists records to a local SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens the database file and ensures the schema.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Write(rec Record) error {
	var meta []byte
	if len(rec.Metadata) > 0 {
		meta, _ = json.Marshal(rec.Metadata)
	}
	_, err := s.db.Exec(
		`INSERT INTO audit_records (time, envelope_id, user_id, channel, decision, subject, reason, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Time.Format("2006-01-02T15:04:05.000Z07:00"),
		rec.EnvelopeID.String(), rec.UserID, rec.Channel,
		string(rec.Decision), rec.Subject, rec.Reason, string(meta),
	)
	return err
}

func (s *SQLiteSink) Close() error { return s.db.Close() }
