package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id BIGSERIAL PRIMARY KEY,
	time TIMESTAMPTZ NOT NULL,
	envelope_id UUID NOT NULL,
	user_id TEXT NOT NULL,
	channel TEXT NOT NULL,
	decision TEXT NOT NULL,
	subject TEXT NOT NULL,
	reason TEXT,
	metadata JSONB
);
CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_records(user_id);
CREATE INDEX IF NOT EXISTS idx_audit_decision ON audit_records(decision);
`

// PGSink persists records to Postgres, for deployments where the audit trail
// must outlive the host.
type PGSink struct {
	pool *pgxpool.Pool
}

// NewPGSink connects with the DSN and ensures the schema.
func NewPGSink(ctx context.Context, dsn string) (*PGSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect audit db: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &PGSink{pool: pool}, nil
}

func (s *PGSink) Write(rec Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var meta []byte
	if len(rec.Metadata) > 0 {
		meta, _ = json.Marshal(rec.Metadata)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_records (time, envelope_id, user_id, channel, decision, subject, reason, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.Time, rec.EnvelopeID.String(), rec.UserID, rec.Channel,
		string(rec.Decision), rec.Subject, rec.Reason, meta,
	)
	return err
}

func (s *PGSink) Close() error {
	s.pool.Close()
	return nil
}
