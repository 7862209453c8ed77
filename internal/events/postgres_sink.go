package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/voxgate/voxgate/internal/provider/orchestrator"
)

// Execer is the subset of *pgxpool.Pool used by PostgresSink.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink appends switch events to an audit table.
type PostgresSink struct {
	db Execer
}

var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink creates a sink writing through db.
func NewPostgresSink(db Execer) *PostgresSink {
	return &PostgresSink{db: db}
}

// Name identifies the sink.
func (s *PostgresSink) Name() string {
	return "postgres"
}

// EnsureSchema creates the audit table when missing.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS provider_switch_events (
			id                UUID PRIMARY KEY,
			session_id        TEXT NOT NULL,
			previous_provider TEXT,
			new_provider      TEXT NOT NULL,
			reason            TEXT NOT NULL,
			success           BOOLEAN NOT NULL,
			error             TEXT,
			occurred_at       TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS provider_switch_events_session_idx
			ON provider_switch_events (session_id, occurred_at);
	`

	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create provider_switch_events: %w", err)
	}
	return nil
}

// Write inserts ev. Redelivery of the same event is a no-op.
func (s *PostgresSink) Write(ctx context.Context, ev orchestrator.ProviderSwitchEvent) error {
	query := `
		INSERT INTO provider_switch_events
			(id, session_id, previous_provider, new_provider, reason, success, error, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.db.Exec(ctx, query,
		ev.ID,
		ev.SessionID,
		nullable(ev.PreviousProvider),
		ev.NewProvider,
		ev.Reason,
		ev.Success,
		nullable(ev.Error),
		ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert switch event %s: %w", ev.ID, err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
