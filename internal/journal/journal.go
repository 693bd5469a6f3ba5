// Package journal persists every outbound message and mode transition of
// the current run to TimescaleDB for live observability. It is a decorator
// around message.Sink and is purely additive: running without a journal
// Sink changes nothing about controller behavior. A nil *Sink is not
// usable; callers that do not journal simply do not install one. It never
// reads state back, so it
// does not provide persistence across runs (spec.md §1 Non-goals).
package journal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/zakarynichols/steamboiler/internal/message"
)

// Migrate creates the run/run_events tables and hypertable: a flat slice
// of DDL statements executed in order, errors wrapped with the statement
// index.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			started_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			run_id UUID NOT NULL,
			cycle INTEGER NOT NULL,
			kind VARCHAR(64) NOT NULL,
			unit INTEGER,
			payload JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run_cycle ON run_events(run_id, cycle)`,
	}

	for i, sql := range migrations {
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("journal migration %d failed: %w", i, err)
		}
	}

	if _, err := pool.Exec(ctx,
		`SELECT create_hypertable('run_events', 'at', chunk_time_interval => INTERVAL '1 hour', if_not_exists => TRUE)`); err != nil {
		logrus.WithError(err).Warn("journal: hypertable creation skipped (may already exist)")
	}

	return nil
}

// Sink wraps an underlying message.Sink, forwarding every message to it and
// additionally recording it against the given run in run_events.
type Sink struct {
	inner message.Sink
	pool  *pgxpool.Pool
	runID uuid.UUID
	cycle func() int
	log   *logrus.Entry
}

// New registers the run and returns a Sink that journals to pool while
// forwarding to inner. cycle reports the current cycle number at the time
// Send is called.
func New(ctx context.Context, pool *pgxpool.Pool, runID uuid.UUID, inner message.Sink, cycle func() int) (*Sink, error) {
	if _, err := pool.Exec(ctx, "INSERT INTO runs (id) VALUES ($1) ON CONFLICT DO NOTHING", runID); err != nil {
		return nil, fmt.Errorf("journal: register run: %w", err)
	}
	return &Sink{
		inner: inner,
		pool:  pool,
		runID: runID,
		cycle: cycle,
		log:   logrus.WithField("run_id", runID),
	}, nil
}

func (s *Sink) Send(m message.Message) {
	s.inner.Send(m)

	payload := map[string]any{"string": m.String()}
	_, err := s.pool.Exec(context.Background(),
		"INSERT INTO run_events (run_id, cycle, kind, unit, payload) VALUES ($1, $2, $3, $4, $5)",
		s.runID, s.cycle(), m.Kind.String(), unitOrNil(m.Unit), payload,
	)
	if err != nil {
		s.log.WithError(err).Warn("journal: failed to record event")
	}
}

func unitOrNil(unit int) any {
	if unit < 0 {
		return nil
	}
	return unit
}
