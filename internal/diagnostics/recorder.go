package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"jomiage/internal/domain"
)

const (
	recordQueueSize = 256
	writeTimeout    = 2 * time.Second
)

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Recorder appends decisions and session transitions to Postgres for later
// analysis. Writes happen on a background worker; when the queue is full
// records are dropped rather than slowing the pipeline.
type Recorder struct {
	pool   *pgxpool.Pool
	db     execer
	logger *slog.Logger

	records chan record
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int
}

type record struct {
	query string
	args  []any
}

// Open connects to dsn, applies the schema and starts the writer.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Recorder, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect diagnostics database: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	r := newRecorder(pool, logger)
	r.pool = pool
	return r, nil
}

func newRecorder(db execer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		db:      db,
		logger:  logger,
		records: make(chan record, recordQueueSize),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

func Migrate(ctx context.Context, db execer) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS reading_sessions (
			session_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS decision_events (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			text TEXT NOT NULL,
			accepted BOOLEAN NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL,
			similarity DOUBLE PRECISION NOT NULL DEFAULT 0,
			reading TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decision_events_session ON decision_events(session_id, id);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(ctx, q); err != nil {
			return fmt.Errorf("migrate diagnostics schema: %w", err)
		}
	}
	return nil
}

func (r *Recorder) Decision(event domain.DecisionEvent) {
	r.enqueue(decisionRecord(event))
}

func (r *Recorder) SessionStateChanged(sessionID string, state domain.SessionState, reason domain.SessionStateReason) {
	if sessionID == "" {
		return
	}
	r.enqueue(sessionRecord(sessionID, state, reason))
}

func (r *Recorder) SpeechStateChanged(domain.SpeechState, domain.SpeechStateReason) {}

func (r *Recorder) Error(domain.ErrorCode, string) {}

// Dropped returns how many records were discarded because the queue was
// full.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close flushes queued records and releases the pool.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.records)
	r.mu.Unlock()

	r.wg.Wait()
	if r.pool != nil {
		r.pool.Close()
	}
}

func (r *Recorder) enqueue(rec record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.records <- rec:
	default:
		r.dropped++
	}
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for rec := range r.records {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		_, err := r.db.Exec(ctx, rec.query, rec.args...)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("diagnostics write failed", "error", err)
		}
	}
}

func decisionRecord(event domain.DecisionEvent) record {
	return record{
		query: `
			INSERT INTO decision_events(session_id, text, accepted, reason, confidence, similarity, reading)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
		args: []any{
			event.SessionID,
			event.Text,
			event.Accepted,
			string(event.Reason),
			event.Confidence,
			event.Similarity,
			nullIfEmpty(event.Reading),
		},
	}
}

func sessionRecord(sessionID string, state domain.SessionState, reason domain.SessionStateReason) record {
	return record{
		query: `
			INSERT INTO reading_sessions(session_id, state, reason)
			VALUES ($1, $2, $3)
			ON CONFLICT (session_id)
			DO UPDATE SET state=EXCLUDED.state, reason=EXCLUDED.reason, updated_at=NOW()
		`,
		args: []any{sessionID, string(state), string(reason)},
	}
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
