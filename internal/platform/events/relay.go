package events

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noosi159/Hospital1-backend/internal/platform/tracing"
)

// relayLockKey makes a single relay active at a time so per-case order holds.
const relayLockKey int64 = 0x6f7574626f78

// Publisher sends one message and returns once it is acknowledged.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// RelayMetrics receives per-batch counters.
type RelayMetrics interface {
	OutboxResult(published, failed int, pending int64)
}

type RelayConfig struct {
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{BatchSize: 100, PollInterval: 2 * time.Second, MaxRetries: 10}
}

type Relay struct {
	pool      *pgxpool.Pool
	publisher Publisher
	cfg       RelayConfig
	logger    zerolog.Logger
	metrics   RelayMetrics
}

func NewRelay(pool *pgxpool.Pool, publisher Publisher, cfg RelayConfig, logger zerolog.Logger, metrics RelayMetrics) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRelayConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultRelayConfig().PollInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRelayConfig().MaxRetries
	}
	return &Relay{pool: pool, publisher: publisher, cfg: cfg, logger: logger, metrics: metrics}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().Int("batch_size", r.cfg.BatchSize).Dur("poll_interval", r.cfg.PollInterval).Msg("outbox relay started")
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("outbox batch failed")
			}
		}
	}
}

// BatchResult summarizes one ProcessBatch call.
type BatchResult struct {
	Published int
	Failed    int
	Skipped   bool
}

// ProcessBatch publishes up to BatchSize pending entries in id order. The
// first failure stops the batch so later events for the same case are not
// published ahead of it.
func (r *Relay) ProcessBatch(ctx context.Context) (res BatchResult, err error) {
	ctx, span := tracing.Start(ctx, "casereview/outbox", "outbox.ProcessBatch")
	defer func() {
		span.SetAttributes(attribute.Int("published", res.Published), attribute.Int("failed", res.Failed))
		tracing.End(span, err)
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin relay transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	var acquired bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", relayLockKey).Scan(&acquired); err != nil {
		return res, fmt.Errorf("acquire relay lock: %w", err)
	}
	if !acquired {
		res.Skipped = true
		return res, nil
	}

	entries, err := fetchPending(ctx, tx, r.cfg.MaxRetries, r.cfg.BatchSize)
	if err != nil {
		return res, err
	}

	for _, e := range entries {
		if perr := r.publisher.Publish(ctx, e.Topic, e.Key, e.Payload); perr != nil {
			res.Failed++
			r.logger.Warn().Err(perr).Int64("outbox_id", e.ID).Str("event_type", e.EventType).Msg("publish failed")
			if _, err := tx.Exec(ctx, `
				UPDATE case_events_outbox
				SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
				WHERE id = $2`, perr.Error(), e.ID); err != nil {
				return res, fmt.Errorf("record publish failure: %w", err)
			}
			break
		}
		if _, err := tx.Exec(ctx, `
			UPDATE case_events_outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1`, e.ID); err != nil {
			return res, fmt.Errorf("mark outbox entry processed: %w", err)
		}
		res.Published++
	}

	var pending int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM case_events_outbox WHERE processed_at IS NULL`).Scan(&pending); err != nil {
		return res, fmt.Errorf("count pending: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit relay transaction: %w", err)
	}
	if r.metrics != nil {
		r.metrics.OutboxResult(res.Published, res.Failed, pending)
	}
	return res, nil
}

func fetchPending(ctx context.Context, tx pgx.Tx, maxRetries, limit int) ([]Entry, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, aggregate_id, event_type, payload, topic, msg_key, created_at, retry_count, last_error
		FROM case_events_outbox
		WHERE processed_at IS NULL AND retry_count < $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.EventID, &e.AggregateID, &e.EventType, &e.Payload,
			&e.Topic, &e.Key, &e.CreatedAt, &e.RetryCount, &e.LastError); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes processed entries older than the given age.
func (r *Relay) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM case_events_outbox
		WHERE processed_at IS NOT NULL AND processed_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}

type Stats struct {
	Pending       int64
	Failed        int64
	OldestPending *time.Time
}

func (r *Relay) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{}
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE retry_count < $1),
			COUNT(*) FILTER (WHERE retry_count >= $1),
			MIN(created_at)
		FROM case_events_outbox
		WHERE processed_at IS NULL`, r.cfg.MaxRetries).Scan(&s.Pending, &s.Failed, &s.OldestPending)
	if err != nil {
		return nil, fmt.Errorf("outbox stats: %w", err)
	}
	return s, nil
}
