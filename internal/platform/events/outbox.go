// Package events carries case transitions out of the database. Services
// append to a transactional outbox inside their own transaction; the relay
// publishes committed entries to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/db"
)

// CaseEvent is the message published for every committed case transition.
type CaseEvent struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	CaseID     int64           `json:"case_id"`
	AN         string          `json:"an,omitempty"`
	FromStatus string          `json:"from_status,omitempty"`
	ToStatus   string          `json:"to_status"`
	ActorID    int64           `json:"actor_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Entry is one outbox row.
type Entry struct {
	ID          int64
	EventID     string
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	Topic       string
	Key         string
	CreatedAt   time.Time
	RetryCount  int
	LastError   *string
}

// Outbox writes case events in the caller's transaction.
type Outbox struct {
	pool  *pgxpool.Pool
	topic string
	now   func() time.Time
}

func NewOutbox(pool *pgxpool.Pool, topic string) *Outbox {
	return &Outbox{pool: pool, topic: topic, now: time.Now}
}

// Emit appends ev to the outbox. It must run inside the transaction that made
// the change so the event commits or rolls back with it.
func (o *Outbox) Emit(ctx context.Context, ev CaseEvent) error {
	if db.TxFromContext(ctx) == nil {
		return apperr.Store("emit case event", fmt.Errorf("no transaction in context"))
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = o.now().UTC()
	}
	entry, err := newEntry(ev, o.topic)
	if err != nil {
		return err
	}
	_, err = db.Pick(ctx, o.pool).Exec(ctx, `
		INSERT INTO case_events_outbox (event_id, aggregate_id, event_type, payload, topic, msg_key)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.EventID, entry.AggregateID, entry.EventType, entry.Payload, entry.Topic, entry.Key,
	)
	return apperr.Store("write outbox entry", err)
}

func newEntry(ev CaseEvent, topic string) (Entry, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal case event: %w", err)
	}
	id := strconv.FormatInt(ev.CaseID, 10)
	return Entry{
		EventID:     ev.EventID,
		AggregateID: id,
		EventType:   ev.Type,
		Payload:     payload,
		Topic:       topic,
		// Keyed by case so a consumer sees one case's events in order.
		Key: id,
	}, nil
}

// Discard drops events.
type Discard struct{}

func (Discard) Emit(context.Context, CaseEvent) error { return nil }
