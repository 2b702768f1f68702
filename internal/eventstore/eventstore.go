// Package eventstore is an append-only PostgreSQL event log with per-aggregate
// versions and per-consumer delivery tracking. Circulation notices are written
// here as an outbox and forwarded by the relay.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AnyVersion skips the expected-version check on append.
const AnyVersion = -1

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Event is one stored entry. ID orders the whole log; Version orders one stream.
type Event struct {
	ID            int64             `json:"id"`
	AggregateID   uuid.UUID         `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	EventType     string            `json:"event_type"`
	EventData     json.RawMessage   `json:"event_data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Version       int               `json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
}

type eventRow struct {
	ID            int64     `db:"id"`
	AggregateID   uuid.UUID `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	EventData     []byte    `db:"event_data"`
	Metadata      []byte    `db:"metadata"`
	Version       int       `db:"version"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r eventRow) event() (Event, error) {
	e := Event{
		ID:            r.ID,
		AggregateID:   r.AggregateID,
		AggregateType: r.AggregateType,
		EventType:     r.EventType,
		EventData:     json.RawMessage(r.EventData),
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &e.Metadata); err != nil {
			return Event{}, fmt.Errorf("decode metadata of event %d: %w", r.ID, err)
		}
	}
	return e, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	aggregate_id UUID NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL,
	metadata JSONB,
	version INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (aggregate_id, version)
);

CREATE TABLE IF NOT EXISTS event_deliveries (
	consumer TEXT NOT NULL,
	event_id BIGINT NOT NULL REFERENCES events (id),
	delivered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (consumer, event_id)
);
`

const (
	selectColumns = `id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at`
	versionQuery  = `SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1`
	insertQuery   = `INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
)

// EventStore is the PostgreSQL event log.
type EventStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// NewEventStore creates a new event store on an open connection pool.
func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{
		db:     db,
		tracer: otel.Tracer("libradesk/eventstore"),
	}
}

// Migrate creates the event and delivery tables.
func (es *EventStore) Migrate(ctx context.Context) error {
	if _, err := es.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate event store: %w", err)
	}
	return nil
}

// AppendEvents atomically appends events with optimistic concurrency control.
// Versions continue from expectedVersion, or from the stored version with AnyVersion.
func (es *EventStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) (err error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.AppendEvents", trace.WithAttributes(
		streamKey(aggregateID),
		attribute.String("eventstore.aggregate_type", aggregateType),
		attribute.Int("eventstore.expected_version", expectedVersion),
		attribute.Int("eventstore.batch", len(events)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if expectedVersion < AnyVersion {
		return ErrInvalidVersion
	}

	tx, err := es.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored int
	if err := tx.GetContext(ctx, &stored, versionQuery, aggregateID); err != nil {
		return fmt.Errorf("read stream version: %w", conflictOr(err))
	}
	next := stored
	if expectedVersion != AnyVersion && stored != expectedVersion {
		span.SetAttributes(attribute.Int("eventstore.stored_version", stored))
		return fmt.Errorf("%w: stream %s is at %d, caller expected %d", ErrConcurrencyConflict, aggregateID, stored, expectedVersion)
	}

	now := time.Now().UTC()
	for _, e := range events {
		next++
		metadata, err := metadataParam(e.Metadata)
		if err != nil {
			return err
		}
		var id int64
		if err := tx.QueryRowxContext(ctx, insertQuery,
			aggregateID, aggregateType, e.EventType, string(e.EventData), metadata, next, now,
		).Scan(&id); err != nil {
			return fmt.Errorf("append %s v%d: %w", e.EventType, next, conflictOr(err))
		}
		span.AddEvent(e.EventType, trace.WithAttributes(attribute.Int64("eventstore.id", id)))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", conflictOr(err))
	}
	span.SetAttributes(attribute.Int("eventstore.version", next))
	return nil
}

// metadataParam encodes metadata for a nullable jsonb column.
func metadataParam(m map[string]string) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func streamKey(id uuid.UUID) attribute.KeyValue {
	return attribute.String("eventstore.stream", id.String())
}

// LoadEvents returns one stream's events with versions in [fromVersion, toVersion].
// A toVersion of 0 or less means no upper bound.
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.LoadEvents", trace.WithAttributes(streamKey(aggregateID)))
	defer span.End()

	var rows []eventRow
	err := es.db.SelectContext(ctx, &rows, `
		SELECT `+selectColumns+`
		FROM events
		WHERE aggregate_id = $1 AND version >= $2 AND ($3 <= 0 OR version <= $3)
		ORDER BY version`, aggregateID, fromVersion, toVersion)
	if err != nil {
		return nil, fmt.Errorf("load stream %s: %w", aggregateID, err)
	}
	return toEvents(rows)
}

// GetCurrentVersion returns the stream's latest version, 0 when empty.
func (es *EventStore) GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	var version int
	if err := es.db.GetContext(ctx, &version, versionQuery, aggregateID); err != nil {
		return 0, fmt.Errorf("read stream version: %w", err)
	}
	return version, nil
}

// PendingEvents returns up to limit committed events the consumer has not
// marked delivered, in id order. Ids are assigned at insert, not at commit, so
// an event can become visible after higher ids were already delivered; it is
// still returned here because delivery is tracked per event.
func (es *EventStore) PendingEvents(ctx context.Context, consumer string, limit int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.PendingEvents", trace.WithAttributes(
		attribute.String("eventstore.consumer", consumer),
		attribute.Int("eventstore.batch", limit),
	))
	defer span.End()

	var rows []eventRow
	err := es.db.SelectContext(ctx, &rows, `
		SELECT `+selectColumns+`
		FROM events e
		WHERE NOT EXISTS (
			SELECT 1 FROM event_deliveries d
			WHERE d.consumer = $1 AND d.event_id = e.id
		)
		ORDER BY id
		LIMIT $2`, consumer, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending events for %s: %w", consumer, err)
	}

	span.SetAttributes(attribute.Int("eventstore.returned", len(rows)))
	return toEvents(rows)
}

// MarkDelivered records that consumer has handled the given events.
// Marking an event twice is a no-op.
func (es *EventStore) MarkDelivered(ctx context.Context, consumer string, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := es.db.ExecContext(ctx, `
		INSERT INTO event_deliveries (consumer, event_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT (consumer, event_id) DO NOTHING`, consumer, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark %d events delivered for %s: %w", len(ids), consumer, err)
	}
	return nil
}

func toEvents(rows []eventRow) ([]Event, error) {
	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		e, err := r.event()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// conflictOr maps unique violations and serialization failures to ErrConcurrencyConflict.
func conflictOr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == "23505" || pqErr.Code == "40001") {
		return ErrConcurrencyConflict
	}
	return err
}
