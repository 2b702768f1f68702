package notify

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libradesk/internal/eventstore"
)

func openEventStore(t *testing.T) (*sqlx.DB, *eventstore.EventStore) {
	t.Helper()

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"), envOr("PGPORT", "5432"), envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"), envOr("PGDATABASE", "testdb"))

	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	es := eventstore.NewEventStore(db)
	require.NoError(t, es.Migrate(context.Background()))
	return db, es
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// streamPublisher records the ids of events belonging to the watched streams.
type streamPublisher struct {
	streams map[uuid.UUID]bool
	ids     []int64
}

func (p *streamPublisher) Publish(_ context.Context, e eventstore.Event) error {
	if p.streams[e.AggregateID] {
		p.ids = append(p.ids, e.ID)
	}
	return nil
}

func drainRelay(t *testing.T, relay *Relay) {
	t.Helper()
	for {
		n, err := relay.RunOnce(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
}

func TestRelay_PostgresOutOfOrderCommit(t *testing.T) {
	ctx := context.Background()
	db, es := openEventStore(t)

	slow, fast := uuid.New(), uuid.New()
	pub := &streamPublisher{streams: map[uuid.UUID]bool{slow: true, fast: true}}
	relay, err := NewRelay(es, pub, "test-"+uuid.NewString(), 500, nil)
	require.NoError(t, err)
	drainRelay(t, relay)

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	var slowID int64
	require.NoError(t, tx.QueryRowxContext(ctx, `
		INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, version)
		VALUES ($1, 'book', $2, '{}', 1) RETURNING id`, slow, "BookReturned").Scan(&slowID))

	outbox := NewOutboxNotifier(es)
	notice := checkoutNotice()
	notice.Book.ID = fast
	require.NoError(t, outbox.NotifyCheckout(ctx, notice))

	drainRelay(t, relay)
	require.Len(t, pub.ids, 1)
	fastID := pub.ids[0]
	assert.Greater(t, fastID, slowID)

	require.NoError(t, tx.Commit())
	drainRelay(t, relay)
	assert.Equal(t, []int64{fastID, slowID}, pub.ids)

	// delivered events are not published again
	drainRelay(t, relay)
	assert.Len(t, pub.ids, 2)
}
