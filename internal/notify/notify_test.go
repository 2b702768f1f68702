package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"libradesk/internal/catalog"
	"libradesk/internal/circulation"
	"libradesk/internal/eventstore"
	"libradesk/internal/membership"
)

var (
	ada  = membership.Member{ID: uuid.New(), Email: "ada@x.org", Name: "Ada", Tier: membership.TierRegular}
	dune = catalog.Book{ID: uuid.New(), ISBN: "978-0441013593", Title: "Dune", Author: "Frank Herbert", Version: 3}
	due  = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
)

func checkoutNotice() circulation.CheckoutNotice {
	return circulation.CheckoutNotice{Member: ada, Book: dune, DueDate: due}
}

func returnNotice(fee string) circulation.ReturnNotice {
	return circulation.ReturnNotice{Member: ada, Book: dune, LateFee: decimal.RequireFromString(fee)}
}

func TestMessages(t *testing.T) {
	msg := CheckoutMessage("desk@lib", checkoutNotice().Event())
	assert.Equal(t, "CHECKOUT NOTIFICATION", msg.Subject)
	assert.Equal(t, "ada@x.org", msg.To)
	assert.Equal(t, "To: ada@x.org\nBook: Dune by Frank Herbert\nDue Date: 2024-03-15\n", msg.Body)

	msg = ReturnMessage("desk@lib", returnNotice("2.5").Event())
	assert.Equal(t, "RETURN NOTIFICATION", msg.Subject)
	assert.Equal(t, "To: ada@x.org\nBook Returned: Dune\nLate Fee: $2.50\n", msg.Body)

	msg = ReturnMessage("desk@lib", returnNotice("0").Event())
	assert.Contains(t, msg.Body, "Returned on time - no late fee")
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core), "desk@lib")
	ctx := context.Background()

	require.NoError(t, n.NotifyCheckout(ctx, checkoutNotice()))
	require.NoError(t, n.NotifyReturn(ctx, returnNotice("1")))

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "CHECKOUT NOTIFICATION", entries[0].Message)
	assert.Equal(t, "ada@x.org", entries[0].ContextMap()["to"])
	assert.Contains(t, entries[1].ContextMap()["body"], "Late Fee: $1.00")
}

func TestLogNotifier_Publish(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core), "desk@lib")
	ctx := context.Background()

	data, err := json.Marshal(returnNotice("0").Event())
	require.NoError(t, err)
	require.NoError(t, n.Publish(ctx, eventstore.Event{ID: 1, EventType: circulation.EventBookReturned, EventData: data}))
	require.NoError(t, n.Publish(ctx, eventstore.Event{ID: 2, EventType: "MemberRegistered", EventData: []byte(`{}`)}))
	assert.Equal(t, 1, logs.Len())

	err = n.Publish(ctx, eventstore.Event{ID: 3, EventType: circulation.EventBookCheckedOut, EventData: []byte(`{`)})
	assert.Error(t, err)
}

type failingNotifier struct{ err error }

func (f failingNotifier) NotifyCheckout(context.Context, circulation.CheckoutNotice) error { return f.err }
func (f failingNotifier) NotifyReturn(context.Context, circulation.ReturnNotice) error     { return f.err }

type countingNotifier struct{ checkouts, returns int }

func (c *countingNotifier) NotifyCheckout(context.Context, circulation.CheckoutNotice) error {
	c.checkouts++
	return nil
}

func (c *countingNotifier) NotifyReturn(context.Context, circulation.ReturnNotice) error {
	c.returns++
	return nil
}

func TestMulti(t *testing.T) {
	boom := errors.New("smtp down")
	counter := &countingNotifier{}
	m := Multi{failingNotifier{err: boom}, counter}

	err := m.NotifyCheckout(context.Background(), checkoutNotice())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, counter.checkouts)

	err = m.NotifyReturn(context.Background(), returnNotice("0"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, counter.returns)

	assert.NoError(t, Multi{}.NotifyCheckout(context.Background(), checkoutNotice()))
}

// memLog is an in-process event log for relay and outbox tests. Events added
// with reserve stay invisible until commit, like an open transaction.
type memLog struct {
	mu        sync.Mutex
	nextID    int64
	events    []eventstore.Event
	hidden    map[int64]bool
	delivered map[string]map[int64]bool
	appendErr error
}

func newMemLog() *memLog {
	return &memLog{hidden: map[int64]bool{}, delivered: map[string]map[int64]bool{}}
}

func (l *memLog) AppendEvents(_ context.Context, id uuid.UUID, typ string, _ int, events []eventstore.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendErr != nil {
		return l.appendErr
	}
	for _, e := range events {
		l.nextID++
		e.ID = l.nextID
		e.AggregateID = id
		e.AggregateType = typ
		l.events = append(l.events, e)
	}
	return nil
}

func (l *memLog) reserve(t *testing.T) int64 {
	t.Helper()
	require.NoError(t, l.AppendEvents(context.Background(), uuid.New(), "book", eventstore.AnyVersion,
		[]eventstore.Event{{EventType: circulation.EventBookCheckedOut, EventData: []byte(`{}`)}}))
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hidden[l.nextID] = true
	return l.nextID
}

func (l *memLog) commit(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hidden, id)
}

func (l *memLog) PendingEvents(_ context.Context, consumer string, limit int) ([]eventstore.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []eventstore.Event
	for _, e := range l.events {
		if l.hidden[e.ID] || l.delivered[consumer][e.ID] {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *memLog) MarkDelivered(_ context.Context, consumer string, ids ...int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.delivered[consumer] == nil {
		l.delivered[consumer] = map[int64]bool{}
	}
	for _, id := range ids {
		l.delivered[consumer][id] = true
	}
	return nil
}

func (l *memLog) deliveredCount(consumer string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.delivered[consumer])
}

func TestOutboxNotifier(t *testing.T) {
	log := newMemLog()
	n := NewOutboxNotifier(log)
	ctx := context.Background()

	require.NoError(t, n.NotifyCheckout(ctx, checkoutNotice()))
	require.NoError(t, n.NotifyReturn(ctx, returnNotice("2.5")))
	require.Len(t, log.events, 2)

	first := log.events[0]
	assert.Equal(t, dune.ID, first.AggregateID)
	assert.Equal(t, "book", first.AggregateType)
	assert.Equal(t, circulation.EventBookCheckedOut, first.EventType)
	assert.Equal(t, "3", first.Metadata["book_version"])

	var returned circulation.BookReturnedEvent
	require.NoError(t, json.Unmarshal(log.events[1].EventData, &returned))
	assert.Equal(t, "2.5", returned.LateFee.String())

	log.appendErr = errors.New("disk full")
	assert.ErrorIs(t, n.NotifyCheckout(ctx, checkoutNotice()), log.appendErr)
}

type recordingPublisher struct {
	ids    []int64
	failAt int64
}

func (p *recordingPublisher) Publish(_ context.Context, e eventstore.Event) error {
	if e.ID == p.failAt {
		return errors.New("broker unavailable")
	}
	p.ids = append(p.ids, e.ID)
	return nil
}

func seedLog(t *testing.T, n int) *memLog {
	t.Helper()
	log := newMemLog()
	outbox := NewOutboxNotifier(log)
	for i := 0; i < n; i++ {
		require.NoError(t, outbox.NotifyCheckout(context.Background(), checkoutNotice()))
	}
	return log
}

func TestRelay_RunOnceDeliversInBatches(t *testing.T) {
	log := seedLog(t, 5)
	pub := &recordingPublisher{}
	relay, err := NewRelay(log, pub, "test", 3, nil)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, pub.ids)
	assert.Equal(t, 5, log.deliveredCount("test"))
	assert.Zero(t, log.deliveredCount("other"))
}

func TestRelay_StopsAtFailedEvent(t *testing.T) {
	log := seedLog(t, 4)
	pub := &recordingPublisher{failAt: 3}
	relay, err := NewRelay(log, pub, "test", 10, nil)
	require.NoError(t, err)

	n, err := relay.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, log.deliveredCount("test"))

	pub.failAt = 0
	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2, 3, 4}, pub.ids)
}

func TestRelay_DeliversEventCommittedOutOfIDOrder(t *testing.T) {
	log := newMemLog()
	slow := log.reserve(t)
	fast := log.reserve(t)
	log.commit(fast)

	pub := &recordingPublisher{}
	relay, err := NewRelay(log, pub, "test", 10, nil)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	log.commit(slow)
	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []int64{fast, slow}, pub.ids)
}

func TestRelay_RunDrainsUntilCancelled(t *testing.T) {
	log := seedLog(t, 7)
	pub := &recordingPublisher{}
	relay, err := NewRelay(log, pub, "test", 2, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		return log.deliveredCount("test") == 7
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewRelay_Validation(t *testing.T) {
	_, err := NewRelay(newMemLog(), &recordingPublisher{}, "", 10, nil)
	assert.Error(t, err)
	_, err = NewRelay(newMemLog(), &recordingPublisher{}, "x", 0, nil)
	assert.Error(t, err)
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("skipping: could not connect to redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisNotifier(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	stream := "libradesk:test:" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), stream) })

	n := NewRedisNotifier(client, stream)
	require.NoError(t, n.NotifyCheckout(ctx, checkoutNotice()))
	require.NoError(t, n.NotifyReturn(ctx, returnNotice("0.75")))

	msgs, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	types := []string{msgs[0].Values["type"].(string), msgs[1].Values["type"].(string)}
	sort.Strings(types)
	assert.Equal(t, []string{circulation.EventBookCheckedOut, circulation.EventBookReturned}, types)
	assert.Equal(t, "3", msgs[0].Values["book_version"])

	var returned circulation.BookReturnedEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[1].Values["payload"].(string)), &returned))
	assert.Equal(t, "0.75", returned.LateFee.String())
}
