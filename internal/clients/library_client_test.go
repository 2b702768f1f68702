package clients_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"libradesk/internal/catalog"
	"libradesk/internal/circulation"
	"libradesk/internal/clients"
	"libradesk/internal/library"
	"libradesk/internal/membership"
	"libradesk/internal/reports"
	"libradesk/internal/store/memory"
)

func newClient(t *testing.T, now time.Time) *clients.LibraryClient {
	t.Helper()
	st := memory.New()
	clock := func() time.Time { return now }

	circ, err := circulation.NewService(st, nil, zap.NewNop(), circulation.WithClock(clock), circulation.WithBackoff(0, 0))
	require.NoError(t, err)
	reg, err := reports.NewDefaultRegistry(st, clock)
	require.NoError(t, err)
	facade := library.NewFacade(circ, catalog.NewService(st, nil), membership.NewService(st, rate.NewLimiter(rate.Inf, 1), nil), reg)

	srv := httptest.NewServer(library.NewHandler(facade, nil).Routes(nil))
	t.Cleanup(srv.Close)
	return clients.NewLibraryClient(srv.URL + "/")
}

func TestLibraryClient_Circulation(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))

	book, err := c.AddBook(ctx, "978-0553293357", "Foundation", "Isaac Asimov", time.Date(1951, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusAvailable, book.Status)

	member, err := c.RegisterMember(ctx, "ada@x.org", "Ada", membership.TierStudent)
	require.NoError(t, err)
	assert.Equal(t, membership.TierStudent, member.Tier)

	co, err := c.Checkout(ctx, "978-0553293357", "ada@x.org")
	require.NoError(t, err)
	assert.Equal(t, circulation.OutcomeCheckedOut, co.Outcome)
	require.NotNil(t, co.DueDate)
	assert.Equal(t, "2024-03-22", co.DueDate.Format("2006-01-02"))

	co, err = c.Checkout(ctx, "978-0553293357", "ada@x.org")
	require.NoError(t, err)
	assert.Equal(t, circulation.OutcomeBookUnavailable, co.Outcome)

	got, err := c.GetBook(ctx, "978-0553293357")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCheckedOut, got.Status)

	ret, err := c.ReturnBook(ctx, "978-0553293357")
	require.NoError(t, err)
	assert.Equal(t, circulation.OutcomeReturned, ret.Outcome)

	ret, err = c.ReturnBook(ctx, "978-0553293357")
	require.NoError(t, err)
	assert.Equal(t, circulation.OutcomeNotCheckedOut, ret.Outcome)
}

func TestLibraryClient_SearchAndReports(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))

	_, err := c.AddBook(ctx, "1", "The Dispossessed", "Ursula K. Le Guin", time.Time{})
	require.NoError(t, err)
	_, err = c.RegisterMember(ctx, "bob@x.org", "Bob", membership.TierRegular)
	require.NoError(t, err)

	books, err := c.Search(ctx, "dispossessed", "title")
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "1", books[0].ISBN)

	types, err := c.ReportTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"available", "members", "overdue"}, types)

	out, err := c.Report(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, "Total members: 1", out)

	m, err := c.UpdateMemberTier(ctx, "bob@x.org", membership.TierPremium)
	require.NoError(t, err)
	assert.Equal(t, membership.TierPremium, m.Tier)

	m, err = c.GetMember(ctx, "bob@x.org")
	require.NoError(t, err)
	assert.Equal(t, membership.TierPremium, m.Tier)
}

func TestLibraryClient_Errors(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, time.Now())

	_, err := c.Checkout(ctx, "nope", "ada@x.org")
	var apiErr *clients.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.False(t, clients.IsRetryable(err))

	_, err = c.Search(ctx, "x", "publisher")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	_, err = c.Report(ctx, "fines")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	_, err = c.AddBook(ctx, "1", "T", "A", time.Time{})
	require.NoError(t, err)
	_, err = c.AddBook(ctx, "1", "T", "A", time.Time{})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}

func TestIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"concurrent modification","retryable":true}`))
	}))
	t.Cleanup(srv.Close)

	_, err := clients.NewLibraryClient(srv.URL).Checkout(context.Background(), "1", "a@x.org")
	assert.True(t, clients.IsRetryable(err))
}

func TestLibraryClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error"}`))
	}))
	t.Cleanup(srv.Close)

	c := clients.NewLibraryClient(srv.URL, clients.WithBreaker(gobreaker.Settings{
		Name:        "test",
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 2 },
	}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.ReturnBook(ctx, "1")
		var apiErr *clients.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	}

	_, err := c.ReturnBook(ctx, "1")
	assert.ErrorIs(t, err, clients.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}
