// Package storetest holds behaviour tests every store.Store implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libradesk/internal/catalog"
	"libradesk/internal/membership"
	"libradesk/internal/store"
)

// Factory returns an empty store. Each call must be isolated from the others.
type Factory func(t *testing.T) store.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AddAndFind", func(t *testing.T) { testAddAndFind(t, newStore(t)) })
	t.Run("Duplicates", func(t *testing.T) { testDuplicates(t, newStore(t)) })
	t.Run("SaveBumpsVersion", func(t *testing.T) { testSaveBumpsVersion(t, newStore(t)) })
	t.Run("StaleSaveConflicts", func(t *testing.T) { testStaleSave(t, newStore(t)) })
	t.Run("Queries", func(t *testing.T) { testQueries(t, newStore(t)) })
	t.Run("TxCommit", func(t *testing.T) { testTxCommit(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
	t.Run("TxConflict", func(t *testing.T) { testTxConflict(t, newStore(t)) })
}

func book(isbn, title, author string) *catalog.Book {
	return &catalog.Book{
		ID:              uuid.New(),
		ISBN:            isbn,
		Title:           title,
		Author:          author,
		PublicationDate: time.Date(1965, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func member(email string, tier membership.Tier) *membership.Member {
	return &membership.Member{ID: uuid.New(), Email: email, Name: "Member " + email, Tier: tier}
}

func testAddAndFind(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.AddBook(ctx, book("111", "Dune", "Frank Herbert")))
	require.NoError(t, st.AddMember(ctx, member("a@x.org", membership.TierStudent)))

	b, err := st.FindBookByISBN(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, "Dune", b.Title)
	assert.Equal(t, catalog.StatusAvailable, b.Status)
	assert.Nil(t, b.CheckedOutBy)
	assert.Equal(t, 0, b.Version)

	m, err := st.FindMemberByEmail(ctx, "a@x.org")
	require.NoError(t, err)
	assert.Equal(t, membership.TierStudent, m.Tier)
	assert.Equal(t, membership.StatusActive, m.Status)

	_, err = st.FindBookByISBN(ctx, "999")
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)
	_, err = st.FindMemberByEmail(ctx, "nobody@x.org")
	assert.ErrorIs(t, err, membership.ErrMemberNotFound)
}

func testDuplicates(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.AddBook(ctx, book("111", "Dune", "Frank Herbert")))
	assert.ErrorIs(t, st.AddBook(ctx, book("111", "Dune", "Frank Herbert")), store.ErrDuplicateISBN)

	require.NoError(t, st.AddMember(ctx, member("a@x.org", membership.TierRegular)))
	assert.ErrorIs(t, st.AddMember(ctx, member("a@x.org", membership.TierRegular)), store.ErrDuplicateEmail)
}

func testSaveBumpsVersion(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.AddBook(ctx, book("111", "Dune", "Frank Herbert")))

	b, err := st.FindBookByISBN(ctx, "111")
	require.NoError(t, err)
	due := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	b.CheckOut("a@x.org", due)
	require.NoError(t, st.SaveBook(ctx, b))
	assert.Equal(t, 1, b.Version)

	got, err := st.FindBookByISBN(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, catalog.StatusCheckedOut, got.Status)
	assert.Equal(t, "a@x.org", got.Holder())
	require.NotNil(t, got.DueDate)
	assert.True(t, due.Equal(got.DueDate.UTC()))

	missing := book("999", "Ghost", "Nobody")
	assert.ErrorIs(t, st.SaveBook(ctx, missing), catalog.ErrBookNotFound)
}

func testStaleSave(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.AddMember(ctx, member("a@x.org", membership.TierRegular)))

	first, err := st.FindMemberByEmail(ctx, "a@x.org")
	require.NoError(t, err)
	second, err := st.FindMemberByEmail(ctx, "a@x.org")
	require.NoError(t, err)

	first.IncrementCheckouts()
	require.NoError(t, st.SaveMember(ctx, first))

	second.IncrementCheckouts()
	assert.ErrorIs(t, st.SaveMember(ctx, second), store.ErrConcurrencyConflict)

	got, err := st.FindMemberByEmail(ctx, "a@x.org")
	require.NoError(t, err)
	assert.Equal(t, 1, got.BooksCheckedOut)
}

func testQueries(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.AddBook(ctx, book("1", "Dune", "Frank Herbert")))
	require.NoError(t, st.AddBook(ctx, book("2", "Dune Messiah", "Frank Herbert")))
	require.NoError(t, st.AddBook(ctx, book("3", "100% Pure", "Anon_Writer")))
	require.NoError(t, st.AddMember(ctx, member("a@x.org", membership.TierRegular)))
	require.NoError(t, st.AddMember(ctx, member("b@x.org", membership.TierPremium)))

	b, err := st.FindBookByISBN(ctx, "1")
	require.NoError(t, err)
	b.CheckOut("a@x.org", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, st.SaveBook(ctx, b))

	books, err := st.FindBooksByTitle(ctx, "DUNE")
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "Dune", books[0].Title)
	assert.Equal(t, "Dune Messiah", books[1].Title)

	books, err = st.FindBooksByAuthor(ctx, "herb")
	require.NoError(t, err)
	assert.Len(t, books, 2)

	books, err = st.FindBooksByTitle(ctx, "0%")
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "3", books[0].ISBN)

	books, err = st.FindBooksByAuthor(ctx, "n_w")
	require.NoError(t, err)
	require.Len(t, books, 1)

	books, err = st.FindBooksByAuthor(ctx, "tolkien")
	require.NoError(t, err)
	assert.NotNil(t, books)
	assert.Empty(t, books)

	due, err := st.FindBooksDueBefore(ctx, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "1", due[0].ISBN)

	due, err = st.FindBooksDueBefore(ctx, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, due)

	n, err := st.CountBooksByStatus(ctx, catalog.StatusAvailable)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = st.CountBooksByStatus(ctx, catalog.StatusCheckedOut)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = st.CountMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testTxCommit(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.AddBook(ctx, book("111", "Dune", "Frank Herbert")))
	require.NoError(t, st.AddMember(ctx, member("a@x.org", membership.TierRegular)))

	err := st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b, err := tx.FindBookByISBN(ctx, "111")
		if err != nil {
			return err
		}
		m, err := tx.FindMemberByEmail(ctx, "a@x.org")
		if err != nil {
			return err
		}
		b.CheckOut(m.Email, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
		if err := tx.SaveBook(ctx, b); err != nil {
			return err
		}
		m.IncrementCheckouts()
		if err := tx.SaveMember(ctx, m); err != nil {
			return err
		}

		seen, err := tx.FindBookByISBN(ctx, "111")
		if err != nil {
			return err
		}
		assert.Equal(t, catalog.StatusCheckedOut, seen.Status)
		n, err := tx.CountBooksByStatus(ctx, catalog.StatusCheckedOut)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)

	b, err := st.FindBookByISBN(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCheckedOut, b.Status)
	assert.Equal(t, 1, b.Version)

	m, err := st.FindMemberByEmail(ctx, "a@x.org")
	require.NoError(t, err)
	assert.Equal(t, 1, m.BooksCheckedOut)
	assert.Equal(t, 1, m.Version)
}

func testTxRollback(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.AddBook(ctx, book("111", "Dune", "Frank Herbert")))
	boom := errors.New("boom")

	err := st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b, err := tx.FindBookByISBN(ctx, "111")
		if err != nil {
			return err
		}
		b.CheckOut("a@x.org", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
		if err := tx.SaveBook(ctx, b); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	b, err := st.FindBookByISBN(ctx, "111")
	require.NoError(t, err)
	assert.True(t, b.IsAvailable())
	assert.Equal(t, 0, b.Version)
}

func testTxConflict(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.AddBook(ctx, book("111", "Dune", "Frank Herbert")))

	err := st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b, err := tx.FindBookByISBN(ctx, "111")
		if err != nil {
			return err
		}

		// A competing writer commits first.
		other, err := st.FindBookByISBN(ctx, "111")
		if err != nil {
			return err
		}
		other.CheckOut("b@x.org", time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC))
		if err := st.SaveBook(ctx, other); err != nil {
			return err
		}

		b.CheckOut("a@x.org", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
		return tx.SaveBook(ctx, b)
	})
	assert.ErrorIs(t, err, store.ErrConcurrencyConflict)

	b, err := st.FindBookByISBN(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, "b@x.org", b.Holder())
}
