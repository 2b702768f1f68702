package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libradesk/internal/catalog"
	"libradesk/internal/store"
	"libradesk/internal/store/memory"
	"libradesk/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}

func TestFindReturnsCopies(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.AddBook(ctx, &catalog.Book{ISBN: "111", Title: "Dune"}))

	b, err := st.FindBookByISBN(ctx, "111")
	require.NoError(t, err)
	b.Title = "changed"

	again, err := st.FindBookByISBN(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, "Dune", again.Title)
}

func TestTxStagesSameRowTwice(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.AddBook(ctx, &catalog.Book{ISBN: "111", Title: "Dune"}))

	err := st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b, err := tx.FindBookByISBN(ctx, "111")
		if err != nil {
			return err
		}
		b.Title = "Dune (1st ed.)"
		if err := tx.SaveBook(ctx, b); err != nil {
			return err
		}
		b.Title = "Dune (2nd ed.)"
		return tx.SaveBook(ctx, b)
	})
	require.NoError(t, err)

	b, err := st.FindBookByISBN(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, "Dune (2nd ed.)", b.Title)
	assert.Equal(t, 1, b.Version)
}
