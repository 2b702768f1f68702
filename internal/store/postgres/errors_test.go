package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"libradesk/internal/store"
)

func TestMapError(t *testing.T) {
	for _, code := range []pq.ErrorCode{"40001", "40P01", "23505"} {
		err := mapError(fmt.Errorf("update books: %w", &pq.Error{Code: code, Message: "boom"}))
		assert.ErrorIs(t, err, store.ErrConcurrencyConflict, "code %s", code)
	}

	other := &pq.Error{Code: "23503", Message: "foreign key"}
	assert.Same(t, other, mapError(other))

	plain := errors.New("connection reset")
	assert.Equal(t, plain, mapError(plain))
}
