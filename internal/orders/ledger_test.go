package orders

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestWrapTxContentionIsRetryable(t *testing.T) {
	deadlock := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	assert.ErrorIs(t, wrapTx(deadlock, "lock product"), ErrConflict)

	serialization := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	assert.ErrorIs(t, wrapTx(serialization, "decrement stock"), ErrConflict)
}

func TestWrapTxKeepsOtherPgErrors(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	wrapped := wrapTx(unique, "insert order")
	assert.False(t, errors.Is(wrapped, ErrConflict))
	assert.True(t, isUniqueViolation(wrapped))

	plain := errors.New("connection reset")
	assert.False(t, errors.Is(wrapTx(plain, "insert history"), ErrConflict))
}
