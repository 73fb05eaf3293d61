package cart

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestUniqueCartViolationMatchesWrappedDriverError(t *testing.T) {
	driverErr := &pgconn.PgError{Code: "23505", ConstraintName: "uq_active_cart"}
	require.True(t, uniqueCartViolation(driverErr))
	require.True(t, uniqueCartViolation(fmt.Errorf("insert cart: %w", driverErr)))
}

func TestUniqueCartViolationIgnoresOtherErrors(t *testing.T) {
	require.False(t, uniqueCartViolation(&pgconn.PgError{Code: "23505", ConstraintName: "cart_items_pkey"}))
	require.False(t, uniqueCartViolation(&pgconn.PgError{Code: "40001"}))
	require.False(t, uniqueCartViolation(errors.New("connection reset")))
}
