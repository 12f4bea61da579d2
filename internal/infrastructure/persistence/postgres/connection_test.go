package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/gametime-hub/gametime-tracker/pkg/retry"
)

func TestClassifyTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "connection failure is retried",
			err:       &pgconn.PgError{Code: "08006", Message: "connection failure"},
			retryable: true,
		},
		{
			name:      "admin shutdown is retried",
			err:       &pgconn.PgError{Code: "57P01", Message: "terminating connection"},
			retryable: true,
		},
		{
			name:      "wrapped connection failure is still recognized",
			err:       fmt.Errorf("commit error: %w", &pgconn.PgError{Code: "08000"}),
			retryable: true,
		},
		{
			name:      "sql error fails fast",
			err:       &pgconn.PgError{Code: "42703", Message: "column does not exist"},
			retryable: false,
		},
		{
			name:      "unique violation fails fast",
			err:       &pgconn.PgError{Code: "23505"},
			retryable: false,
		},
		{
			name:      "missing row fails fast",
			err:       pgx.ErrNoRows,
			retryable: false,
		},
		{
			name:      "cancelled context fails fast",
			err:       context.Canceled,
			retryable: false,
		},
		{
			name:      "deadline fails fast",
			err:       fmt.Errorf("query: %w", context.DeadlineExceeded),
			retryable: false,
		},
		{
			name:      "closed pool fails fast",
			err:       ErrConnectionClosed,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyTransient(tt.err)
			assert.Equal(t, tt.retryable, retry.IsRetryable(got))
			assert.ErrorIs(t, got, tt.err, "the original error stays reachable")
		})
	}

	assert.NoError(t, classifyTransient(nil))
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsNoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)))
	assert.False(t, IsNoRows(errors.New("other")))

	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "08006"}))
	assert.False(t, IsUniqueViolation(errors.New("other")))
}
