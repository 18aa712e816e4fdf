package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestSQLError(t *testing.T) {
	other := &mysql.MySQLError{Number: 1146, Message: "table doesn't exist"}
	plain := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"duplicate entry", &mysql.MySQLError{Number: 1062}, ErrConflict},
		{"deadlock", &mysql.MySQLError{Number: 1213}, ErrDeadlock},
		{"wrapped lock wait timeout", fmt.Errorf("claim: %w", &mysql.MySQLError{Number: 1205}), ErrLockWaitTimeout},
		{"no rows", sql.ErrNoRows, ErrRowsNotFound},
		{"unmapped mysql error", other, other},
		{"non mysql error", plain, plain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SQLError(tt.err))
		})
	}
}

func TestSkipRetryUnwrap(t *testing.T) {
	err := &ErrSkipRetry{Err: ErrInvalidState}
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, ErrInvalidState.Error(), err.Error())
}
