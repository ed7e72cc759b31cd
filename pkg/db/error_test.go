package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm translated", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{"pgconn", &pgconn.PgError{Code: "23505"}, true},
		{"mysql text", errors.New("Error 1062: Duplicate entry"), true},
		{"sqlite text", errors.New("UNIQUE constraint failed: qr_tokens.token_hash"), true},
		{"other pg code", &pgconn.PgError{Code: "23503"}, false},
		{"unrelated", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDuplicateKeyErr(tc.err))
		})
	}
}

func TestRetryableAndLockTimeout(t *testing.T) {
	assert.True(t, IsRetryableTxErr(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsRetryableTxErr(&pgconn.PgError{Code: "40P01"}))
	assert.True(t, IsRetryableTxErr(errors.New("database is locked")))
	assert.False(t, IsRetryableTxErr(nil))
	assert.False(t, IsRetryableTxErr(&pgconn.PgError{Code: "55P03"}))

	assert.True(t, IsLockTimeoutErr(fmt.Errorf("lock: %w", &pgconn.PgError{Code: "55P03"})))
	assert.False(t, IsLockTimeoutErr(errors.New("lock timeout")))
}

func TestNewTestEnforcesUniqueIndexes(t *testing.T) {
	conn, err := NewTest(t.Name())
	require.NoError(t, err)

	require.NoError(t, conn.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, code TEXT NOT NULL UNIQUE)`).Error)
	require.NoError(t, conn.Exec(`INSERT INTO items (id, code) VALUES (1, 'a')`).Error)

	err = conn.Exec(`INSERT INTO items (id, code) VALUES (2, 'a')`).Error
	require.Error(t, err)
	assert.True(t, IsDuplicateKeyErr(err))
}
