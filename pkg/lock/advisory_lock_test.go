package lock

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  string
	args []any
	err  error
}

func (r *recordingExecer) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	r.sql = sql
	r.args = arguments
	return pgconn.CommandTag{}, r.err
}

func TestGenerateLockID(t *testing.T) {
	assert.Equal(t, GenerateLockID("docqa", "migrate"), GenerateLockID("docqa", "migrate"))
	assert.NotEqual(t, GenerateLockID("docqa", "migrate"), GenerateLockID("docqamigrate"))
	assert.NotEqual(t, GenerateLockID("a"), GenerateLockID("b"))
}

func TestAcquire(t *testing.T) {
	t.Run("トランザクションスコープのロックを取得する", func(t *testing.T) {
		tx := &recordingExecer{}
		require.NoError(t, Acquire(context.Background(), tx, 42))
		assert.Equal(t, "SELECT pg_advisory_xact_lock($1)", tx.sql)
		assert.Equal(t, []any{int64(42)}, tx.args)
	})

	t.Run("失敗はラップして返す", func(t *testing.T) {
		boom := errors.New("connection reset")
		err := Acquire(context.Background(), &recordingExecer{err: boom}, 1)
		assert.ErrorIs(t, err, boom)
	})
}
