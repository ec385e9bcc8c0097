package lock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer はロック取得に必要な最小限のインターフェース。pgx.Tx が満たす
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// GenerateLockID は文字列からロックIDを生成します
func GenerateLockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}

	// ハッシュの最初の8バイトをint64として使用
	return int64(binary.BigEndian.Uint64(h.Sum(nil)[:8]))
}

// Acquire はトランザクションスコープのアドバイザリロック（pg_advisory_xact_lock）を取得します。
// ロックはトランザクション終了時に自動的に解放されます
func Acquire(ctx context.Context, tx Execer, lockID int64) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
