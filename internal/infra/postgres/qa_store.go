package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/docqa/internal/core/qacache"
	"github.com/jinford/docqa/pkg/db"
	"github.com/jinford/docqa/pkg/lock"
)

// DefaultDimension は placeholder ベクトルのデフォルト次元数
const DefaultDimension = 1536

// ErrInvalidDimension は次元数が正でない場合に返されます
var ErrInvalidDimension = errors.New("embedding dimension must be positive")

// migrationLockID はスキーマ作成を直列化するアドバイザリロックID
var migrationLockID = lock.GenerateLockID("docqa", "qa_records", "migrate")

// QAStore は pgvector 拡張を有効にした PostgreSQL に質問応答レコードを保存する qacache.Store 実装。
// 照合は名前空間の全件取得で行うため、embedding 列は固定の placeholder ベクトルを保持する
type QAStore struct {
	pool        *pgxpool.Pool
	dimension   int
	placeholder pgvector.Vector
}

// インターフェース実装の確認
var _ qacache.Store = (*QAStore)(nil)

// QAStoreOption は QAStore の設定を変更する関数
type QAStoreOption func(*QAStore)

// WithDimension は embedding 列の次元数を設定する
func WithDimension(dimension int) QAStoreOption {
	return func(s *QAStore) {
		s.dimension = dimension
	}
}

// NewQAStore は新しいQAStoreを作成する
func NewQAStore(pool *pgxpool.Pool, opts ...QAStoreOption) (*QAStore, error) {
	s := &QAStore{
		pool:      pool,
		dimension: DefaultDimension,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.dimension <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, s.dimension)
	}
	s.placeholder = pgvector.NewVector(make([]float32, s.dimension))

	return s, nil
}

// Migrate は pgvector 拡張と qa_records テーブルを作成する。
// 複数プロセスが同時に起動してもアドバイザリロックで直列化される
func (s *QAStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS qa_records (
				id         UUID PRIMARY KEY,
				namespace  TEXT NOT NULL,
				question   TEXT NOT NULL,
				answer     TEXT NOT NULL,
				embedding  vector(%d) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS idx_qa_records_namespace_id ON qa_records (namespace, id)`,
	}

	err := db.Transact(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lock.Acquire(ctx, tx, migrationLockID); err != nil {
			return err
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply migration: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("qa_records migration: %w", err)
	}
	return nil
}

// ListPage は名前空間内のレコードを ID 昇順で cursor の次から最大 limit 件返す
func (s *QAStore) ListPage(ctx context.Context, namespace, cursor string, limit int) (qacache.Page, error) {
	after := uuid.Nil
	if cursor != "" {
		parsed, err := uuid.Parse(cursor)
		if err != nil {
			return qacache.Page{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		after = parsed
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, namespace, question, answer
		FROM qa_records
		WHERE namespace = $1 AND id > $2::uuid
		ORDER BY id
		LIMIT $3
	`, namespace, after.String(), limit)
	if err != nil {
		return qacache.Page{}, fmt.Errorf("failed to query qa records: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (qacache.Record, error) {
		var (
			id     string
			record qacache.Record
		)
		if err := row.Scan(&id, &record.Namespace, &record.Question, &record.Answer); err != nil {
			return qacache.Record{}, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return qacache.Record{}, err
		}
		record.ID = parsed
		return record, nil
	})
	if err != nil {
		return qacache.Page{}, fmt.Errorf("failed to scan qa records: %w", err)
	}

	page := qacache.Page{Records: records}
	if limit > 0 && len(records) == limit {
		page.NextCursor = records[len(records)-1].ID.String()
	}
	return page, nil
}

// Upsert は同じIDのレコードがあれば回答を上書きし、なければ追加する
func (s *QAStore) Upsert(ctx context.Context, record qacache.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO qa_records (id, namespace, question, answer, embedding)
		VALUES ($1::uuid, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			answer = EXCLUDED.answer,
			updated_at = now()
	`, record.ID.String(), record.Namespace, record.Question, record.Answer, s.placeholder)
	if err != nil {
		return fmt.Errorf("failed to upsert qa record: %w", err)
	}
	return nil
}

// Ping はデータベースへの疎通を確認する
func (s *QAStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
