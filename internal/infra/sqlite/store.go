package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/jinford/docqa/internal/core/qacache"
	"github.com/jinford/docqa/internal/infra/sqlite/migrations"
)

// ErrInvalidPath はデータベースファイルのパスが空の場合に返されます
var ErrInvalidPath = errors.New("sqlite path is required")

// Store は SQLite に質問応答レコードを保存する qacache.Store 実装
type Store struct {
	db   *sql.DB
	path string
}

// インターフェース実装の確認
var _ qacache.Store = (*Store)(nil)

// NewStore は path にデータベースを開き、未適用のマイグレーションを実行する
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, ErrInvalidPath
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Path はデータベースファイルのパスを返す
func (s *Store) Path() string {
	return s.path
}

// Close はデータベース接続を閉じる
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping はデータベースへの疎通を確認する
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListPage は名前空間内のレコードを ID 昇順で cursor の次から最大 limit 件返す
func (s *Store) ListPage(ctx context.Context, namespace, cursor string, limit int) (qacache.Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, question, answer
		FROM qa_records
		WHERE namespace = ? AND id > ?
		ORDER BY id
		LIMIT ?
	`, namespace, cursor, limit)
	if err != nil {
		return qacache.Page{}, fmt.Errorf("failed to query qa records: %w", err)
	}
	defer rows.Close()

	var page qacache.Page
	for rows.Next() {
		var (
			id     string
			record qacache.Record
		)
		if err := rows.Scan(&id, &record.Namespace, &record.Question, &record.Answer); err != nil {
			return qacache.Page{}, fmt.Errorf("failed to scan qa record: %w", err)
		}
		if record.ID, err = uuid.Parse(id); err != nil {
			return qacache.Page{}, fmt.Errorf("invalid qa record id %q: %w", id, err)
		}
		page.Records = append(page.Records, record)
	}
	if err := rows.Err(); err != nil {
		return qacache.Page{}, fmt.Errorf("failed to iterate qa records: %w", err)
	}

	// 件数が上限に達した場合は続きがある可能性があるため、最後のIDをカーソルとして返す
	if limit > 0 && len(page.Records) == limit {
		page.NextCursor = page.Records[len(page.Records)-1].ID.String()
	}

	return page, nil
}

// Upsert は同じIDのレコードがあれば回答を上書きし、なければ追加する。
// vector 列は検索に使わないため NULL のまま保存する
func (s *Store) Upsert(ctx context.Context, record qacache.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO qa_records (id, namespace, question, answer, vector)
		VALUES (?, ?, ?, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET
			answer = excluded.answer,
			updated_at = CURRENT_TIMESTAMP
	`, record.ID.String(), record.Namespace, record.Question, record.Answer)
	if err != nil {
		return fmt.Errorf("failed to upsert qa record: %w", err)
	}
	return nil
}

// migrate は schema_migrations に記録されていないマイグレーションを番号順に適用する
func (s *Store) migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if err := s.apply(ctx, version, string(content)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}

	return nil
}

func (s *Store) apply(ctx context.Context, version int, stmt string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return err
	}
	return tx.Commit()
}
