package qacache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore はプロセス内で完結する Store 実装。テストや永続化不要の構成で使う
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]Record // namespace -> id -> record
}

// NewMemoryStore は新しいMemoryStoreを作成する
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]Record)}
}

// ListPage は名前空間内のレコードを ID 昇順でページングして返す
func (m *MemoryStore) ListPage(ctx context.Context, namespace, cursor string, limit int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ns := m.records[namespace]
	ids := make([]string, 0, len(ns))
	for id := range ns {
		if id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var page Page
	for _, id := range ids {
		if limit > 0 && len(page.Records) == limit {
			page.NextCursor = page.Records[len(page.Records)-1].ID.String()
			break
		}
		page.Records = append(page.Records, ns[id])
	}
	return page, nil
}

// Upsert はレコードを保存する
func (m *MemoryStore) Upsert(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.records[record.Namespace]
	if !ok {
		ns = make(map[string]Record)
		m.records[record.Namespace] = ns
	}
	ns[record.ID.String()] = record
	return nil
}

// Ping は常に成功する
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// インターフェース実装の確認
var _ Store = (*MemoryStore)(nil)
