package vectorcache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jinford/docqa/internal/core/vectorindex"
)

// ErrNilIndex は構築関数がエラーなしで nil を返した場合のエラー
var ErrNilIndex = errors.New("build returned nil index")

// DefaultBuildTimeout は共有される構築処理1回あたりの上限時間
const DefaultBuildTimeout = 5 * time.Minute

// BuildFunc はキャッシュミス時にインデックスを構築する関数
type BuildFunc func(ctx context.Context) (*vectorindex.Index, error)

type entry struct {
	index   *vectorindex.Index
	builtAt time.Time
}

// Cache は文書キーごとに構築済みのベクトルインデックスを保持する。
// 同一キーへの同時要求は1回の構築を共有し、異なるキーの構築は並行に進む。
// 構築に失敗した結果はキャッシュしない
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Cache)

// WithTTL はエントリの有効期間を設定する。0 以下の場合は期限なし
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithBuildTimeout は構築処理の上限時間を設定する。0 以下の場合は DefaultBuildTimeout
func WithBuildTimeout(timeout time.Duration) Option {
	return func(c *Cache) {
		c.timeout = timeout
	}
}

// WithLogger は Cache にロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// withClock はテスト用に現在時刻の取得関数を差し替える
func withClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New は新しい Cache を作成する
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.timeout <= 0 {
		c.timeout = DefaultBuildTimeout
	}
	return c
}

// GetOrBuild はキーに対応するインデックスを返す。未構築の場合は build を1回だけ実行する。
// build は呼び出し元のキャンセルから切り離して実行されるため、
// 最初の呼び出し元が離脱しても待機中の他の呼び出し元は同じ結果を受け取る
func (c *Cache) GetOrBuild(ctx context.Context, key string, build BuildFunc) (*vectorindex.Index, error) {
	if ix, ok := c.get(key); ok {
		c.logger.Debug("vector cache hit", "key", key)
		return ix, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// 直前に別の呼び出しが構築を終えている可能性がある
		if ix, ok := c.get(key); ok {
			return ix, nil
		}

		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		started := c.now()
		ix, err := build(buildCtx)
		if err != nil {
			c.logger.Warn("vector index build failed", "key", key, "error", err)
			return nil, err
		}
		if ix == nil {
			return nil, ErrNilIndex
		}

		c.mu.Lock()
		c.entries[key] = entry{index: ix, builtAt: c.now()}
		c.mu.Unlock()

		c.logger.Info("vector index built",
			"key", key,
			"chunks", ix.Len(),
			"duration", c.now().Sub(started),
		)
		return ix, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*vectorindex.Index), nil
	}
}

// Get は構築済みのインデックスを返す
func (c *Cache) Get(key string) (*vectorindex.Index, bool) {
	return c.get(key)
}

func (c *Cache) get(key string) (*vectorindex.Index, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if c.ttl > 0 && c.now().Sub(e.builtAt) >= c.ttl {
		c.mu.Lock()
		// 期限切れを確認した後に再構築されたエントリは消さない
		if cur, ok := c.entries[key]; ok && cur.builtAt.Equal(e.builtAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.index, true
}

// Invalidate はキーのエントリを破棄する。次回の GetOrBuild で再構築される
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.group.Forget(key)
}

// Len は保持しているエントリ数を返す
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
