package qacache

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPageSize は LookupAll で1回に取得する件数
const DefaultPageSize = 100

// Answers は名前空間内の質問から回答への対応表
type Answers struct {
	entries   map[string]string
	normalize bool
}

// Get は質問に一致する回答を返す。正規化が無効な場合は完全一致のみ
func (a Answers) Get(question string) (string, bool) {
	key := question
	if a.normalize {
		key = Normalize(question)
	}
	answer, ok := a.entries[key]
	return answer, ok
}

// Len は件数を返す
func (a Answers) Len() int {
	return len(a.entries)
}

// Map は照合キーから回答への対応表のコピーを返す
func (a Answers) Map() map[string]string {
	out := make(map[string]string, len(a.entries))
	for k, v := range a.entries {
		out[k] = v
	}
	return out
}

// Service は名前空間ごとの質問応答キャッシュを提供する。
// 読み取り側はバックエンドの障害を空のキャッシュとして扱い、呼び出し元を失敗させない
type Service struct {
	store     Store
	pageSize  int
	normalize bool
	logger    *slog.Logger
}

type Option func(*Service)

// WithPageSize は LookupAll のページサイズを設定する
func WithPageSize(n int) Option {
	return func(s *Service) {
		s.pageSize = n
	}
}

// WithNormalization は質問照合時の正規化を有効にする
func WithNormalization(enabled bool) Option {
	return func(s *Service) {
		s.normalize = enabled
	}
}

// WithLogger は Service にロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService は新しい Service を作成する。store が nil の場合は常に空のキャッシュとして振る舞う
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		pageSize: DefaultPageSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.pageSize <= 0 {
		s.pageSize = DefaultPageSize
	}
	return s
}

// LookupAll は名前空間内の全レコードをページングで読み出して対応表を返す。
// 取得中にエラーが起きた場合は部分的な結果を使わず空の対応表を返す
func (s *Service) LookupAll(ctx context.Context, namespace string) Answers {
	answers := Answers{entries: make(map[string]string), normalize: s.normalize}
	if s.store == nil || namespace == "" {
		return answers
	}

	startTime := time.Now()
	cursor := ""
	pages := 0

	for {
		page, err := s.store.ListPage(ctx, namespace, cursor, s.pageSize)
		if err != nil {
			s.logger.Warn("qa cache lookup failed, continuing with empty cache",
				"namespace", namespace,
				"error", err,
			)
			return Answers{entries: make(map[string]string), normalize: s.normalize}
		}
		pages++

		for _, r := range page.Records {
			key := r.Question
			if s.normalize {
				key = Normalize(key)
			}
			answers.entries[key] = r.Answer
		}

		if page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
	}

	s.logger.Debug("qa cache loaded",
		"namespace", namespace,
		"records", answers.Len(),
		"pages", pages,
		"duration", time.Since(startTime),
	)
	return answers
}

// Store は質問と回答の組を保存する。同じ質問を再保存すると上書きされる。
// 正規化が有効な場合は正規化後の質問が同じであれば同じレコードとみなす
func (s *Service) Store(ctx context.Context, namespace, question, answer string) error {
	if s.store == nil {
		return nil
	}

	record, err := NewRecord(namespace, question, answer)
	if err != nil {
		return err
	}
	if s.normalize {
		key := Normalize(question)
		if key == "" {
			return ErrEmptyQuestion
		}
		record.ID = RecordID(namespace, key)
	}
	return s.store.Upsert(ctx, record)
}

// Ping はバックエンドの疎通を確認する
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Ping(ctx)
}
