package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/jinford/docqa/internal/core/generation"
	"github.com/jinford/docqa/internal/core/indexing"
	"github.com/jinford/docqa/internal/core/vectorindex"
)

const (
	// DefaultQueryCount は生成する言い換えの件数
	DefaultQueryCount = 3
	// DefaultTopK はクエリごとの検索件数
	DefaultTopK = 5
)

// ErrEmptyQuestion は質問が空の場合に返されます
var ErrEmptyQuestion = errors.New("question is required")

// MultiQueryRetriever は質問の言い換えを生成し、元の質問と合わせた各クエリで検索した結果を統合する
type MultiQueryRetriever struct {
	generator  generation.Generator
	embedder   indexing.Embedder
	queryCount int
	topK       int
	logger     *slog.Logger
}

type Option func(*MultiQueryRetriever)

// WithQueryCount は言い換えの件数を設定する。0 の場合は元の質問のみで検索する
func WithQueryCount(n int) Option {
	return func(r *MultiQueryRetriever) {
		r.queryCount = n
	}
}

// WithTopK はクエリごとの検索件数を設定する
func WithTopK(k int) Option {
	return func(r *MultiQueryRetriever) {
		r.topK = k
	}
}

// WithRetrieverLogger は MultiQueryRetriever にロガーを設定する
func WithRetrieverLogger(logger *slog.Logger) Option {
	return func(r *MultiQueryRetriever) {
		r.logger = logger
	}
}

// NewMultiQueryRetriever は新しいMultiQueryRetrieverを作成する
func NewMultiQueryRetriever(generator generation.Generator, embedder indexing.Embedder, opts ...Option) *MultiQueryRetriever {
	r := &MultiQueryRetriever{
		generator:  generator,
		embedder:   embedder,
		queryCount: DefaultQueryCount,
		topK:       DefaultTopK,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.topK <= 0 {
		r.topK = DefaultTopK
	}
	return r
}

// Retrieve は質問に関連するチャンクを関連度の降順で返す。
// 同じチャンクが複数のクエリで見つかった場合は最大スコアを採用し、同点は最初に見つかった順を保つ。
// 言い換え生成に失敗した場合は元の質問のみで検索する
func (r *MultiQueryRetriever) Retrieve(ctx context.Context, index *vectorindex.Index, question string) ([]vectorindex.ScoredChunk, error) {
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	queries := []string{question}
	if r.queryCount > 0 {
		paraphrases, err := r.Paraphrase(ctx, question)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			r.logger.Warn("paraphrase generation failed, falling back to single query",
				"error", err,
			)
		}
		queries = append(queries, paraphrases...)
	}

	vectors, err := r.embedder.BatchEmbed(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("failed to embed queries: %w", err)
	}
	if len(vectors) != len(queries) {
		return nil, fmt.Errorf("%w: expected %d, got %d", indexing.ErrEmbeddingCountMismatch, len(queries), len(vectors))
	}

	model := indexing.MetadataOf(r.embedder)
	merged := make([]vectorindex.ScoredChunk, 0, len(queries)*r.topK)
	positions := make(map[uuid.UUID]int)

	for i, vector := range vectors {
		results, err := index.Search(model, vector, r.topK)
		if err != nil {
			return nil, fmt.Errorf("search failed for query %d: %w", i, err)
		}

		for _, res := range results {
			if pos, ok := positions[res.Chunk.ID]; ok {
				if res.Score > merged[pos].Score {
					merged[pos].Score = res.Score
				}
				continue
			}
			positions[res.Chunk.ID] = len(merged)
			merged = append(merged, res)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	r.logger.Debug("multi-query retrieval completed",
		"queries", len(queries),
		"chunks", len(merged),
	)

	return merged, nil
}

// Paraphrase は質問の言い換えを最大 queryCount 件生成する
func (r *MultiQueryRetriever) Paraphrase(ctx context.Context, question string) ([]string, error) {
	if r.generator == nil {
		return nil, generation.ErrUnavailable
	}

	output, err := r.generator.Generate(ctx, generation.Request{
		Prompt:      BuildParaphrasePrompt(question, r.queryCount),
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate paraphrases: %w", err)
	}

	return ParseParaphrases(output, question, r.queryCount), nil
}
