package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/core/indexing"
	"github.com/jinford/docqa/internal/core/indexing/chunker"
	"github.com/jinford/docqa/internal/core/vectorindex"
)

// Service は文書の取得からベクトルインデックス構築までのユースケースを提供する
type Service struct {
	fetcher        document.Fetcher
	extractor      document.TextExtractor
	chunker        chunker.Chunker
	embedder       indexing.Embedder
	pipelineConfig *PipelineConfig
	logger         *slog.Logger
}

type serviceOptions struct {
	pipelineConfig *PipelineConfig
	logger         *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*serviceOptions)

// WithIngestionLogger は Service にロガーを設定する
func WithIngestionLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithPipelineConfig はパイプライン設定を上書きする
func WithPipelineConfig(cfg *PipelineConfig) ServiceOption {
	return func(o *serviceOptions) {
		o.pipelineConfig = cfg
	}
}

// NewService は新しいServiceを作成する
func NewService(
	fetcher document.Fetcher,
	extractor document.TextExtractor,
	chunker chunker.Chunker,
	embedder indexing.Embedder,
	opts ...ServiceOption,
) *Service {
	options := serviceOptions{
		pipelineConfig: DefaultPipelineConfig(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.pipelineConfig == nil {
		options.pipelineConfig = DefaultPipelineConfig()
	}

	return &Service{
		fetcher:        fetcher,
		extractor:      extractor,
		chunker:        chunker,
		embedder:       embedder,
		pipelineConfig: options.pipelineConfig,
		logger:         options.logger,
	}
}

// Fetch は文書を取得する。失敗は常に *document.FetchError として返す
func (s *Service) Fetch(ctx context.Context, source string) (*document.Payload, error) {
	if source == "" {
		return nil, document.NewFetchError(source, document.ErrEmptySource)
	}

	payload, err := s.fetcher.Fetch(ctx, source)
	if err != nil {
		var fetchErr *document.FetchError
		if errors.As(err, &fetchErr) {
			return nil, err
		}
		return nil, document.NewFetchError(source, err)
	}
	return payload, nil
}

// Ingest は取得済みの文書からテキストを抽出し、チャンク分割・埋め込みを行ってインデックスを構築する
func (s *Service) Ingest(ctx context.Context, fingerprint string, payload *document.Payload) (*vectorindex.Index, error) {
	startTime := time.Now()

	// 1. テキスト抽出
	text, err := s.extractor.Extract(ctx, payload)
	if err != nil {
		return nil, newIngestionError("extract", fingerprint, err)
	}

	// 2. チャンク分割
	chunks, err := s.chunker.Chunk(ctx, text)
	if err != nil {
		return nil, newIngestionError("chunk", fingerprint, err)
	}
	if len(chunks) == 0 {
		return nil, newIngestionError("chunk", fingerprint, vectorindex.ErrIndexEmpty)
	}
	indexing.AssignIDs(fingerprint, chunks)

	// 3. Embedding生成
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := s.embed(ctx, texts)
	if err != nil {
		return nil, newIngestionError("embed", fingerprint, err)
	}

	// 4. インデックス構築
	ix, err := vectorindex.Build(indexing.MetadataOf(s.embedder), chunks, vectors)
	if err != nil {
		return nil, newIngestionError("index", fingerprint, err)
	}

	s.logger.Info("document ingested",
		"fingerprint", fingerprint,
		"source", payload.Source,
		"text_length", len(text),
		"chunks", len(chunks),
		"model", s.embedder.ModelName(),
		"duration", time.Since(startTime),
	)

	return ix, nil
}

// embed はバッチに分割して並行にEmbeddingを生成する。結果はテキストと同順
func (s *Service) embed(ctx context.Context, texts []string) ([][]float32, error) {
	batchSize := s.pipelineConfig.batchSize(s.embedder.MaxBatchSize())
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.pipelineConfig.workers())

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			batch, err := s.embedder.BatchEmbed(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("batch %d-%d: %w", start, end, err)
			}
			if len(batch) != end-start {
				return fmt.Errorf("batch %d-%d: %w: expected %d, got %d",
					start, end, indexing.ErrEmbeddingCountMismatch, end-start, len(batch))
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
