package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jinford/docqa/internal/core/answer"
	"github.com/jinford/docqa/internal/core/generation"
	"github.com/jinford/docqa/internal/core/indexing"
	"github.com/jinford/docqa/internal/core/indexing/chunker"
	"github.com/jinford/docqa/internal/core/ingestion"
	"github.com/jinford/docqa/internal/core/qa"
	"github.com/jinford/docqa/internal/core/qacache"
	"github.com/jinford/docqa/internal/core/retrieval"
	"github.com/jinford/docqa/internal/core/vectorcache"
	"github.com/jinford/docqa/internal/infra/fetch"
	"github.com/jinford/docqa/internal/infra/openai"
	"github.com/jinford/docqa/internal/infra/pdftext"
	"github.com/jinford/docqa/internal/infra/postgres"
	"github.com/jinford/docqa/internal/infra/sqlite"
	"github.com/jinford/docqa/internal/infra/tokenizer"
	"github.com/jinford/docqa/pkg/config"
	"github.com/jinford/docqa/pkg/db"
)

// ErrOnlineWithoutAPIKey は QA_MODE=online で OPENAI_API_KEY が未設定の場合に返されます
var ErrOnlineWithoutAPIKey = errors.New("QA_MODE=online requires OPENAI_API_KEY")

// Container はアプリケーションの依存関係を保持する
type Container struct {
	QA        *qa.Service
	QACache   *qacache.Service
	Indexes   *vectorcache.Cache
	Ingestion *ingestion.Service
	Mode      qa.Mode

	cfg     *config.Config
	logger  *slog.Logger
	closers []func() error
}

// New は設定からすべての依存関係を組み立てる
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{cfg: cfg, logger: logger}

	mode, err := ResolveMode(cfg)
	if err != nil {
		return nil, err
	}
	c.Mode = mode

	store, err := c.openQAStore(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.QACache = qacache.NewService(store,
		qacache.WithPageSize(cfg.QACache.PageSize),
		qacache.WithNormalization(cfg.QACache.Normalize),
		qacache.WithLogger(logger),
	)

	// 生成バックエンド
	var (
		generator generation.Generator = generation.Unavailable{}
		embedder  indexing.Embedder
	)
	if cfg.OpenAI.APIKey != "" {
		limiter := openai.NewRateLimiter(cfg.OpenAI.RequestsPerSecond, cfg.OpenAI.Burst)

		client, err := openai.NewClient(cfg.OpenAI.APIKey,
			openai.WithModel(cfg.OpenAI.LLMModel),
			openai.WithBaseURL(cfg.OpenAI.BaseURL),
			openai.WithTimeout(cfg.OpenAI.Timeout),
			openai.WithRateLimiter(limiter),
		)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("LLMクライアント初期化に失敗しました: %w", err)
		}
		generator = client

		embedder = openai.NewEmbedder(cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
			openai.WithEmbeddingBaseURL(cfg.OpenAI.BaseURL),
			openai.WithEmbeddingRateLimiter(limiter),
		)
	}

	// TokenCounter は tiktoken のエンコーディングが読めない環境では文字数からの推定にフォールバックする
	var counter *tokenizer.TokenCounter
	if tc, err := tokenizer.NewTokenCounter(); err != nil {
		logger.Warn("token counter unavailable, falling back to estimates", "error", err)
	} else {
		counter = tc
	}

	// Chunker
	chunkCfg := chunker.DefaultConfig()
	chunkCfg.ChunkSize = cfg.Chunking.Size
	chunkCfg.ChunkOverlap = cfg.Chunking.Overlap
	if cfg.Chunking.LengthUnit == "tokens" {
		if counter == nil {
			c.Close()
			return nil, errors.New("CHUNK_LENGTH_UNIT=tokens requires the cl100k_base encoding")
		}
		chunkCfg.Length = chunker.TokenLength(counter)
	}

	var textChunker chunker.Chunker
	if mode == qa.ModeOnline {
		textChunker, err = chunker.New(cfg.Chunking.Strategy, chunkCfg, embedder, logger,
			chunker.WithBreakpointPercentile(cfg.Chunking.BreakpointPercentile),
		)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("Chunker 初期化に失敗しました: %w", err)
		}
	}

	c.Ingestion = ingestion.NewService(
		fetch.NewFetcher(
			fetch.WithTimeout(cfg.Fetch.Timeout),
			fetch.WithMaxBytes(cfg.Fetch.MaxBytes),
			fetch.WithLocalFiles(cfg.Fetch.AllowLocal),
			fetch.WithLocalRoot(cfg.Fetch.LocalRoot),
			fetch.WithLogger(logger),
		),
		pdftext.NewExtractor(pdftext.WithLogger(logger)),
		textChunker,
		embedder,
		ingestion.WithIngestionLogger(logger),
	)

	c.Indexes = vectorcache.New(
		vectorcache.WithTTL(cfg.VectorCache.TTL),
		vectorcache.WithBuildTimeout(cfg.VectorCache.BuildTimeout),
		vectorcache.WithLogger(logger),
	)

	synthOpts := []answer.SynthesizerOption{
		answer.WithMaxContextTokens(cfg.Retrieval.MaxContextTokens),
		answer.WithSynthesizerLogger(logger),
	}
	if counter != nil {
		synthOpts = append(synthOpts, answer.WithTokenCounter(counter))
	}

	c.QA = qa.NewService(
		c.Ingestion,
		c.Indexes,
		c.QACache,
		retrieval.NewMultiQueryRetriever(generator, embedder,
			retrieval.WithQueryCount(cfg.Retrieval.QueryCount),
			retrieval.WithTopK(cfg.Retrieval.TopK),
			retrieval.WithRetrieverLogger(logger),
		),
		answer.NewSynthesizer(generator, synthOpts...),
		qa.WithMode(mode),
		qa.WithKeyMode(qa.KeyMode(cfg.VectorCache.KeyMode)),
		qa.WithQuestionConcurrency(cfg.Pipeline.QuestionConcurrency),
		qa.WithQALogger(logger),
	)

	logger.Info("container initialized",
		"mode", mode,
		"qaCacheBackend", cfg.QACache.Backend,
		"chunkStrategy", cfg.Chunking.Strategy,
		"vectorCacheKeyMode", cfg.VectorCache.KeyMode,
	)

	return c, nil
}

// ResolveMode は QA_MODE を解決する。auto は API キーがあれば online、なければ offline
func ResolveMode(cfg *config.Config) (qa.Mode, error) {
	switch cfg.Pipeline.Mode {
	case config.ModeOffline:
		return qa.ModeOffline, nil
	case config.ModeOnline:
		if cfg.OpenAI.APIKey == "" {
			return "", ErrOnlineWithoutAPIKey
		}
		return qa.ModeOnline, nil
	default:
		if cfg.OpenAI.APIKey != "" {
			return qa.ModeOnline, nil
		}
		return qa.ModeOffline, nil
	}
}

// openQAStore は QA_CACHE_BACKEND に応じたストアを開く。none の場合は nil を返す
func (c *Container) openQAStore(ctx context.Context) (qacache.Store, error) {
	switch c.cfg.QACache.Backend {
	case "none":
		return nil, nil
	case "memory":
		return qacache.NewMemoryStore(), nil
	case "postgres":
		database, err := db.New(ctx, c.cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
		}
		c.closers = append(c.closers, func() error {
			database.Close()
			return nil
		})

		store, err := postgres.NewQAStore(database.Pool, postgres.WithDimension(c.cfg.OpenAI.EmbeddingDimension))
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("QAストアのマイグレーションに失敗しました: %w", err)
		}
		return store, nil
	default:
		store, err := sqlite.NewStore(ctx, c.cfg.QACache.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("SQLiteストア初期化に失敗しました: %w", err)
		}
		c.closers = append(c.closers, store.Close)
		return store, nil
	}
}

// Config は設定を返す
func (c *Container) Config() *config.Config {
	return c.cfg
}

// Logger はロガーを返す。
func (c *Container) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Close は内部リソースを解放する。
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
