package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jinford/docqa/internal/core/answer"
	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/core/generation"
	"github.com/jinford/docqa/internal/core/qacache"
	"github.com/jinford/docqa/internal/core/vectorcache"
	"github.com/jinford/docqa/internal/core/vectorindex"
)

// DefaultQuestionConcurrency は同時に回答を生成する質問数
const DefaultQuestionConcurrency = 4

// Ingestor は文書の取得とインデックス構築を行うインターフェース
type Ingestor interface {
	Fetch(ctx context.Context, source string) (*document.Payload, error)
	Ingest(ctx context.Context, fingerprint string, payload *document.Payload) (*vectorindex.Index, error)
}

// IndexCache は構築済みインデックスのキャッシュ
type IndexCache interface {
	GetOrBuild(ctx context.Context, key string, build vectorcache.BuildFunc) (*vectorindex.Index, error)
}

// AnswerCache は質問応答キャッシュ
type AnswerCache interface {
	LookupAll(ctx context.Context, namespace string) qacache.Answers
	Store(ctx context.Context, namespace, question, answer string) error
}

// Retriever は質問に関連するチャンクを取得する
type Retriever interface {
	Retrieve(ctx context.Context, index *vectorindex.Index, question string) ([]vectorindex.ScoredChunk, error)
}

// Synthesizer はチャンクから回答を生成する
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, chunks []vectorindex.ScoredChunk) (*answer.Result, error)
}

// Service は質問応答パイプラインを提供する。
// キャッシュ済みの質問はそのまま返し、残りの質問だけ文書を索引化して回答を生成する
type Service struct {
	ingestor    Ingestor
	indexes     IndexCache
	answers     AnswerCache
	retriever   Retriever
	synthesizer Synthesizer
	mode        Mode
	keyMode     KeyMode
	concurrency int
	logger      *slog.Logger
}

type serviceOptions struct {
	mode        Mode
	keyMode     KeyMode
	concurrency int
	logger      *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*serviceOptions)

// WithMode は動作モードを設定する
func WithMode(mode Mode) ServiceOption {
	return func(o *serviceOptions) {
		o.mode = mode
	}
}

// WithKeyMode はインデックスキャッシュのキー導出方法を設定する
func WithKeyMode(mode KeyMode) ServiceOption {
	return func(o *serviceOptions) {
		o.keyMode = mode
	}
}

// WithQuestionConcurrency は同時に処理する質問数を設定する
func WithQuestionConcurrency(n int) ServiceOption {
	return func(o *serviceOptions) {
		o.concurrency = n
	}
}

// WithQALogger は Service にロガーを設定する
func WithQALogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// NewService は新しいServiceを作成する
func NewService(
	ingestor Ingestor,
	indexes IndexCache,
	answers AnswerCache,
	retriever Retriever,
	synthesizer Synthesizer,
	opts ...ServiceOption,
) *Service {
	options := serviceOptions{
		mode:        ModeOnline,
		keyMode:     KeyByReference,
		concurrency: DefaultQuestionConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.concurrency <= 0 {
		options.concurrency = DefaultQuestionConcurrency
	}

	return &Service{
		ingestor:    ingestor,
		indexes:     indexes,
		answers:     answers,
		retriever:   retriever,
		synthesizer: synthesizer,
		mode:        options.mode,
		keyMode:     options.keyMode,
		concurrency: options.concurrency,
		logger:      options.logger,
	}
}

// Mode は動作モードを返す
func (s *Service) Mode() Mode {
	return s.mode
}

// Run は質問ごとに回答を返す。戻り値は req.Questions と同じ順序・同じ長さ。
// 文書の取得失敗は *document.FetchError、索引化の失敗は *ingestion.IngestionError として返し、
// 個別の質問の生成失敗やバックエンド停止は該当する質問のプレースホルダー回答に留める
func (s *Service) Run(ctx context.Context, req Request) ([]Answer, error) {
	if req.Document == "" {
		return nil, ErrEmptyDocument
	}

	startTime := time.Now()
	namespaces := document.NamespacesFor(document.FingerprintSource(req.Document))

	answers := make([]Answer, len(req.Questions))
	if len(req.Questions) == 0 {
		return answers, nil
	}

	// 1. キャッシュ照合
	cached := s.answers.LookupAll(ctx, namespaces.QA)

	var misses []int
	for i, q := range req.Questions {
		if a, ok := cached.Get(q); ok {
			answers[i] = Answer{Question: q, Answer: a, FromMemory: true}
			continue
		}
		answers[i] = Answer{Question: q}
		misses = append(misses, i)
	}

	logAttrs := []any{
		"namespace", namespaces.QA,
		"questions", len(req.Questions),
		"cache_hits", len(req.Questions) - len(misses),
		"mode", s.mode,
	}

	if len(misses) == 0 {
		s.logger.Info("all questions answered from cache", append(logAttrs, "duration", time.Since(startTime))...)
		return answers, nil
	}

	// 2. オフラインモードでは生成しない
	if s.mode == ModeOffline {
		for _, i := range misses {
			answers[i].Answer = UnresolvedAnswer
		}
		s.logger.Info("offline mode: unresolved questions returned", append(logAttrs, "duration", time.Since(startTime))...)
		return answers, nil
	}

	// 3. インデックス取得（必要になった時点で初めて文書を取得する）
	index, err := s.resolveIndex(ctx, req.Document, namespaces)
	if err != nil {
		// 埋め込みバックエンド停止時もキャッシュ済みの回答は返す
		if ctx.Err() == nil && errors.Is(err, generation.ErrUnavailable) {
			for _, i := range misses {
				answers[i].Answer = UnresolvedAnswer
			}
			s.logger.Warn("backend unavailable: unresolved questions returned",
				append(logAttrs, "error", err, "duration", time.Since(startTime))...)
			return answers, nil
		}
		return nil, err
	}

	// 4. キャッシュミスした質問を並行に回答
	var generated, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, i := range misses {
		g.Go(func() error {
			text, err := s.answerOne(gctx, index, req.Questions[i])
			switch {
			case err == nil:
				answers[i].Answer = text
				generated.Add(1)
				if storeErr := s.answers.Store(gctx, namespaces.QA, req.Questions[i], text); storeErr != nil {
					s.logger.Warn("failed to store answer in qa cache",
						"namespace", namespaces.QA,
						"error", storeErr,
					)
				}
			case gctx.Err() != nil:
				return gctx.Err()
			case errors.Is(err, generation.ErrUnavailable):
				answers[i].Answer = UnresolvedAnswer
				failed.Add(1)
			default:
				s.logger.Warn("failed to answer question",
					"namespace", namespaces.QA,
					"question_index", i,
					"error", err,
				)
				answers[i].Answer = FailedAnswer
				failed.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.Info("questions answered", append(logAttrs,
		"generated", generated.Load(),
		"failed", failed.Load(),
		"duration", time.Since(startTime),
	)...)

	return answers, nil
}

func (s *Service) answerOne(ctx context.Context, index *vectorindex.Index, question string) (string, error) {
	chunks, err := s.retriever.Retrieve(ctx, index, question)
	if err != nil {
		return "", fmt.Errorf("retrieve: %w", err)
	}

	res, err := s.synthesizer.Synthesize(ctx, question, chunks)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}

	ordinals := make([]int, len(res.Sources))
	for i, src := range res.Sources {
		ordinals[i] = src.Ordinal
	}
	s.logger.Debug("answer generated", "retrieved", len(chunks), "source_ordinals", ordinals)

	return res.Answer, nil
}

// resolveIndex はキャッシュ済みのインデックスを返し、なければ文書を取得して構築する。
// 参照キーのときはチャンク名前空間をキャッシュキーに使う
func (s *Service) resolveIndex(ctx context.Context, source string, namespaces document.Namespaces) (*vectorindex.Index, error) {
	if s.keyMode == KeyByContent {
		payload, err := s.ingestor.Fetch(ctx, source)
		if err != nil {
			return nil, err
		}
		key := document.Fingerprint(payload.Data)
		return s.indexes.GetOrBuild(ctx, key, func(ctx context.Context) (*vectorindex.Index, error) {
			return s.ingestor.Ingest(ctx, key, payload)
		})
	}

	key := namespaces.Chunk
	return s.indexes.GetOrBuild(ctx, key, func(ctx context.Context) (*vectorindex.Index, error) {
		payload, err := s.ingestor.Fetch(ctx, source)
		if err != nil {
			return nil, err
		}
		return s.ingestor.Ingest(ctx, key, payload)
	})
}
