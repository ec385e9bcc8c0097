package openai

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/openai/openai-go/v3"
	"golang.org/x/time/rate"

	"github.com/jinford/docqa/internal/core/generation"
	"github.com/jinford/docqa/internal/core/indexing"
)

// Embedder は OpenAI API を使用してテキストをベクトルに変換する
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
	limiter   *rate.Limiter
}

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingDimension はOpenAI推奨のデフォルト次元
	DefaultEmbeddingDimension = 1536
	// MaxEmbeddingBatchSize は1リクエストで送れる最大件数
	MaxEmbeddingBatchSize = 100
)

type embedderOptions struct {
	model      string
	dimension  int
	baseURL    string
	limiter    *rate.Limiter
	httpClient *http.Client
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		o.model = model
	}
}

// WithEmbeddingDimension はベクトル次元を上書きする
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithEmbeddingBaseURL は OpenAI 互換エンドポイントのURLを設定する
func WithEmbeddingBaseURL(url string) EmbedderOption {
	return func(o *embedderOptions) {
		o.baseURL = url
	}
}

// WithEmbeddingRateLimiter はリクエスト前に待機するレートリミッターを設定する
func WithEmbeddingRateLimiter(limiter *rate.Limiter) EmbedderOption {
	return func(o *embedderOptions) {
		o.limiter = limiter
	}
}

// WithEmbeddingHTTPClient は内部で使う HTTP クライアントを差し替える
func WithEmbeddingHTTPClient(client *http.Client) EmbedderOption {
	return func(o *embedderOptions) {
		o.httpClient = client
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(apiKey string, opts ...EmbedderOption) *Embedder {
	options := embedderOptions{
		model:     DefaultEmbeddingModel,
		dimension: DefaultEmbeddingDimension,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Embedder{
		client:    openai.NewClient(requestOptions(apiKey, options.baseURL, options.httpClient)...),
		model:     options.model,
		dimension: options.dimension,
		limiter:   options.limiter,
	}
}

// Embed は単一テキストの Embedding を生成する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}

	return embeddings[0], nil
}

// BatchEmbed はバッチで Embedding を生成する（最大100件）。結果は入力と同順。
// 接続失敗・認証失敗・レート制限・サーバーエラーは generation.ErrUnavailable として返す
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	if len(texts) > MaxEmbeddingBatchSize {
		return nil, fmt.Errorf("batch size exceeds maximum of %d", MaxEmbeddingBatchSize)
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
	}

	if len(texts) == 1 {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(texts[0]),
		}
	} else {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		}
	}

	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classifyEmbeddingError(ctx, err)
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool {
		return data[i].Index < data[j].Index
	})

	embeddings := make([][]float32, 0, len(data))
	for _, d := range data {
		vector := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vector[i] = float32(v)
		}
		embeddings = append(embeddings, vector)
	}

	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d, got %d", indexing.ErrEmbeddingCountMismatch, len(texts), len(embeddings))
	}

	return embeddings, nil
}

// classifyEmbeddingError は埋め込み API の失敗を分類する。
// Embedder はリトライしないため、レート制限とサーバーエラーもバックエンド不可として扱う
func classifyEmbeddingError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if isRetryable(err) {
		return fmt.Errorf("%w: failed to generate embeddings: %v", generation.ErrUnavailable, err)
	}
	return fmt.Errorf("failed to generate embeddings: %w", classifyError(err))
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

// MaxBatchSize はバッチ処理の最大サイズを返す（OpenAI APIは最大100件）
func (e *Embedder) MaxBatchSize() int {
	return MaxEmbeddingBatchSize
}

// Metadata はモデル情報を返す
func (e *Embedder) Metadata() indexing.Metadata {
	return indexing.MetadataOf(e)
}

// インターフェース実装の確認
var _ indexing.Embedder = (*Embedder)(nil)
