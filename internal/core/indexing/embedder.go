package indexing

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmbeddingCountMismatch は入力件数と異なる件数のベクトルが返された場合のエラー
var ErrEmbeddingCountMismatch = errors.New("embedding count mismatch")

// Embedder はテキストをベクトル表現に変換するインターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)

	// BatchEmbed はバッチでEmbeddingを生成する
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName はモデル名を返す
	ModelName() string

	// Dimension はEmbeddingベクトルの次元数を返す
	Dimension() int

	// MaxBatchSize は1回のBatchEmbedで渡せる最大件数を返す
	MaxBatchSize() int
}

// Metadata は Embedder のメタデータを表す。
// インデックス構築時と検索時でモデルが一致しているかの判定に使う
type Metadata struct {
	ModelName string
	Dimension int
}

// MetadataOf は Embedder からメタデータを取り出す
func MetadataOf(e Embedder) Metadata {
	return Metadata{
		ModelName: e.ModelName(),
		Dimension: e.Dimension(),
	}
}

// EmbedAll は MaxBatchSize ごとに分割して全テキストをベクトル化する
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := e.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))

		batch, err := e.BatchEmbed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d-%d: %w", start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingCountMismatch, end-start, len(batch))
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}
