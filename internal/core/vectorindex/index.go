package vectorindex

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/jinford/docqa/internal/core/indexing"
)

// DefaultTopK は k 未指定時に返す件数
const DefaultTopK = 5

var (
	// ErrIndexEmpty はチャンクが1件もない文書からインデックスを構築しようとした場合、
	// または未構築のインデックスを検索した場合に返されます
	ErrIndexEmpty = errors.New("vector index is empty")

	// ErrModelMismatch はクエリベクトルのモデルがインデックス構築時と異なる場合に返されます
	ErrModelMismatch = errors.New("embedding model mismatch")

	// ErrDimensionMismatch はベクトル次元が一致しない場合に返されます
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// ScoredChunk は検索結果のチャンクと類似度スコア
type ScoredChunk struct {
	Chunk *indexing.Chunk
	Score float64 // コサイン類似度（大きいほど関連が高い）
}

// Index はチャンクとベクトルを保持するメモリ上のコサイン類似度インデックス。
// 構築後は読み取り専用のため、複数の goroutine から同時に Search できる
type Index struct {
	model     indexing.Metadata
	dimension int
	chunks    []*indexing.Chunk
	vectors   [][]float32
	norms     []float64
}

// Build はチャンクと同順のベクトルからインデックスを構築する
func Build(model indexing.Metadata, chunks []*indexing.Chunk, vectors [][]float32) (*Index, error) {
	if len(chunks) == 0 {
		return nil, ErrIndexEmpty
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunk/vector count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	dimension := len(vectors[0])
	if dimension == 0 {
		return nil, fmt.Errorf("%w: zero-length vector", ErrDimensionMismatch)
	}
	if model.Dimension > 0 && model.Dimension != dimension {
		return nil, fmt.Errorf("%w: model declares %d, vectors have %d", ErrDimensionMismatch, model.Dimension, dimension)
	}

	norms := make([]float64, len(vectors))
	for i, v := range vectors {
		if len(v) != dimension {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), dimension)
		}
		norms[i] = norm(v)
	}

	return &Index{
		model:     model,
		dimension: dimension,
		chunks:    chunks,
		vectors:   vectors,
		norms:     norms,
	}, nil
}

// Search はクエリベクトルに最も近い上位 k 件を類似度の降順で返す。
// 同点の場合はチャンクの格納順を保つ
func (ix *Index) Search(model indexing.Metadata, query []float32, k int) ([]ScoredChunk, error) {
	if ix == nil || len(ix.chunks) == 0 {
		return nil, ErrIndexEmpty
	}
	if model.ModelName != ix.model.ModelName {
		return nil, fmt.Errorf("%w: index built with %q, query embedded with %q", ErrModelMismatch, ix.model.ModelName, model.ModelName)
	}
	if len(query) != ix.dimension {
		return nil, fmt.Errorf("%w: index has %d dimensions, query has %d", ErrDimensionMismatch, ix.dimension, len(query))
	}
	if k <= 0 {
		k = DefaultTopK
	}

	queryNorm := norm(query)
	results := make([]ScoredChunk, len(ix.chunks))
	for i, chunk := range ix.chunks {
		results[i] = ScoredChunk{
			Chunk: chunk,
			Score: cosine(query, ix.vectors[i], queryNorm, ix.norms[i]),
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Len はインデックス内のチャンク数を返す
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.chunks)
}

// Model はインデックス構築に使ったモデル情報を返す
func (ix *Index) Model() indexing.Metadata {
	return ix.model
}

// Chunks は格納順のチャンク一覧を返す
func (ix *Index) Chunks() []*indexing.Chunk {
	return ix.chunks
}

// Cosine は2つのベクトルのコサイン類似度を返す。どちらかがゼロベクトルの場合は 0
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return cosine(a, b, norm(a), norm(b))
}

func cosine(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
