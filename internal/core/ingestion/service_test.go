package ingestion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/core/indexing"
	"github.com/jinford/docqa/internal/core/indexing/chunker"
	"github.com/jinford/docqa/internal/core/vectorindex"
)

type stubFetcher struct {
	payload *document.Payload
	err     error
}

func (f *stubFetcher) Fetch(ctx context.Context, source string) (*document.Payload, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

type stubExtractor struct {
	text string
	err  error
}

func (e *stubExtractor) Extract(ctx context.Context, payload *document.Payload) (string, error) {
	return e.text, e.err
}

// ordinalEmbedder はチャンク本文末尾の番号を1次元ベクトルとして返す。
// 後のバッチほど早く返すことで並行実行時の順序保持を確認する
type ordinalEmbedder struct {
	mu      sync.Mutex
	batches int
	err     error
}

func (e *ordinalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (e *ordinalEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.batches++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		fields := strings.Fields(text)
		n, _ := strconv.Atoi(fields[len(fields)-1])
		out[i] = []float32{float32(n), 1}
	}
	time.Sleep(time.Duration(10-min(len(out), 10)) * time.Millisecond)
	return out, nil
}

func (e *ordinalEmbedder) ModelName() string { return "ordinal" }
func (e *ordinalEmbedder) Dimension() int    { return 2 }
func (e *ordinalEmbedder) MaxBatchSize() int { return 2 }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, text string, embedder indexing.Embedder) *Service {
	t.Helper()

	cfg := chunker.DefaultConfig()
	cfg.ChunkSize = 10
	cfg.ChunkOverlap = 0
	c, err := chunker.NewRecursiveChunker(cfg)
	require.NoError(t, err)

	return NewService(
		&stubFetcher{payload: &document.Payload{Source: "doc", Data: []byte(text), ContentType: "text/plain"}},
		&stubExtractor{text: text},
		c,
		embedder,
		WithIngestionLogger(discard()),
		WithPipelineConfig(&PipelineConfig{EmbeddingWorkerCount: 3, EmbeddingBatchSize: 100}),
	)
}

func TestIngestBuildsIndexInChunkOrder(t *testing.T) {
	text := "item 1\nitem 2\nitem 3\nitem 4\nitem 5"
	embedder := &ordinalEmbedder{}
	svc := newTestService(t, text, embedder)

	payload, err := svc.Fetch(context.Background(), "doc")
	require.NoError(t, err)
	ix, err := svc.Ingest(context.Background(), document.FingerprintSource("doc"), payload)
	require.NoError(t, err)
	require.Equal(t, 5, ix.Len())

	// MaxBatchSize=2 でクリップされ、3バッチになる
	assert.Equal(t, 3, embedder.batches)
	assert.Equal(t, indexing.Metadata{ModelName: "ordinal", Dimension: 2}, ix.Model())

	fp := document.FingerprintSource("doc")
	for i, c := range ix.Chunks() {
		assert.Equal(t, indexing.ChunkID(fp, i), c.ID)
		assert.Equal(t, "item "+strconv.Itoa(i+1), c.Content)
	}

	results, err := ix.Search(ix.Model(), []float32{4, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, "item 4", results[0].Chunk.Content)
}

func TestIngestFailures(t *testing.T) {
	t.Run("抽出失敗", func(t *testing.T) {
		svc := newTestService(t, "", &ordinalEmbedder{})
		svc.extractor = &stubExtractor{err: document.ErrUnsupportedContentType}

		_, err := svc.Ingest(context.Background(), "fp", &document.Payload{})
		var ingErr *IngestionError
		require.ErrorAs(t, err, &ingErr)
		assert.Equal(t, "extract", ingErr.Op)
		assert.ErrorIs(t, err, document.ErrUnsupportedContentType)
	})

	t.Run("チャンクなし", func(t *testing.T) {
		svc := newTestService(t, "   ", &ordinalEmbedder{})

		_, err := svc.Ingest(context.Background(), "fp", &document.Payload{})
		assert.ErrorIs(t, err, vectorindex.ErrIndexEmpty)
	})

	t.Run("埋め込み失敗", func(t *testing.T) {
		svc := newTestService(t, "item 1\nitem 2", &ordinalEmbedder{err: errors.New("quota exceeded")})

		_, err := svc.Ingest(context.Background(), "fp", &document.Payload{})
		var ingErr *IngestionError
		require.ErrorAs(t, err, &ingErr)
		assert.Equal(t, "embed", ingErr.Op)
		assert.Contains(t, err.Error(), "quota exceeded")
	})
}

func TestFetchWrapsErrors(t *testing.T) {
	svc := newTestService(t, "x", &ordinalEmbedder{})
	svc.fetcher = &stubFetcher{err: errors.New("connection refused")}

	_, err := svc.Fetch(context.Background(), "https://example.com/a.pdf")
	var fetchErr *document.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "https://example.com/a.pdf", fetchErr.Source)

	_, err = svc.Fetch(context.Background(), "")
	assert.ErrorIs(t, err, document.ErrEmptySource)
}

func TestPipelineConfigBatchSize(t *testing.T) {
	cfg := &PipelineConfig{EmbeddingBatchSize: 100}
	assert.Equal(t, 100, cfg.batchSize(0))
	assert.Equal(t, 50, cfg.batchSize(50))

	cfg = &PipelineConfig{}
	assert.Equal(t, 20, cfg.batchSize(20))
	assert.Equal(t, MinBatchSize, cfg.batchSize(0))
	assert.Equal(t, 1, cfg.workers())
}
