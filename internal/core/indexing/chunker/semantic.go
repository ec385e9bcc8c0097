package chunker

import (
	"context"
	"log/slog"
	"math"
	"slices"

	"github.com/jinford/docqa/internal/core/indexing"
	"github.com/jinford/docqa/internal/core/vectorindex"
)

const strategySemantic = "semantic"

// DefaultBreakpointPercentile は文間距離のこのパーセンタイルを超えた位置で分割する
const DefaultBreakpointPercentile = 95.0

// SemanticChunker は隣接文の埋め込み距離が大きく変わる位置でテキストを分割する。
// ChunkSize を超えたまとまりは RecursiveChunker でさらに分割する
type SemanticChunker struct {
	embedder   indexing.Embedder
	percentile float64
	bufferSize int
	cfg        Config
	fallback   *RecursiveChunker
	logger     *slog.Logger
}

type SemanticOption func(*SemanticChunker)

// WithBreakpointPercentile は分割閾値のパーセンタイルを設定する
func WithBreakpointPercentile(p float64) SemanticOption {
	return func(s *SemanticChunker) {
		s.percentile = p
	}
}

// WithSemanticLogger は SemanticChunker にロガーを設定する
func WithSemanticLogger(logger *slog.Logger) SemanticOption {
	return func(s *SemanticChunker) {
		s.logger = logger
	}
}

// NewSemanticChunker は新しいSemanticChunkerを作成します
func NewSemanticChunker(embedder indexing.Embedder, cfg Config, opts ...SemanticOption) (*SemanticChunker, error) {
	fallback, err := NewRecursiveChunker(cfg)
	if err != nil {
		return nil, NewChunkerError("new", strategySemantic, err)
	}

	s := &SemanticChunker{
		embedder:   embedder,
		percentile: DefaultBreakpointPercentile,
		bufferSize: 1,
		cfg:        cfg,
		fallback:   fallback,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.percentile <= 0 || s.percentile > 100 {
		return nil, NewChunkerError("new", strategySemantic, ErrInvalidConfig)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

// Chunk はテキストを意味的なまとまりごとのチャンクに分割します
func (s *SemanticChunker) Chunk(ctx context.Context, text string) ([]*indexing.Chunk, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return []*indexing.Chunk{}, nil
	}

	groups := [][2]int{{0, len(sentences) - 1}}
	if len(sentences) > 1 {
		vectors, err := indexing.EmbedAll(ctx, s.embedder, combineSentences(text, sentences, s.bufferSize))
		if err != nil {
			return nil, NewChunkerError("embed sentences", strategySemantic, err)
		}
		groups = s.groupByBreakpoint(vectors)
	}

	var pieces []span
	for _, g := range groups {
		group := span{sentences[g[0]].start, sentences[g[1]].end}
		if s.cfg.Length(text[group.start:group.end]) > s.cfg.ChunkSize {
			pieces = append(pieces, s.fallback.splitRange(text, group)...)
			continue
		}
		pieces = append(pieces, group)
	}

	s.logger.Debug("semantic chunking completed",
		"sentences", len(sentences),
		"groups", len(groups),
		"chunks", len(pieces),
	)

	return buildChunks(text, pieces, false), nil
}

func (s *SemanticChunker) groupByBreakpoint(vectors [][]float32) [][2]int {
	distances := make([]float64, len(vectors)-1)
	for i := range distances {
		distances[i] = 1 - vectorindex.Cosine(vectors[i], vectors[i+1])
	}
	threshold := percentile(distances, s.percentile)

	var groups [][2]int
	start := 0
	for i, d := range distances {
		if d > threshold {
			groups = append(groups, [2]int{start, i})
			start = i + 1
		}
	}
	return append(groups, [2]int{start, len(vectors) - 1})
}

// splitSentences は '.', '?', '!' の直後の空白で文に分割し、前後の空白を除いた範囲を返す
func splitSentences(text string) []span {
	var spans []span
	start := 0

	for i := 0; i < len(text); i++ {
		c := text[i]
		if (c == '.' || c == '?' || c == '!') && i+1 < len(text) && isSpace(text[i+1]) {
			spans = appendSpan(spans, text, start, i+1)
			j := i + 1
			for j < len(text) && isSpace(text[j]) {
				j++
			}
			start = j
			i = j - 1
		}
	}
	return appendSpan(spans, text, start, len(text))
}

func appendSpan(spans []span, text string, start, end int) []span {
	for start < end && isSpace(text[start]) {
		start++
	}
	for end > start && isSpace(text[end-1]) {
		end--
	}
	if start == end {
		return spans
	}
	return append(spans, span{start: start, end: end})
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\n', '\t', '\r', '\f', '\v':
		return true
	}
	return false
}

// combineSentences は前後 buffer 文を含めた文脈付きの文を作る
func combineSentences(text string, sentences []span, buffer int) []string {
	combined := make([]string, len(sentences))
	for i := range sentences {
		from := max(0, i-buffer)
		to := min(len(sentences)-1, i+buffer)
		combined[i] = text[sentences[from].start:sentences[to].end]
	}
	return combined
}

// percentile は線形補間によるパーセンタイル値を返す
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

// インターフェース実装の確認
var _ Chunker = (*SemanticChunker)(nil)
