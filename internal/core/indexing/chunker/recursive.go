package chunker

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/jinford/docqa/internal/core/indexing"
)

const strategyRecursive = "recursive"

// RecursiveChunker は区切り文字を優先順に試しながら固定長の窓に分割する
type RecursiveChunker struct {
	cfg Config
}

// NewRecursiveChunker は新しいRecursiveChunkerを作成します
func NewRecursiveChunker(cfg Config) (*RecursiveChunker, error) {
	if err := cfg.validate(); err != nil {
		return nil, NewChunkerError("new", strategyRecursive, err)
	}
	return &RecursiveChunker{cfg: cfg}, nil
}

// Chunk はテキストを最大 ChunkSize の重なりを持つチャンクに分割します
func (r *RecursiveChunker) Chunk(ctx context.Context, text string) ([]*indexing.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewChunkerError("chunk", strategyRecursive, err)
	}
	return buildChunks(text, r.splitRange(text, span{0, len(text)}), r.cfg.Label), nil
}

// SplitText はテキストを分割片の文字列として返します
func (r *RecursiveChunker) SplitText(text string) []string {
	spans := r.splitRange(text, span{0, len(text)})
	pieces := make([]string, len(spans))
	for i, s := range spans {
		pieces[i] = text[s.start:s.end]
	}
	return pieces
}

func (r *RecursiveChunker) splitRange(text string, rng span) []span {
	return r.split(text, rng, r.cfg.Separators)
}

func (r *RecursiveChunker) split(text string, rng span, separators []string) []span {
	segment := text[rng.start:rng.end]

	// 範囲内に含まれる最初の区切り文字を採用し、残りを再帰用に取っておく
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(segment, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var final, good []span
	for _, s := range splitKeepingSeparator(text, rng, separator) {
		if r.length(text, s) < r.cfg.ChunkSize {
			good = append(good, s)
			continue
		}

		if len(good) > 0 {
			final = append(final, r.merge(text, good)...)
			good = nil
		}
		if len(rest) == 0 {
			if t := trimSpan(text, s); !t.empty() {
				final = append(final, t)
			}
		} else {
			final = append(final, r.split(text, s, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, r.merge(text, good)...)
	}

	return final
}

// merge は連続する小さな分割片を ChunkSize 以内にまとめ、直前チャンク末尾の ChunkOverlap 分を次に持ち越す
func (r *RecursiveChunker) merge(text string, splits []span) []span {
	var docs, current []span
	total := 0

	emit := func() {
		if d := trimSpan(text, span{current[0].start, current[len(current)-1].end}); !d.empty() {
			docs = append(docs, d)
		}
	}

	for _, s := range splits {
		l := r.length(text, s)

		if total+l > r.cfg.ChunkSize && len(current) > 0 {
			emit()
			for total > r.cfg.ChunkOverlap || (total+l > r.cfg.ChunkSize && total > 0) {
				total -= r.length(text, current[0])
				current = current[1:]
			}
		}

		current = append(current, s)
		total += l
	}

	if len(current) > 0 {
		emit()
	}
	return docs
}

func (r *RecursiveChunker) length(text string, s span) int {
	return r.cfg.Length(text[s.start:s.end])
}

// splitKeepingSeparator は区切り文字を直前の分割片の末尾に残したまま範囲を分割します。
// 区切り文字が空の場合は1文字ずつに分割します
func splitKeepingSeparator(text string, rng span, separator string) []span {
	var parts []span

	if separator == "" {
		for pos := rng.start; pos < rng.end; {
			_, size := utf8.DecodeRuneInString(text[pos:rng.end])
			parts = append(parts, span{pos, pos + size})
			pos += size
		}
		return parts
	}

	pos := rng.start
	for pos < rng.end {
		idx := strings.Index(text[pos:rng.end], separator)
		if idx < 0 {
			parts = append(parts, span{pos, rng.end})
			break
		}
		end := pos + idx + len(separator)
		parts = append(parts, span{pos, end})
		pos = end
	}
	return parts
}

// インターフェース実装の確認
var _ Chunker = (*RecursiveChunker)(nil)
