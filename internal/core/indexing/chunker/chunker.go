package chunker

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/mo"

	"github.com/jinford/docqa/internal/core/indexing"
)

// Chunker はテキストをチャンクに分割する戦略インターフェース
type Chunker interface {
	// Chunk はテキストを順序付きのチャンクに分割します。空のテキストは空スライスを返します
	Chunk(ctx context.Context, text string) ([]*indexing.Chunk, error)
}

// LengthFunc はチャンク長の測り方を表します
type LengthFunc func(text string) int

// TokenCounter はテキストのトークン数をカウントするインターフェース
type TokenCounter interface {
	// CountTokens はテキストのトークン数をカウントします
	CountTokens(text string) int
}

// DefaultSeparators は段落、行、文、単語、文字の順に試す区切り文字
var DefaultSeparators = []string{"\n\n", "\n", ".", " ", ""}

// RuneLength は文字数（rune数）で長さを測ります
func RuneLength(text string) int {
	return utf8.RuneCountInString(text)
}

// TokenLength はトークン数で長さを測る LengthFunc を返します
func TokenLength(counter TokenCounter) LengthFunc {
	return counter.CountTokens
}

// Config はChunkerの設定を表します
type Config struct {
	ChunkSize    int        // チャンクの最大長（デフォルト: 1000）
	ChunkOverlap int        // 隣接チャンク間の重なり（デフォルト: 200）
	Separators   []string   // 優先順の区切り文字
	Length       LengthFunc // 長さの単位（デフォルト: rune数）
	Label        bool       // キーワードによるセクションラベルを付与するかどうか
}

// DefaultConfig はデフォルトのChunker設定を返します
func DefaultConfig() Config {
	return Config{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Separators:   DefaultSeparators,
		Length:       RuneLength,
		Label:        true,
	}
}

func (c Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, c.ChunkOverlap, c.ChunkSize)
	}
	if len(c.Separators) == 0 {
		return fmt.Errorf("%w: at least one separator is required", ErrInvalidConfig)
	}
	if c.Length == nil {
		return fmt.Errorf("%w: length function is required", ErrInvalidConfig)
	}
	return nil
}

// span は元テキスト上のバイト範囲 [start, end)
type span struct {
	start, end int
}

func (s span) empty() bool {
	return s.end <= s.start
}

// trimSpan は範囲の前後の空白を除きます
func trimSpan(text string, s span) span {
	seg := text[s.start:s.end]
	left := len(seg) - len(strings.TrimLeftFunc(seg, unicode.IsSpace))
	right := len(strings.TrimRightFunc(seg, unicode.IsSpace))
	if right <= left {
		return span{s.start, s.start}
	}
	return span{s.start + left, s.start + right}
}

// buildChunks は出現順の範囲をチャンクに変換します
func buildChunks(text string, spans []span, label bool) []*indexing.Chunk {
	chunks := make([]*indexing.Chunk, 0, len(spans))

	for _, s := range spans {
		content := text[s.start:s.end]
		chunk := &indexing.Chunk{
			Ordinal:     len(chunks),
			Content:     content,
			StartOffset: s.start,
			EndOffset:   s.end,
			Section:     mo.None[indexing.Section](),
		}
		if label {
			chunk.Section = mo.Some(Label(content))
		}
		chunks = append(chunks, chunk)
	}

	return chunks
}
