package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/jinford/docqa/internal/core/generation"
	"github.com/jinford/docqa/internal/core/vectorindex"
)

// DefaultMaxContextTokens はプロンプトに含めるチャンクの合計トークン上限
const DefaultMaxContextTokens = 6000

// ErrEmptyAnswer は生成結果が空だった場合に返されます
var ErrEmptyAnswer = errors.New("generation returned empty answer")

// TokenCounter はテキストのトークン数をカウントするインターフェース
type TokenCounter interface {
	CountTokens(text string) int
}

// tokenTrimmer は TokenCounter が任意で実装するトリミング機能
type tokenTrimmer interface {
	TrimToTokenLimit(text string, maxTokens int) string
}

// Synthesizer は取得したチャンクから質問への回答を生成する
type Synthesizer struct {
	generator        generation.Generator
	counter          TokenCounter
	maxContextTokens int
	logger           *slog.Logger
}

type SynthesizerOption func(*Synthesizer)

// WithTokenCounter はトークン数の計測方法を設定する。未設定の場合は文字数からの推定値を使う
func WithTokenCounter(counter TokenCounter) SynthesizerOption {
	return func(s *Synthesizer) {
		s.counter = counter
	}
}

// WithMaxContextTokens はコンテキストのトークン上限を設定する
func WithMaxContextTokens(n int) SynthesizerOption {
	return func(s *Synthesizer) {
		s.maxContextTokens = n
	}
}

// WithSynthesizerLogger は Synthesizer にロガーを設定する
func WithSynthesizerLogger(logger *slog.Logger) SynthesizerOption {
	return func(s *Synthesizer) {
		s.logger = logger
	}
}

// NewSynthesizer は新しいSynthesizerを作成する
func NewSynthesizer(generator generation.Generator, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{
		generator:        generator,
		maxContextTokens: DefaultMaxContextTokens,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxContextTokens <= 0 {
		s.maxContextTokens = DefaultMaxContextTokens
	}
	return s
}

// Synthesize はチャンクを根拠に、温度0で回答を生成する。
// 生成バックエンドがない場合は generation.ErrUnavailable を返す
func (s *Synthesizer) Synthesize(ctx context.Context, question string, chunks []vectorindex.ScoredChunk) (*Result, error) {
	if s.generator == nil {
		return nil, generation.ErrUnavailable
	}

	selected := s.fitContext(chunks)
	prompt := BuildAnswerPrompt(question, selected)

	output, err := s.generator.Generate(ctx, generation.Request{
		Prompt:      prompt,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	text := strings.TrimSpace(output)
	if text == "" {
		return nil, ErrEmptyAnswer
	}

	sources := make([]SourceReference, len(selected))
	for i, c := range selected {
		sources[i] = SourceReference{
			ChunkID: c.Chunk.ID,
			Ordinal: c.Chunk.Ordinal,
			Section: c.Chunk.SectionLabel(),
			Score:   c.Score,
		}
	}

	s.logger.Debug("answer generated",
		"chunks_available", len(chunks),
		"chunks_used", len(selected),
		"prompt_tokens", s.countTokens(prompt),
	)

	return &Result{Answer: text, Sources: sources}, nil
}

// fitContext は関連度順のチャンクを、合計トークン数が上限に収まる範囲で先頭から選ぶ。
// 先頭チャンク単独で上限を超える場合はそれだけを含め、可能なら上限まで切り詰める
func (s *Synthesizer) fitContext(chunks []vectorindex.ScoredChunk) []vectorindex.ScoredChunk {
	total := 0
	for i, c := range chunks {
		total += s.countTokens(c.Chunk.Content)
		if total <= s.maxContextTokens {
			continue
		}
		if i > 0 {
			return chunks[:i]
		}

		first := chunks[0]
		if trimmer, ok := s.counter.(tokenTrimmer); ok {
			trimmed := *first.Chunk
			trimmed.Content = trimmer.TrimToTokenLimit(trimmed.Content, s.maxContextTokens)
			first.Chunk = &trimmed
		}
		return []vectorindex.ScoredChunk{first}
	}
	return chunks
}

func (s *Synthesizer) countTokens(text string) int {
	if s.counter != nil {
		return s.counter.CountTokens(text)
	}
	return EstimateTokens(text)
}

// EstimateTokens はテキストの推定トークン数を返す
// 正確にカウントせず、大まかな推定値を返す（文字数を基準）
func EstimateTokens(text string) int {
	// 英語の場合: 約4文字で1トークン
	return (utf8.RuneCountInString(text) + 3) / 4
}
