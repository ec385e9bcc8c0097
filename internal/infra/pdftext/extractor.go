package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/jinford/docqa/internal/core/document"
)

// ToolName は PDF からテキストを抽出する外部コマンド（poppler-utils）
const ToolName = "pdftotext"

// ErrToolNotFound は pdftotext が PATH にない場合に返されます
var ErrToolNotFound = errors.New("pdftotext not found in PATH: install poppler-utils")

// CommandRunner は外部コマンドを実行して標準出力を返すインターフェース
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner は os/exec で実行する CommandRunner
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrToolNotFound
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Extractor は PDF とプレーンテキストの文書からテキストを取り出す
type Extractor struct {
	runner  CommandRunner
	tempDir string
	logger  *slog.Logger
}

// インターフェース実装の確認
var _ document.TextExtractor = (*Extractor)(nil)

// Option は Extractor の設定を変更する関数
type Option func(*Extractor)

// WithRunner はコマンド実行方法を差し替える
func WithRunner(runner CommandRunner) Option {
	return func(e *Extractor) {
		if runner != nil {
			e.runner = runner
		}
	}
}

// WithTempDir は PDF を一時保存するディレクトリを設定する
func WithTempDir(dir string) Option {
	return func(e *Extractor) {
		e.tempDir = dir
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// NewExtractor は新しいExtractorを作成する
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		runner: execRunner{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// CheckAvailable は pdftotext が利用可能かを確認する
func CheckAvailable() error {
	if _, err := exec.LookPath(ToolName); err != nil {
		return ErrToolNotFound
	}
	return nil
}

// Extract は文書のテキストを返す。PDF は pdftotext -layout で変換し、
// ページ区切りの改ページ文字は空行に置き換える
func (e *Extractor) Extract(ctx context.Context, payload *document.Payload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("%w: empty payload", document.ErrUnsupportedContentType)
	}

	switch {
	case payload.IsPDF():
		return e.extractPDF(ctx, payload)
	case strings.HasPrefix(payload.ContentType, "text/"):
		if !utf8.Valid(payload.Data) {
			return strings.ToValidUTF8(string(payload.Data), "�"), nil
		}
		return string(payload.Data), nil
	default:
		return "", fmt.Errorf("%w: %s", document.ErrUnsupportedContentType, payload.ContentType)
	}
}

func (e *Extractor) extractPDF(ctx context.Context, payload *document.Payload) (string, error) {
	tmp, err := os.CreateTemp(e.tempDir, "docqa-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload.Data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	out, err := e.runner.Run(ctx, ToolName, "-layout", "-enc", "UTF-8", tmp.Name(), "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}

	text := strings.ReplaceAll(string(out), "\f", "\n\n")
	e.logger.Debug("pdf text extracted",
		"source", payload.Source,
		"bytes", len(payload.Data),
		"chars", utf8.RuneCountInString(text),
	)
	return text, nil
}
