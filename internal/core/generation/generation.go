package generation

import (
	"context"
	"errors"
)

// ErrUnavailable は生成バックエンドが未設定または到達不能な場合に返されます
var ErrUnavailable = errors.New("generation backend unavailable")

// Request はテキスト生成リクエスト
type Request struct {
	Prompt      string
	Temperature float64 // 0 で決定的なデコード
	MaxTokens   int     // 0 の場合はバックエンドの既定値
}

// Generator はLLM通信インターフェース
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Unavailable は生成バックエンドがない構成で使う Generator。常に ErrUnavailable を返す
type Unavailable struct{}

// Generate は常に ErrUnavailable を返す
func (Unavailable) Generate(context.Context, Request) (string, error) {
	return "", ErrUnavailable
}

// インターフェース実装の確認
var _ Generator = Unavailable{}
