package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding は OpenAI の埋め込み・チャットモデルが使うエンコーディング
const DefaultEncoding = "cl100k_base"

// TokenCounter はトークン数をカウントする機能を提供する
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter は新しいTokenCounterを作成する
// cl100k_baseエンコーディングを使用する
func NewTokenCounter() (*TokenCounter, error) {
	return NewTokenCounterWithEncoding(DefaultEncoding)
}

// NewTokenCounterWithEncoding はエンコーディング名を指定してTokenCounterを作成する
func NewTokenCounterWithEncoding(name string) (*TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return &TokenCounter{
		encoding: encoding,
	}, nil
}

// CountTokens はテキストのトークン数をカウントする
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.encoding == nil {
		// エンコーディングが初期化されていない場合は0を返す
		return 0
	}
	tokens := tc.encoding.Encode(text, nil, nil)
	return len(tokens)
}

// TrimToTokenLimit はテキストを指定されたトークン数に収まるようトリミングする
func (tc *TokenCounter) TrimToTokenLimit(text string, maxTokens int) string {
	if tc == nil || tc.encoding == nil || maxTokens <= 0 {
		return text
	}
	tokens := tc.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return tc.encoding.Decode(tokens[:maxTokens])
}
