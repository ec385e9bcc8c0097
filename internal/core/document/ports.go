package document

import "context"

// Fetcher は文書参照から本体を取得するインターフェース
type Fetcher interface {
	Fetch(ctx context.Context, source string) (*Payload, error)
}

// TextExtractor は取得済みの文書からプレーンテキストを取り出すインターフェース
type TextExtractor interface {
	Extract(ctx context.Context, payload *Payload) (string, error)
}
