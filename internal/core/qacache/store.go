package qacache

import "context"

// Store は質問応答レコードを永続化するインターフェース
type Store interface {
	// ListPage は名前空間内のレコードを ID 昇順で cursor の次から最大 limit 件返す
	ListPage(ctx context.Context, namespace, cursor string, limit int) (Page, error)

	// Upsert は同じIDのレコードがあれば回答を上書きし、なければ追加する
	Upsert(ctx context.Context, record Record) error

	// Ping はストアへの疎通を確認する
	Ping(ctx context.Context) error
}
