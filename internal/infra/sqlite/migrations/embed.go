// Package migrations は SQLite ストアのスキーマ定義を埋め込む
package migrations

import "embed"

// FS はバージョン番号付きの *.up.sql を保持する
//
//go:embed *.sql
var FS embed.FS
