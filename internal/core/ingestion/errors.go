package ingestion

import (
	"fmt"
)

// IngestionError は文書の抽出・分割・埋め込み・索引構築の失敗を表します。
// HTTP 層では 500 として扱われます
type IngestionError struct {
	Op          string // 失敗した段階（extract, chunk, embed, index）
	Fingerprint string
	Err         error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion: %s: %s (fingerprint=%s)", e.Op, e.Err, e.Fingerprint)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

func newIngestionError(op, fingerprint string, err error) *IngestionError {
	return &IngestionError{Op: op, Fingerprint: fingerprint, Err: err}
}
