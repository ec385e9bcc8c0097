package chunker

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig は設定が不正な場合に返されます
	ErrInvalidConfig = errors.New("invalid chunker config")

	// ErrUnknownStrategy は未知の分割戦略が指定された場合に返されます
	ErrUnknownStrategy = errors.New("unknown chunking strategy")
)

// ChunkerError はChunker固有のエラーを表します
type ChunkerError struct {
	Op       string // 操作名
	Strategy string
	Err      error
}

func (e *ChunkerError) Error() string {
	return fmt.Sprintf("chunker: %s: %s (strategy=%s)", e.Op, e.Err, e.Strategy)
}

func (e *ChunkerError) Unwrap() error {
	return e.Err
}

// NewChunkerError は新しいChunkerErrorを作成します
func NewChunkerError(op string, strategy string, err error) *ChunkerError {
	return &ChunkerError{
		Op:       op,
		Strategy: strategy,
		Err:      err,
	}
}
