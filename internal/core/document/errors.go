package document

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySource は文書参照が空の場合に返されます
	ErrEmptySource = errors.New("empty document source")

	// ErrLocalSourceDisabled はローカルファイルの取得が許可されていない場合に返されます
	ErrLocalSourceDisabled = errors.New("local document sources are disabled")

	// ErrOutsideLocalRoot はローカルパスが許可されたルートディレクトリの外を指す場合に返されます
	ErrOutsideLocalRoot = errors.New("document path is outside the allowed root")

	// ErrUnexpectedStatus は取得先が成功以外のステータスを返した場合に返されます
	ErrUnexpectedStatus = errors.New("unexpected response status")

	// ErrTooLarge は文書サイズが上限を超えた場合に返されます
	ErrTooLarge = errors.New("document exceeds size limit")

	// ErrUnsupportedContentType はテキスト抽出できない形式の場合に返されます
	ErrUnsupportedContentType = errors.New("unsupported content type")
)

// FetchError は文書取得の失敗を表します。HTTP 層では 400 として扱われます
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError は新しいFetchErrorを作成します
func NewFetchError(source string, err error) *FetchError {
	return &FetchError{Source: source, Err: err}
}
