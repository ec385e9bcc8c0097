package qa

import "errors"

const (
	// UnresolvedAnswer はキャッシュになく、生成バックエンドも使えない質問への回答
	UnresolvedAnswer = "Answer not found in cache. Cannot generate new answer as the generation backend is not available."

	// FailedAnswer は個別の質問で回答生成に失敗した場合の回答
	FailedAnswer = "Failed to generate an answer for this question."
)

// Mode はパイプラインの動作モード
type Mode string

const (
	// ModeOnline はキャッシュミスした質問の回答を生成する
	ModeOnline Mode = "online"
	// ModeOffline はキャッシュのみで回答し、文書の取得も行わない
	ModeOffline Mode = "offline"
)

// KeyMode はベクトルインデックスキャッシュのキーの導出方法
type KeyMode string

const (
	// KeyByReference は文書参照（URL）のフィンガープリントをキーにする
	KeyByReference KeyMode = "reference"
	// KeyByContent は取得した文書本体のフィンガープリントをキーにする。
	// 同じURLの内容が変わった場合に再構築されるが、リクエストごとに取得が発生する
	KeyByContent KeyMode = "content"
)

// ErrEmptyDocument は文書参照が空の場合に返されます
var ErrEmptyDocument = errors.New("documents is required")

// Request は1回の質問応答リクエスト
type Request struct {
	Document  string
	Questions []string
}

// Answer は1つの質問への回答。入力の質問と同じ位置に返される
type Answer struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	FromMemory bool   `json:"from_memory"`
}
