package answer

import (
	"github.com/google/uuid"
)

// Result は回答生成の結果を表す
type Result struct {
	Answer  string            // LLMによる回答
	Sources []SourceReference // プロンプトに含めたチャンク
}

// SourceReference は回答の根拠となったチャンク参照を表す
type SourceReference struct {
	ChunkID uuid.UUID
	Ordinal int     // 文書内の順序
	Section string  // セクションラベル（ない場合は空）
	Score   float64 // 関連度スコア
}
