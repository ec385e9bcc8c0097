package indexing

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Section はチャンクの話題ラベルを表す
type Section string

const (
	SectionCoverage   Section = "coverage"
	SectionExclusions Section = "exclusions"
	SectionGeneral    Section = "general"
	SectionOther      Section = "other"
)

// chunkIDSpace はチャンクIDを導出する UUIDv5 名前空間
var chunkIDSpace = uuid.MustParse("6f0c5d2e-8a41-5b7e-9c3d-2f1e4a6b8c90")

// Chunk は文書から切り出した連続テキスト片を表す
type Chunk struct {
	ID          uuid.UUID
	Ordinal     int    // 文書内の0始まりの順序
	Content     string // 空白のみのチャンクは生成されない
	StartOffset int    // 抽出テキスト上のバイトオフセット [StartOffset, EndOffset)
	EndOffset   int
	Section     mo.Option[Section]
}

// OverlapWith は直前チャンクと共有するバイト数を返す
func (c *Chunk) OverlapWith(prev *Chunk) int {
	if prev == nil {
		return 0
	}
	return max(0, prev.EndOffset-c.StartOffset)
}

// SectionLabel はラベルを文字列で返す。ラベルなしの場合は空文字
func (c *Chunk) SectionLabel() string {
	return string(c.Section.OrEmpty())
}

// ChunkID はフィンガープリントと順序から決定的なチャンクIDを生成する
func ChunkID(fingerprint string, ordinal int) uuid.UUID {
	return uuid.NewSHA1(chunkIDSpace, []byte(fmt.Sprintf("%s:%d", fingerprint, ordinal)))
}

// AssignIDs は文書フィンガープリントに基づいて全チャンクにIDを割り当てる
func AssignIDs(fingerprint string, chunks []*Chunk) {
	for _, c := range chunks {
		c.ID = ChunkID(fingerprint, c.Ordinal)
	}
}
