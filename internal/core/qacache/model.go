package qacache

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrEmptyNamespace は名前空間が空の場合に返されます
	ErrEmptyNamespace = errors.New("namespace is required")

	// ErrEmptyQuestion は質問が空の場合に返されます
	ErrEmptyQuestion = errors.New("question is required")

	// ErrEmptyAnswer は回答が空の場合に返されます
	ErrEmptyAnswer = errors.New("answer is required")
)

// recordIDSpace はレコードIDを導出する UUIDv5 名前空間
var recordIDSpace = uuid.MustParse("3b9d7a61-2c4e-5f80-a1b2-c3d4e5f60718")

// Record は永続化された質問と回答の組
type Record struct {
	ID        uuid.UUID
	Namespace string
	Question  string
	Answer    string
}

// Page は名前空間内のレコードを ID 順に取得した1ページ分
type Page struct {
	Records    []Record
	NextCursor string // 空の場合は最終ページ
}

// RecordID は名前空間と質問から決定的なIDを返す。同じ質問の保存は同じレコードを上書きする
func RecordID(namespace, question string) uuid.UUID {
	return uuid.NewSHA1(recordIDSpace, []byte(namespace+"\x00"+question))
}

// NewRecord は検証済みのレコードを作成する
func NewRecord(namespace, question, answer string) (Record, error) {
	switch {
	case namespace == "":
		return Record{}, ErrEmptyNamespace
	case question == "":
		return Record{}, ErrEmptyQuestion
	case strings.TrimSpace(answer) == "":
		return Record{}, ErrEmptyAnswer
	}

	return Record{
		ID:        RecordID(namespace, question),
		Namespace: namespace,
		Question:  question,
		Answer:    answer,
	}, nil
}

// Normalize は大文字小文字と連続空白の差を吸収した照合キーを返す
func Normalize(question string) string {
	return strings.ToLower(strings.Join(strings.Fields(question), " "))
}
