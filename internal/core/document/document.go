package document

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// QANamespaceSuffix は質問応答キャッシュ用名前空間に付与するサフィックス
const QANamespaceSuffix = "-qa"

// Payload は取得済みの文書本体を表す
type Payload struct {
	Source      string // 取得元（URL またはローカルパス）
	Data        []byte
	ContentType string // 正規化済みの MIME タイプ（パラメータなし）
}

// Namespaces は1つの文書に紐づくストア上の名前空間
type Namespaces struct {
	Chunk string // チャンク名前空間（= フィンガープリント）
	QA    string // 質問応答名前空間（= フィンガープリント + "-qa"）
}

// Fingerprint は入力バイト列の SHA-256 を小文字16進で返す。
// 同一入力に対して常に同じ値になり、ストア名前空間として使える文字のみで構成される
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FingerprintSource は文書参照（URL）のフィンガープリントを返す
func FingerprintSource(source string) string {
	return Fingerprint([]byte(source))
}

// NamespacesFor はフィンガープリントから名前空間を導出する
func NamespacesFor(fingerprint string) Namespaces {
	return Namespaces{
		Chunk: fingerprint,
		QA:    fingerprint + QANamespaceSuffix,
	}
}

// MediaType は Content-Type ヘッダーからパラメータを除いた小文字の MIME タイプを返す
func MediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// IsPDF はペイロードが PDF かどうかを判定する
func (p *Payload) IsPDF() bool {
	if p == nil {
		return false
	}
	return p.ContentType == "application/pdf" || strings.HasPrefix(string(p.Data[:min(len(p.Data), 5)]), "%PDF-")
}
