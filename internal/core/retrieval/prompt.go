package retrieval

import (
	"fmt"
	"regexp"
	"strings"
)

// listMarker は行頭の箇条書き記号や "1." "2)" 形式の番号
var listMarker = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s*`)

// BuildParaphrasePrompt は質問の言い換えを n 件生成させるプロンプトを構築する
func BuildParaphrasePrompt(question string, n int) string {
	var b strings.Builder

	b.WriteString("You are an assistant that rewrites questions for document search.\n")
	fmt.Fprintf(&b, "Generate %d different versions of the question below. ", n)
	b.WriteString("Each version should ask for the same information using different wording, ")
	b.WriteString("so that a similarity search over the document finds passages the original wording might miss.\n")
	b.WriteString("Write one question per line. Do not number the lines or add any other text.\n\n")
	b.WriteString("Original question: ")
	b.WriteString(question)
	b.WriteString("\n")

	return b.String()
}

// ParseParaphrases は生成結果を行ごとに分割し、番号・箇条書き記号・空行・元の質問との重複を除く
func ParseParaphrases(output, question string, n int) []string {
	seen := map[string]struct{}{
		strings.ToLower(strings.TrimSpace(question)): {},
	}

	var out []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" {
			continue
		}

		key := strings.ToLower(line)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}
