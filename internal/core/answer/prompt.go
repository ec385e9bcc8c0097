package answer

import (
	"fmt"
	"strings"

	"github.com/jinford/docqa/internal/core/vectorindex"
)

// BuildAnswerPrompt は取得したチャンクだけを根拠に回答させるプロンプトを構築する
func BuildAnswerPrompt(question string, chunks []vectorindex.ScoredChunk) string {
	var sb strings.Builder

	// システムプロンプトとガイドライン
	sb.WriteString("You are an assistant that answers questions about a single document, such as an insurance policy.\n")
	sb.WriteString("Answer the question using only the context passages below.\n\n")

	sb.WriteString("## Answer guidelines\n")
	sb.WriteString("- Use only information stated in the context. Do not rely on outside knowledge.\n")
	sb.WriteString("- Never deflect by telling the user to see, check or refer to the document. State the answer directly.\n")
	sb.WriteString("- Be factual and concise. Keep the answer to one to three sentences.\n")
	sb.WriteString("- Proactively state every quantitative figure in the context that is relevant to the question: durations, monetary limits, percentages and counts.\n")
	sb.WriteString("- If the question can be answered with yes or no, begin the answer with \"Yes,\" or \"No,\".\n")
	sb.WriteString("- If the context does not contain the answer, state plainly that it is not covered by the provided passages.\n\n")

	// 関連箇所
	sb.WriteString("## Context\n")
	if len(chunks) > 0 {
		for i, c := range chunks {
			sb.WriteString(fmt.Sprintf("### [Passage %d]", i+1))
			if label := c.Chunk.SectionLabel(); label != "" {
				sb.WriteString(fmt.Sprintf(" section: %s", label))
			}
			sb.WriteString("\n")
			sb.WriteString(c.Chunk.Content)
			sb.WriteString("\n\n")
		}
	} else {
		sb.WriteString("(no relevant passages were found)\n\n")
	}

	// ユーザーの質問
	sb.WriteString("## Question\n")
	sb.WriteString(question)
	sb.WriteString("\n\n")

	// 回答セクション
	sb.WriteString("## Answer\n")

	return sb.String()
}
