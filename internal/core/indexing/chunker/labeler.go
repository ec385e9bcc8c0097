package chunker

import (
	"strings"

	"github.com/jinford/docqa/internal/core/indexing"
)

type sectionRule struct {
	section  indexing.Section
	keywords []string
}

// 上から順に評価し、最初に一致したものを採用する
var sectionRules = []sectionRule{
	{indexing.SectionCoverage, []string{"coverage", "covered"}},
	{indexing.SectionExclusions, []string{"exclusion", "excluded", "not covered"}},
	{indexing.SectionGeneral, []string{"term", "definition", "meaning"}},
}

// Label はチャンク本文のキーワード（大文字小文字を区別しない）からセクションを判定します
func Label(content string) indexing.Section {
	lower := strings.ToLower(content)
	for _, rule := range sectionRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.section
			}
		}
	}
	return indexing.SectionOther
}
