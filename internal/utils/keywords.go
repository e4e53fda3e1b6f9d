package utils

import (
	"strings"

	"golang.org/x/text/cases"
)

// MatchKeyword returns the first keyword contained in value, compared with
// Unicode case folding.
func MatchKeyword(value string, keywords []string) (string, bool) {
	if value == "" {
		return "", false
	}
	folded := cases.Fold().String(value)
	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(folded, cases.Fold().String(keyword)) {
			return keyword, true
		}
	}
	return "", false
}
