package app

import (
	"strings"

	"docchat/pkg/domain"
)

const truncationMarker = "…"

// assembleContext turns ranked results into the context text fed to
// generation and a parallel citation list. The context keeps full excerpts;
// only the user-facing citation text is shortened. Pure: identical input
// yields identical output.
func assembleContext(results []domain.RetrievalResult, maxPassages, excerptLimit int) (string, []domain.Citation) {
	if maxPassages <= 0 || len(results) == 0 {
		return "", nil
	}
	if len(results) > maxPassages {
		results = results[:maxPassages]
	}
	passages := make([]string, 0, len(results))
	citations := make([]domain.Citation, 0, len(results))
	for _, res := range results {
		passages = append(passages, res.Excerpt)
		citations = append(citations, domain.Citation{
			DocumentID:   res.DocumentID,
			DocumentName: res.DocumentName,
			PageNumber:   res.PageNumber,
			Excerpt:      truncateRunes(res.Excerpt, excerptLimit),
			Score:        res.Score,
		})
	}
	return strings.Join(passages, "\n\n"), citations
}

// truncateRunes shortens s to limit runes, appending a marker. Strings at or
// under the limit pass through unchanged.
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + truncationMarker
}
