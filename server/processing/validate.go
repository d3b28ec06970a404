package processing

import (
	"strings"
	"unicode/utf8"
)

type citationKey struct {
	sentence int
	key      string
	text     string
}

// validateCitations keeps citations that point at an existing sentence and
// quote their document verbatim, grouped by sentence in model order.
// Duplicates are dropped silently; everything else that fails is rejected
// with a reason.
func validateCitations(citations []Citation, sentenceCount int, docs []Document) ([][]CharLocation, []RejectedCitation) {
	docIndex := make(map[string]int, len(docs))
	for i, d := range docs {
		docIndex[d.Key] = i
	}

	located := make([][]CharLocation, sentenceCount)
	seen := make(map[citationKey]bool)
	var rejected []RejectedCitation

	reject := func(c Citation, reason string) {
		rejected = append(rejected, RejectedCitation{Citation: c, Reason: reason})
	}

	for _, c := range citations {
		if c.SentenceIndex < 0 || c.SentenceIndex >= sentenceCount {
			reject(c, ReasonSentenceOutOfRange)
			continue
		}
		idx, ok := docIndex[c.Key]
		if !ok {
			reject(c, ReasonUnknownDocument)
			continue
		}
		if c.CitedText == "" {
			reject(c, ReasonEmptyCitedText)
			continue
		}

		doc := docs[idx]
		start, end, ok := locate(doc.Text, c.CitedText)
		if !ok {
			reject(c, ReasonTextNotFound)
			continue
		}

		k := citationKey{sentence: c.SentenceIndex, key: c.Key, text: c.CitedText}
		if seen[k] {
			continue
		}
		seen[k] = true

		located[c.SentenceIndex] = append(located[c.SentenceIndex], CharLocation{
			Type:           CharLocationType,
			CitedText:      c.CitedText,
			DocumentIndex:  idx,
			DocumentKey:    doc.Key,
			DocumentTitle:  doc.Title,
			StartCharIndex: start,
			EndCharIndex:   end,
		})
	}

	return located, rejected
}

// locate finds the first occurrence of quote in text and returns its rune
// offsets, end exclusive.
func locate(text, quote string) (int, int, bool) {
	i := strings.Index(text, quote)
	if i < 0 {
		return 0, 0, false
	}
	start := utf8.RuneCountInString(text[:i])
	return start, start + utf8.RuneCountInString(quote), true
}
