package processing

import (
	"regexp"
	"strings"
)

// sentenceEnd matches the end of a sentence including the whitespace that
// follows it: terminal punctuation with optional closing quotes or brackets,
// or a blank line.
var sentenceEnd = regexp.MustCompile(`[.!?]+["'\x{201D}\x{2019})\]]*\s+|\n[ \t]*\n\s*`)

// SplitSentences splits text into sentences. Trailing whitespace stays
// attached to the sentence before it, so the sentences concatenate back to
// text. Text without any non-space characters has no sentences.
func SplitSentences(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var sentences []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		sentences = appendSentence(sentences, text[start:loc[1]])
		start = loc[1]
	}
	if start < len(text) {
		sentences = appendSentence(sentences, text[start:])
	}

	// Leading whitespace has no previous sentence; attach it to the first.
	if len(sentences) > 1 && strings.TrimSpace(sentences[0]) == "" {
		sentences[1] = sentences[0] + sentences[1]
		sentences = sentences[1:]
	}
	return sentences
}

func appendSentence(sentences []string, s string) []string {
	if strings.TrimSpace(s) == "" && len(sentences) > 0 {
		sentences[len(sentences)-1] += s
		return sentences
	}
	return append(sentences, s)
}
