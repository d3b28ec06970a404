package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCitations(t *testing.T) {
	docs := []Document{
		{Key: "a", Title: "Lawn care", Text: "The grass is green. Mow it weekly."},
		{Key: "b", Title: "Météo", Text: "Le ciel était bleu. The sky is blue."},
	}
	citations := []Citation{
		{SentenceIndex: 0, Key: "a", CitedText: "The grass is green. "},
		{SentenceIndex: 1, Key: "b", CitedText: "The sky is blue."},
		{SentenceIndex: 1, Key: "b", CitedText: "The sky is blue."},
		{SentenceIndex: 2, Key: "a", CitedText: "Mow it weekly."},
		{SentenceIndex: -1, Key: "a", CitedText: "Mow it weekly."},
		{SentenceIndex: 0, Key: "zzz", CitedText: "The grass"},
		{SentenceIndex: 0, Key: "a", CitedText: ""},
		{SentenceIndex: 0, Key: "a", CitedText: "the grass is GREEN"},
	}

	located, rejected := validateCitations(citations, 2, docs)
	require.Len(t, located, 2)

	require.Len(t, located[0], 1)
	assert.Equal(t, CharLocation{
		Type:           "char_location",
		CitedText:      "The grass is green. ",
		DocumentIndex:  0,
		DocumentKey:    "a",
		DocumentTitle:  "Lawn care",
		StartCharIndex: 0,
		EndCharIndex:   20,
	}, located[0][0])

	// Duplicates collapse and offsets count runes, not bytes.
	require.Len(t, located[1], 1)
	assert.Equal(t, 1, located[1][0].DocumentIndex)
	assert.Equal(t, 20, located[1][0].StartCharIndex)
	assert.Equal(t, 36, located[1][0].EndCharIndex)

	reasons := make([]string, 0, len(rejected))
	for _, r := range rejected {
		reasons = append(reasons, r.Reason)
	}
	assert.Equal(t, []string{
		ReasonSentenceOutOfRange,
		ReasonSentenceOutOfRange,
		ReasonUnknownDocument,
		ReasonEmptyCitedText,
		ReasonTextNotFound,
	}, reasons)
}

func TestValidateCitationsWhitespaceQuote(t *testing.T) {
	docs := []Document{{Key: "a", Text: "one\n\ntwo"}}
	citations := []Citation{
		{SentenceIndex: 0, Key: "a", CitedText: "\n\n"},
		{SentenceIndex: 0, Key: "a", CitedText: "\t"},
	}

	located, rejected := validateCitations(citations, 1, docs)
	require.Len(t, located[0], 1)
	assert.Equal(t, 3, located[0][0].StartCharIndex)
	assert.Equal(t, 5, located[0][0].EndCharIndex)

	require.Len(t, rejected, 1)
	assert.Equal(t, ReasonTextNotFound, rejected[0].Reason)
}

func TestLocate(t *testing.T) {
	start, end, ok := locate("héllo wörld wörld", "wörld")
	require.True(t, ok)
	assert.Equal(t, 6, start)
	assert.Equal(t, 11, end)

	_, _, ok = locate("abc", "abd")
	assert.False(t, ok)
}
