package processing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"whitespace only", "  \n\t ", nil},
		{"single without terminator", "The grass is green", []string{"The grass is green"}},
		{
			name: "terminators keep trailing space",
			text: "The grass is green. The sky is blue! Is it? Yes.",
			want: []string{"The grass is green. ", "The sky is blue! ", "Is it? ", "Yes."},
		},
		{
			name: "closing quotes and brackets stay with the sentence",
			text: `He said "stop." Then (quietly.) left.`,
			want: []string{`He said "stop." `, "Then (quietly.) ", "left."},
		},
		{
			name: "ellipsis and repeated punctuation",
			text: "Wait... What?! Fine.",
			want: []string{"Wait... ", "What?! ", "Fine."},
		},
		{
			name: "blank line ends a sentence",
			text: "Heading\n\nBody text here",
			want: []string{"Heading\n\n", "Body text here"},
		},
		{
			name: "leading whitespace joins first sentence",
			text: "\n\nFirst. Second.",
			want: []string{"\n\nFirst. ", "Second."},
		},
		{
			name: "decimal numbers are not boundaries",
			text: "Pi is 3.14 roughly. Done.",
			want: []string{"Pi is 3.14 roughly. ", "Done."},
		},
		{
			name: "trailing whitespace kept",
			text: "One. Two.  \n",
			want: []string{"One. ", "Two.  \n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences(tt.text)
			assert.Equal(t, tt.want, got)
			if got != nil {
				assert.Equal(t, tt.text, strings.Join(got, ""), "sentences must concatenate to the input")
			}
		})
	}
}
