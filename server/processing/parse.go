package processing

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/teilomillet/gollm"
)

// ErrInvalidModelOutput is returned when the model reply holds no citation JSON.
var ErrInvalidModelOutput = errors.New("model output is not valid citation JSON")

var codeFence = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")

type citationEnvelope struct {
	Citations *[]Citation `json:"citations"`
}

// parseCitations decodes the model reply. Both a bare JSON array and an
// object with a "citations" array are accepted, optionally wrapped in a
// markdown code fence or surrounded by prose.
func parseCitations(reply string, cleanJSON bool) ([]Citation, error) {
	candidates := []string{strings.TrimSpace(reply)}
	if m := codeFence.FindStringSubmatch(reply); m != nil {
		candidates = append(candidates, m[1])
	}
	if cleanJSON {
		candidates = append(candidates, gollm.CleanResponse(reply))
	}
	if i, j := strings.Index(reply, "["), strings.LastIndex(reply, "]"); i >= 0 && j > i {
		candidates = append(candidates, reply[i:j+1])
	}

	for _, c := range candidates {
		if citations, ok := decodeCitations(c); ok {
			return citations, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrInvalidModelOutput, truncate(reply, 200))
}

func decodeCitations(s string) ([]Citation, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	switch s[0] {
	case '[':
		var citations []Citation
		if err := json.Unmarshal([]byte(s), &citations); err != nil {
			return nil, false
		}
		return citations, true
	case '{':
		var env citationEnvelope
		if err := json.Unmarshal([]byte(s), &env); err != nil || env.Citations == nil {
			return nil, false
		}
		return *env.Citations, true
	default:
		return nil, false
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
