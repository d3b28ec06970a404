package processing

// Document is a source the answer was conditioned on.
type Document struct {
	Key   string `json:"key" validate:"required"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text" validate:"required"`
}

// Citation is the raw (sentence, source, quote) triple returned by the model.
type Citation struct {
	SentenceIndex int    `json:"sentence_index"`
	Key           string `json:"key"`
	CitedText     string `json:"cited_text"`
}

// CharLocation is a validated citation located inside its document.
// Offsets count runes and EndCharIndex is exclusive.
type CharLocation struct {
	Type           string `json:"type"`
	CitedText      string `json:"cited_text"`
	DocumentIndex  int    `json:"document_index"`
	DocumentKey    string `json:"document_key"`
	DocumentTitle  string `json:"document_title"`
	StartCharIndex int    `json:"start_char_index"`
	EndCharIndex   int    `json:"end_char_index"`
}

// CharLocationType is the Type of every CharLocation.
const CharLocationType = "char_location"

// CitedSentence is one answer sentence with the citations supporting it.
type CitedSentence struct {
	Type      string         `json:"type"`
	Text      string         `json:"text"`
	Citations []CharLocation `json:"citations"`
}

// TextBlockType is the Type of every CitedSentence.
const TextBlockType = "text"

// Rejection reasons reported for dropped citations.
const (
	ReasonSentenceOutOfRange = "sentence_out_of_range"
	ReasonUnknownDocument    = "unknown_document"
	ReasonEmptyCitedText     = "empty_cited_text"
	ReasonTextNotFound       = "text_not_found"
)

// RejectedCitation is a model citation that failed validation.
type RejectedCitation struct {
	Citation
	Reason string `json:"reason"`
}

// CitationRequest asks for the answer to be annotated against the documents.
type CitationRequest struct {
	Answer    string     `json:"answer"`
	Documents []Document `json:"documents" validate:"required,min=1,dive"`
}

// CitationResponse is the annotated answer. Concatenating the Text of every
// content block reproduces the answer exactly.
type CitationResponse struct {
	Text     string             `json:"text"`
	Content  []CitedSentence    `json:"content"`
	Rejected []RejectedCitation `json:"rejected,omitempty"`
	Cached   bool               `json:"cached,omitempty"`
}

// Citations returns every citation in content order.
func (r *CitationResponse) Citations() []CharLocation {
	var out []CharLocation
	for _, s := range r.Content {
		out = append(out, s.Citations...)
	}
	return out
}
