package processing

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/teilomillet/gollm"
)

// DefaultSystemPrompt instructs the model to return citations as JSON.
const DefaultSystemPrompt = `You annotate answers with citations to their source documents.
For every sentence of the answer that is supported by a document, quote the exact supporting text from that document.
Respond with JSON only, in the form {"citations": [{"sentence_index": <int>, "key": "<document key>", "cited_text": "<verbatim quote>"}]}.
cited_text must be copied character for character from the document. Do not paraphrase, translate or fix typos.
Omit sentences that no document supports. If nothing is supported, return {"citations": []}.`

// DefaultCitationTemplate renders the numbered sentences and the documents.
const DefaultCitationTemplate = `Answer sentences:
{{- range .Sentences}}
[{{.Index}}] {{.Text}}
{{- end}}

Documents:
{{- range .Documents}}
<document key="{{.Key}}"{{if .Title}} title="{{.Title}}"{{end}}>
{{.Text}}
</document>
{{- end}}`

// numberedSentence is a sentence as shown to the model.
type numberedSentence struct {
	Index int
	Text  string
}

// templateData is the data passed to the citation template.
type templateData struct {
	Sentences []numberedSentence
	Documents []Document
}

func parseTemplate(src string) (*template.Template, error) {
	if src == "" {
		src = DefaultCitationTemplate
	}
	tmpl, err := template.New("citation").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse citation template: %w", err)
	}
	return tmpl, nil
}

// buildPrompt renders the citation prompt. Sentences are shown on one line
// each with surrounding whitespace removed.
func buildPrompt(tmpl *template.Template, systemPrompt string, sentences []string, docs []Document) (*gollm.Prompt, error) {
	data := templateData{Documents: docs}
	for i, s := range sentences {
		data.Sentences = append(data.Sentences, numberedSentence{
			Index: i,
			Text:  strings.Join(strings.Fields(s), " "),
		})
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("template execution failed: %w", err)
	}

	var messages []gollm.PromptMessage
	if systemPrompt != "" {
		messages = append(messages, gollm.PromptMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, gollm.PromptMessage{Role: "user", Content: buf.String()})

	return &gollm.Prompt{Messages: messages}, nil
}
