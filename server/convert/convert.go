// Package convert translates generic chat messages into the content and part
// model of the Google generative AI SDK (google.golang.org/genai).
//
// Conversion is pure: no function in this package performs I/O.
package convert

import (
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// RoleFunction is the content role used for tool results. The genai
// documentation only lists "user" and "model", but the API accepts
// "function" and rejects a function call and its response in one content.
const RoleFunction = "function"

// BlocksToParts converts list content into parts, preserving block order.
// Empty text blocks produce no part.
func BlocksToParts(blocks []Block) ([]*genai.Part, error) {
	parts := make([]*genai.Part, 0, len(blocks))
	for i, b := range blocks {
		part, err := blockToPart(b)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		if part != nil {
			parts = append(parts, part)
		}
	}
	return parts, nil
}

func blockToPart(b Block) (*genai.Part, error) {
	switch b.Type {
	case "text":
		if b.Text == nil {
			return nil, fmt.Errorf("%w: text", ErrMissingField)
		}
		if *b.Text == "" {
			return nil, nil
		}
		return &genai.Part{Text: *b.Text}, nil

	case "image_url":
		if b.ImageURL == nil || b.ImageURL.URL == "" {
			return nil, fmt.Errorf("%w: image_url.url", ErrMissingField)
		}
		data, mimeType, err := DecodeDataURL(b.ImageURL.URL)
		if err != nil {
			return nil, err
		}
		return genai.NewPartFromBytes(data, mimeType), nil

	case "file":
		if b.URI == "" {
			return nil, fmt.Errorf("%w: uri", ErrMissingField)
		}
		if b.MIMEType == "" {
			return nil, fmt.Errorf("%w: mime_type", ErrMissingField)
		}
		return genai.NewPartFromURI(b.URI, b.MIMEType), nil

	case "":
		return nil, fmt.Errorf("%w: type", ErrMissingField)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownContentType, b.Type)
	}
}

// DecodeDataURL splits a data URL on its first comma. The MIME type is the
// header text between the first ':' and the first ';', and the payload is
// standard base64.
func DecodeDataURL(url string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(url, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: no payload separator", ErrInvalidDataURL)
	}
	_, meta, ok := strings.Cut(header, ":")
	if !ok {
		return nil, "", fmt.Errorf("%w: no scheme in header %q", ErrInvalidDataURL, header)
	}
	mimeType, _, _ := strings.Cut(meta, ";")

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return data, mimeType, nil
}

// MessageToParts converts the content of a single message. Non-empty string
// content becomes one text part; list content is handled by BlocksToParts.
func MessageToParts(msg Message) ([]*genai.Part, error) {
	if msg.Content.IsList {
		return BlocksToParts(msg.Content.Blocks)
	}
	if msg.Content.Text == "" {
		return nil, nil
	}
	return []*genai.Part{{Text: msg.Content.Text}}, nil
}

// MessagesToContents converts a conversation into genai contents, one
// content per message.
//
// Human messages map to the "user" role. AI messages map to "model" with
// their text parts followed by one function call part per tool call. Tool
// messages map to the "function" role with a single function response part
// whose response is {"output": content}. System messages have no content
// role and are rejected; pass them as a system instruction instead.
func MessagesToContents(msgs []Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(msgs))
	for i, msg := range msgs {
		content, err := messageToContent(msg)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		contents = append(contents, content)
	}
	return contents, nil
}

func messageToContent(msg Message) (*genai.Content, error) {
	switch msg.Type {
	case MessageTypeHuman:
		parts, err := MessageToParts(msg)
		if err != nil {
			return nil, err
		}
		return &genai.Content{Role: genai.RoleUser, Parts: parts}, nil

	case MessageTypeAI:
		parts, err := MessageToParts(msg)
		if err != nil {
			return nil, err
		}
		for _, tc := range msg.ToolCalls {
			if tc.ID == "" {
				return nil, fmt.Errorf("%w: %s", ErrMissingToolCallID, tc.Name)
			}
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: tc.Args,
				},
			})
		}
		return &genai.Content{Role: genai.RoleModel, Parts: parts}, nil

	case MessageTypeTool:
		if msg.Content.IsList {
			return nil, ErrToolContentNotString
		}
		if msg.Name == "" {
			return nil, ErrMissingToolName
		}
		return &genai.Content{
			Role: RoleFunction,
			Parts: []*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     msg.Name,
					Response: map[string]any{"output": msg.Content.Text},
				},
			}},
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessageType, msg.Type)
	}
}

// SplitSystem removes system messages from msgs and joins their text into a
// genai system instruction. It returns a nil instruction when there is none.
func SplitSystem(msgs []Message) (*genai.Content, []Message, error) {
	var system []*genai.Part
	rest := make([]Message, 0, len(msgs))
	for i, msg := range msgs {
		if msg.Type != MessageTypeSystem {
			rest = append(rest, msg)
			continue
		}
		parts, err := MessageToParts(msg)
		if err != nil {
			return nil, nil, fmt.Errorf("message %d: %w", i, err)
		}
		system = append(system, parts...)
	}
	if len(system) == 0 {
		return nil, rest, nil
	}
	return &genai.Content{Role: genai.RoleUser, Parts: system}, rest, nil
}
