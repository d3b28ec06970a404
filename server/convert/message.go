package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MessageType identifies the author of a Message.
type MessageType string

const (
	MessageTypeHuman  MessageType = "human"
	MessageTypeAI     MessageType = "ai"
	MessageTypeTool   MessageType = "tool"
	MessageTypeSystem MessageType = "system"
)

// ParseMessageType maps the role names used by chat frameworks and
// OpenAI-style APIs onto a MessageType.
func ParseMessageType(role string) (MessageType, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "human", "user":
		return MessageTypeHuman, nil
	case "ai", "assistant", "model":
		return MessageTypeAI, nil
	case "tool", "function":
		return MessageTypeTool, nil
	case "system":
		return MessageTypeSystem, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMessageType, role)
	}
}

// Message is a generic chat message.
type Message struct {
	Type    MessageType `json:"role" validate:"required"`
	Content Content     `json:"content"`

	// ToolCalls is only meaningful on AI messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are only meaningful on tool messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// UnmarshalJSON accepts any role alias understood by ParseMessageType.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var raw struct {
		plain
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, err := ParseMessageType(raw.Role)
	if err != nil {
		return err
	}
	*m = Message(raw.plain)
	m.Type = t
	return nil
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name" validate:"required"`
	Args map[string]any `json:"args"`
}

// Content is message content: either a plain string or a list of blocks.
type Content struct {
	Text   string
	Blocks []Block
	// IsList is set when the content was given as a list, even an empty one.
	IsList bool
}

// TextContent returns string content.
func TextContent(s string) Content {
	return Content{Text: s}
}

// BlockContent returns list content.
func BlockContent(blocks ...Block) Content {
	return Content{Blocks: blocks, IsList: true}
}

// MarshalJSON writes the string or list form.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsList {
		if c.Blocks == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts a JSON string or array. null leaves the content empty.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = Content{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	case '[':
		var blocks []Block
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		*c = Content{Blocks: blocks, IsList: true}
		return nil
	default:
		return fmt.Errorf("%w, got %s", ErrInvalidContent, jsonKind(data[0]))
	}
}

func jsonKind(b byte) string {
	switch b {
	case '{':
		return "object"
	case 't', 'f':
		return "bool"
	default:
		return "number"
	}
}

// Block is one element of list content.
type Block struct {
	Type string `json:"type"`

	// Text is a pointer so a missing key can be told apart from an empty string.
	Text *string `json:"text,omitempty"`

	ImageURL *ImageURL `json:"image_url,omitempty"`

	URI      string `json:"uri,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

// TextBlock returns a text block.
func TextBlock(text string) Block {
	return Block{Type: "text", Text: &text}
}

// ImageBlock returns an image_url block for a data URL.
func ImageBlock(url string) Block {
	return Block{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}

// FileBlock returns a file reference block.
func FileBlock(uri, mimeType string) Block {
	return Block{Type: "file", URI: uri, MIMEType: mimeType}
}

// ImageURL holds the URL of an image_url block.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// UnmarshalJSON accepts both {"url": "..."} and the bare string shorthand.
func (u *ImageURL) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &u.URL)
	}
	type plain ImageURL
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*u = ImageURL(p)
	return nil
}
