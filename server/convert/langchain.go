package convert

import (
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"google.golang.org/genai"
)

// FromMessageContent converts a langchaingo message into a Message.
//
// A message made of a single text part keeps string content; any other mix
// of text, image URL and binary parts becomes list content. Tool calls move
// to Message.ToolCalls and a tool call response turns the message into a
// tool message.
func FromMessageContent(mc llms.MessageContent) (Message, error) {
	msgType, err := ParseMessageType(string(mc.Role))
	if err != nil {
		return Message{}, err
	}
	msg := Message{Type: msgType}

	var blocks []Block
	for i, part := range mc.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			blocks = append(blocks, TextBlock(p.Text))
		case llms.ImageURLContent:
			blocks = append(blocks, Block{Type: "image_url", ImageURL: &ImageURL{URL: p.URL, Detail: p.Detail}})
		case llms.BinaryContent:
			blocks = append(blocks, ImageBlock(p.String()))
		case llms.ToolCall:
			tc, err := toolCallFromLangChain(p)
			if err != nil {
				return Message{}, fmt.Errorf("part %d: %w", i, err)
			}
			msg.ToolCalls = append(msg.ToolCalls, tc)
		case llms.ToolCallResponse:
			msg.Type = MessageTypeTool
			msg.ToolCallID = p.ToolCallID
			msg.Name = p.Name
			msg.Content = TextContent(p.Content)
		default:
			return Message{}, fmt.Errorf("part %d: %w: %T", i, ErrUnknownContentType, part)
		}
	}

	if msg.Type == MessageTypeTool {
		return msg, nil
	}
	if len(blocks) == 1 && blocks[0].Type == "text" {
		msg.Content = TextContent(*blocks[0].Text)
	} else if len(blocks) > 0 {
		msg.Content = BlockContent(blocks...)
	}
	return msg, nil
}

func toolCallFromLangChain(p llms.ToolCall) (ToolCall, error) {
	tc := ToolCall{ID: p.ID}
	if p.FunctionCall == nil {
		return tc, fmt.Errorf("%w: function", ErrMissingField)
	}
	tc.Name = p.FunctionCall.Name
	if p.FunctionCall.Arguments == "" {
		tc.Args = map[string]any{}
		return tc, nil
	}
	if err := json.Unmarshal([]byte(p.FunctionCall.Arguments), &tc.Args); err != nil {
		return tc, fmt.Errorf("decode arguments of %s: %w", tc.Name, err)
	}
	return tc, nil
}

// FromMessageContents converts a langchaingo conversation into Messages.
func FromMessageContents(mcs []llms.MessageContent) ([]Message, error) {
	msgs := make([]Message, 0, len(mcs))
	for i, mc := range mcs {
		msg, err := FromMessageContent(mc)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// ContentsFromLangChain converts a langchaingo conversation straight into
// genai contents. System messages are returned separately as the system
// instruction.
func ContentsFromLangChain(mcs []llms.MessageContent) (*genai.Content, []*genai.Content, error) {
	msgs, err := FromMessageContents(mcs)
	if err != nil {
		return nil, nil, err
	}
	system, rest, err := SplitSystem(msgs)
	if err != nil {
		return nil, nil, err
	}
	contents, err := MessagesToContents(rest)
	if err != nil {
		return nil, nil, err
	}
	return system, contents, nil
}
