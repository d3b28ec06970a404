package convert

import (
	"fmt"

	"github.com/teilomillet/gollm"
	"google.golang.org/genai"
)

// FromPrompt converts a gollm prompt into a system instruction and genai
// contents. Messages with role "system" become the system instruction. A
// prompt without messages is sent as a single user turn holding its input.
func FromPrompt(prompt *gollm.Prompt) (*genai.Content, []*genai.Content, error) {
	if prompt == nil {
		return nil, nil, fmt.Errorf("%w: prompt", ErrMissingField)
	}

	msgs := make([]Message, 0, len(prompt.Messages)+1)
	for i, pm := range prompt.Messages {
		t, err := ParseMessageType(pm.Role)
		if err != nil {
			return nil, nil, fmt.Errorf("message %d: %w", i, err)
		}
		msgs = append(msgs, Message{Type: t, Content: TextContent(pm.Content)})
	}
	if len(msgs) == 0 && prompt.Input != "" {
		msgs = append(msgs, Message{Type: MessageTypeHuman, Content: TextContent(prompt.Input)})
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
