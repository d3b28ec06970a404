package convert

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func pngDataURL(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

func TestBlocksToParts(t *testing.T) {
	t.Run("mixed blocks keep order", func(t *testing.T) {
		parts, err := BlocksToParts([]Block{
			TextBlock("This is a text message"),
			ImageBlock(pngDataURL([]byte("img"))),
			FileBlock("gs://bucket/report.pdf", "application/pdf"),
		})
		require.NoError(t, err)
		require.Len(t, parts, 3)

		assert.Equal(t, "This is a text message", parts[0].Text)

		require.NotNil(t, parts[1].InlineData)
		assert.Equal(t, []byte("img"), parts[1].InlineData.Data)
		assert.Equal(t, "image/png", parts[1].InlineData.MIMEType)

		require.NotNil(t, parts[2].FileData)
		assert.Equal(t, "gs://bucket/report.pdf", parts[2].FileData.FileURI)
		assert.Equal(t, "application/pdf", parts[2].FileData.MIMEType)
	})

	t.Run("empty text is skipped", func(t *testing.T) {
		parts, err := BlocksToParts([]Block{TextBlock(""), TextBlock("kept")})
		require.NoError(t, err)
		require.Len(t, parts, 1)
		assert.Equal(t, "kept", parts[0].Text)
	})

	tests := []struct {
		name    string
		block   Block
		wantErr error
	}{
		{"text without text key", Block{Type: "text"}, ErrMissingField},
		{"image without url", Block{Type: "image_url"}, ErrMissingField},
		{"image url not a data url", ImageBlock("https://example.com/cat.png"), ErrInvalidDataURL},
		{"image url bad base64", ImageBlock("data:image/png;base64,@@@"), ErrInvalidDataURL},
		{"file without uri", Block{Type: "file", MIMEType: "application/pdf"}, ErrMissingField},
		{"file without mime type", Block{Type: "file", URI: "gs://b/f"}, ErrMissingField},
		{"missing type", Block{}, ErrMissingField},
		{"unknown type", Block{Type: "audio"}, ErrUnknownContentType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BlocksToParts([]Block{tt.block})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("unknown type is named", func(t *testing.T) {
		_, err := BlocksToParts([]Block{TextBlock("ok"), {Type: "audio"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "audio")
		assert.Contains(t, err.Error(), "block 1")
	})
}

func TestDecodeDataURL(t *testing.T) {
	data, mime, err := DecodeDataURL("data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("%PDF")))
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", mime)
	assert.Equal(t, []byte("%PDF"), data)

	// Only the first comma separates header and payload.
	_, _, err = DecodeDataURL("data:text/plain;base64,aGk=,extra")
	assert.ErrorIs(t, err, ErrInvalidDataURL)

	// A header without parameters still yields the mime type.
	_, mime, err = DecodeDataURL("data:image/jpeg,")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
}

func TestMessageToParts(t *testing.T) {
	parts, err := MessageToParts(Message{Type: MessageTypeHuman, Content: TextContent("hello")})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "hello", parts[0].Text)

	parts, err = MessageToParts(Message{Type: MessageTypeHuman, Content: TextContent("")})
	require.NoError(t, err)
	assert.Empty(t, parts)

	parts, err = MessageToParts(Message{Type: MessageTypeHuman, Content: BlockContent()})
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestMessagesToContents(t *testing.T) {
	msgs := []Message{
		{Type: MessageTypeHuman, Content: BlockContent(TextBlock("What's in this file?"), FileBlock("gs://b/f.pdf", "application/pdf"))},
		{
			Type:    MessageTypeAI,
			Content: TextContent("Let me look."),
			ToolCalls: []ToolCall{
				{ID: "call-1", Name: "read_file", Args: map[string]any{"path": "f.pdf"}},
				{ID: "call-2", Name: "summarize", Args: map[string]any{"n": float64(3)}},
			},
		},
		{Type: MessageTypeTool, Content: TextContent("file contents"), ToolCallID: "call-1", Name: "read_file"},
		{Type: MessageTypeAI, Content: TextContent("")},
	}

	contents, err := MessagesToContents(msgs)
	require.NoError(t, err)
	require.Len(t, contents, 4)

	assert.Equal(t, genai.RoleUser, contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	assert.NotNil(t, contents[0].Parts[1].FileData)

	model := contents[1]
	assert.Equal(t, genai.RoleModel, model.Role)
	require.Len(t, model.Parts, 3)
	assert.Equal(t, "Let me look.", model.Parts[0].Text)
	require.NotNil(t, model.Parts[1].FunctionCall)
	assert.Equal(t, &genai.FunctionCall{ID: "call-1", Name: "read_file", Args: map[string]any{"path": "f.pdf"}}, model.Parts[1].FunctionCall)
	assert.Equal(t, "summarize", model.Parts[2].FunctionCall.Name)

	tool := contents[2]
	assert.Equal(t, RoleFunction, tool.Role)
	require.Len(t, tool.Parts, 1)
	require.NotNil(t, tool.Parts[0].FunctionResponse)
	assert.Nil(t, tool.Parts[0].FunctionCall)
	assert.Equal(t, "call-1", tool.Parts[0].FunctionResponse.ID)
	assert.Equal(t, "read_file", tool.Parts[0].FunctionResponse.Name)
	assert.Equal(t, map[string]any{"output": "file contents"}, tool.Parts[0].FunctionResponse.Response)

	assert.Equal(t, genai.RoleModel, contents[3].Role)
	assert.Empty(t, contents[3].Parts)
}

func TestMessagesToContentsErrors(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{
			name:    "tool call without id",
			msg:     Message{Type: MessageTypeAI, ToolCalls: []ToolCall{{Name: "search"}}},
			wantErr: ErrMissingToolCallID,
		},
		{
			name:    "tool message with list content",
			msg:     Message{Type: MessageTypeTool, Name: "search", Content: BlockContent(TextBlock("x"))},
			wantErr: ErrToolContentNotString,
		},
		{
			name:    "tool message without name",
			msg:     Message{Type: MessageTypeTool, Content: TextContent("x")},
			wantErr: ErrMissingToolName,
		},
		{
			name:    "system message",
			msg:     Message{Type: MessageTypeSystem, Content: TextContent("be brief")},
			wantErr: ErrInvalidMessageType,
		},
		{
			name:    "bad block in human message",
			msg:     Message{Type: MessageTypeHuman, Content: BlockContent(Block{Type: "video"})},
			wantErr: ErrUnknownContentType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MessagesToContents([]Message{{Type: MessageTypeHuman, Content: TextContent("hi")}, tt.msg})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), "message 1")
		})
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest, err := SplitSystem([]Message{
		{Type: MessageTypeSystem, Content: TextContent("rule one")},
		{Type: MessageTypeHuman, Content: TextContent("hi")},
		{Type: MessageTypeSystem, Content: TextContent("rule two")},
	})
	require.NoError(t, err)
	require.NotNil(t, system)
	require.Len(t, system.Parts, 2)
	assert.Equal(t, "rule two", system.Parts[1].Text)
	require.Len(t, rest, 1)
	assert.Equal(t, MessageTypeHuman, rest[0].Type)

	system, rest, err = SplitSystem([]Message{{Type: MessageTypeHuman, Content: TextContent("hi")}})
	require.NoError(t, err)
	assert.Nil(t, system)
	assert.Len(t, rest, 1)
}
