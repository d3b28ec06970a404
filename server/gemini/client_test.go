package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/gollm"
	"google.golang.org/genai"
)

type capturedRequest struct {
	Path              string
	Contents          []*genai.Content `json:"contents"`
	SystemInstruction *genai.Content   `json:"systemInstruction"`
}

func newTestServer(t *testing.T, reply string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if captured != nil {
			require.NoError(t, json.Unmarshal(body, captured))
			captured.Path = r.URL.Path
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": reply}},
				},
			}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestClientGenerate(t *testing.T) {
	var captured capturedRequest
	srv := newTestServer(t, `[{"sentence_index":0,"key":"a","cited_text":"x"}]`, &captured)
	defer srv.Close()

	temp := float32(0)
	client, err := New(context.Background(), Config{
		APIKey:      "test-key",
		Model:       "gemini-2.5-flash",
		Endpoint:    srv.URL,
		Temperature: &temp,
		HTTPClient:  srv.Client(),
	})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", client.Model())

	out, err := client.Generate(context.Background(), &gollm.Prompt{
		Messages: []gollm.PromptMessage{
			{Role: "system", Content: "Return JSON."},
			{Role: "user", Content: "Cite the answer."},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `[{"sentence_index":0,"key":"a","cited_text":"x"}]`, out)

	assert.True(t, strings.HasSuffix(captured.Path, "gemini-2.5-flash:generateContent"), captured.Path)
	require.Len(t, captured.Contents, 1)
	assert.Equal(t, genai.RoleUser, captured.Contents[0].Role)
	assert.Equal(t, "Cite the answer.", captured.Contents[0].Parts[0].Text)
	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "Return JSON.", captured.SystemInstruction.Parts[0].Text)
}

func TestClientEmptyResponse(t *testing.T) {
	srv := newTestServer(t, "", nil)
	defer srv.Close()

	client, err := New(context.Background(), Config{APIKey: "k", Model: "m", Endpoint: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), gollm.NewPrompt("hi"))
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClientRejectsBadPrompt(t *testing.T) {
	client, err := New(context.Background(), Config{APIKey: "k", Model: "m", Endpoint: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), &gollm.Prompt{})
	assert.Error(t, err)

	_, err = client.Generate(context.Background(), &gollm.Prompt{Messages: []gollm.PromptMessage{{Role: "oracle", Content: "x"}}})
	assert.Error(t, err)
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(context.Background(), Config{APIKey: "k"})
	assert.Error(t, err)
}
