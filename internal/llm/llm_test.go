package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/generative-ai-go/genai"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchSpec() ToolSpec {
	return ToolSpec{
		Name:        "search_course_content",
		Description: "search",
		Parameters: &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				"query":         {Type: "string"},
				"lesson_number": {Type: "integer"},
			},
			Required: []string{"query"},
		},
	}
}

func conversation() []Message {
	return []Message{
		{Role: RoleUser, Content: "what is in lesson 1?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "search_course_content", Args: map[string]any{"query": "lesson 1"}}}},
		{Role: RoleTool, ToolResults: []ToolResult{{CallID: "call_1", Name: "search_course_content", Content: "basics"}}},
	}
}

func TestGeminiContents(t *testing.T) {
	contents := geminiContents(conversation())
	require.Len(t, contents, 3)

	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	call, ok := contents[1].Parts[0].(genai.FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "search_course_content", call.Name)

	assert.Equal(t, "user", contents[2].Role)
	resp, ok := contents[2].Parts[0].(genai.FunctionResponse)
	require.True(t, ok)
	assert.Equal(t, "basics", resp.Response["content"])
}

func TestGeminiSchema(t *testing.T) {
	s := geminiSchema(searchSpec().Parameters)
	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, genai.TypeInteger, s.Properties["lesson_number"].Type)
	assert.Equal(t, []string{"query"}, s.Required)
	assert.Nil(t, geminiSchema(nil))
}

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	o, err := NewOpenAI("sk-test", srv.URL+"/v1", "", "")
	require.NoError(t, err)
	return o
}

func TestOpenAI_GenerateSendsConversationAndParsesToolCalls(t *testing.T) {
	var got openai.ChatCompletionRequest
	o := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role: openai.ChatMessageRoleAssistant,
					ToolCalls: []openai.ToolCall{{
						ID:       "call_9",
						Type:     openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: "search_course_content", Arguments: `{"query":"loops","lesson_number":2}`},
					}},
				},
			}},
		})
	})

	resp, err := o.Generate(context.Background(), Request{System: "be brief", Tools: []ToolSpec{searchSpec()}, Messages: conversation()})
	require.NoError(t, err)
	require.True(t, resp.WantsTools())
	assert.Equal(t, "call_9", resp.ToolCalls[0].ID)
	assert.Equal(t, "loops", resp.ToolCalls[0].Args["query"])
	assert.Equal(t, float64(2), resp.ToolCalls[0].Args["lesson_number"])

	assert.Equal(t, DefaultOpenAIChatModel, got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, "call_1", got.Messages[2].ToolCalls[0].ID)
	assert.Equal(t, openai.ChatMessageRoleTool, got.Messages[3].Role)
	assert.Equal(t, "call_1", got.Messages[3].ToolCallID)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "search_course_content", got.Tools[0].Function.Name)
}

func TestOpenAI_GenerateText(t *testing.T) {
	o := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "Hello."}}},
		})
	})
	resp, err := o.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.False(t, resp.WantsTools())
	assert.Equal(t, "Hello.", resp.Text)

	_, err = o.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyConversation)
}

func TestOpenAI_GenerateServerError(t *testing.T) {
	o := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	})
	_, err := o.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.Error(t, err)
}

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	o := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.EmbeddingResponse{
			Data: []openai.Embedding{
				{Index: 1, Embedding: []float32{0, 1}},
				{Index: 0, Embedding: []float32{1, 0}},
			},
		})
	})
	e := o.Embedder()
	assert.Equal(t, DefaultOpenAIEmbeddingModel, e.ModelName())

	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)

	empty, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	_, err := NewOpenAI("", "", "", "")
	assert.Error(t, err)
}
