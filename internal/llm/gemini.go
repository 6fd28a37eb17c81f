package llm

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	DefaultGeminiChatModel      = "gemini-1.5-flash-latest"
	DefaultGeminiEmbeddingModel = "text-embedding-004"

	// The embedding API accepts at most 100 contents per batch request.
	geminiMaxBatch = 100
)

// Gemini serves both generation and embeddings through one genai client.
type Gemini struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
	temperature    float32
	maxTokens      int32
}

func NewGemini(ctx context.Context, apiKey, chatModel, embeddingModel string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if chatModel == "" {
		chatModel = DefaultGeminiChatModel
	}
	if embeddingModel == "" {
		embeddingModel = DefaultGeminiEmbeddingModel
	}
	return &Gemini{
		client:         client,
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		temperature:    0,
		maxTokens:      800,
	}, nil
}

func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("failed to close GenAI client: %w", err)
	}
	log.Println("GenAI client closed.")
	return nil
}

func (g *Gemini) ModelName() string { return g.chatModel }

func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	contents := geminiContents(req.Messages)
	if len(contents) == 0 {
		return nil, ErrEmptyConversation
	}
	last := contents[len(contents)-1]
	if last.Role != "user" {
		return nil, fmt.Errorf("last message in conversation is %q, expected a user turn", last.Role)
	}

	model := g.client.GenerativeModel(g.chatModel)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	temp := g.temperature
	maxTokens := g.maxTokens
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     &temp,
		MaxOutputTokens: &maxTokens,
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  geminiSchema(t.Parameters),
			})
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	chatSession := model.StartChat()
	chatSession.History = contents[:len(contents)-1]

	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}

	out := &Response{}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		log.Println("Gemini response was empty or had no valid candidates.")
		return out, nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, ToolCall{Name: p.Name, Args: p.Args})
		case *genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, ToolCall{Name: p.Name, Args: p.Args})
		default:
			log.Printf("Gemini response part ignored: %T", part)
		}
	}
	out.Text = text.String()
	return out, nil
}

func geminiContents(msgs []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		case RoleAssistant:
			var parts []genai.Part
			if m.Content != "" {
				parts = append(parts, genai.Text(m.Content))
			}
			for _, c := range m.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: c.Name, Args: c.Args})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case RoleTool:
			parts := make([]genai.Part, 0, len(m.ToolResults))
			for _, r := range m.ToolResults {
				parts = append(parts, genai.FunctionResponse{
					Name:     r.Name,
					Response: map[string]any{"content": r.Content, "is_error": r.IsError},
				})
			}
			contents = append(contents, &genai.Content{Role: "user", Parts: parts})
		}
	}
	return contents
}

func geminiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Items:       geminiSchema(s.Items),
	}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = geminiSchema(p)
		}
	}
	return out
}

// GeminiEmbedder exposes the embedding side of a Gemini client.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

func (g *Gemini) Embedder() *GeminiEmbedder {
	return &GeminiEmbedder{client: g.client, model: g.embeddingModel}
}

func (e *GeminiEmbedder) ModelName() string { return e.model }

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiMaxBatch {
		end := min(start+geminiMaxBatch, len(texts))
		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("gemini batch embedding request failed: %w", err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(res.Embeddings), end-start)
		}
		for _, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("no embedding data received from gemini")
			}
			out = append(out, emb.Values)
		}
	}
	return out, nil
}
