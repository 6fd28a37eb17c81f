// Package llm holds the provider-neutral conversation types used by the
// generation loop, together with the Gemini and OpenAI adapters.
package llm

import (
	"context"
	"errors"
)

var ErrEmptyConversation = errors.New("conversation has no messages")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool messages carry the results of the preceding assistant tool calls.
	RoleTool Role = "tool"
)

// Schema is the JSON-schema subset used to describe tool parameters.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
}

// ToolSpec describes a callable tool to the model.
type ToolSpec struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *Schema `json:"parameters"`
}

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult answers one ToolCall.
type ToolResult struct {
	CallID  string `json:"call_id,omitempty"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall   // RoleAssistant only
	ToolResults []ToolResult // RoleTool only
}

type Request struct {
	System   string
	Tools    []ToolSpec
	Messages []Message
}

// Response is either final text or a set of tool calls.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

func (r *Response) WantsTools() bool { return len(r.ToolCalls) > 0 }

// Provider is a generation model that supports tool calling.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	ModelName() string
}
