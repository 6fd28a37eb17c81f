// Package tools exposes retrieval capabilities to the generation model as
// named, schema-described tools.
package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/coursebot/courserag/internal/llm"
)

// Source is a citation attached to a tool result.
type Source struct {
	CourseTitle  string `json:"course_title"`
	LessonNumber *int   `json:"lesson_number,omitempty"`
	LessonLink   string `json:"lesson_link,omitempty"`
}

// Key identifies the (course, lesson) pair a source points to.
func (s Source) Key() string {
	if s.LessonNumber == nil {
		return s.CourseTitle + "\x00"
	}
	return fmt.Sprintf("%s\x00%d", s.CourseTitle, *s.LessonNumber)
}

// Result is what a tool hands back to the model. IsError results are shown
// to the model as failures it can react to.
type Result struct {
	Content string
	Sources []Source
	IsError bool
}

// Tool is one capability the model can call. Execute returns an error only for
// failures worth retrying (index or embedding unavailable); bad arguments and
// unknown courses come back as results.
type Tool interface {
	Name() string
	Spec() llm.ToolSpec
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Registry dispatches tool calls by name.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Specs lists the tool descriptions sorted by name.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return Result{Content: fmt.Sprintf("Tool '%s' not found", name), IsError: true}, nil
	}
	if args == nil {
		args = map[string]any{}
	}
	return t.Execute(ctx, args)
}
