package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coursebot/courserag/internal/llm"
	"github.com/coursebot/courserag/internal/store"
)

// OutlineTool returns a course's title, link and lesson list.
type OutlineTool struct {
	index CourseIndex
}

func NewOutlineTool(idx CourseIndex) *OutlineTool {
	return &OutlineTool{index: idx}
}

func (t *OutlineTool) Name() string { return OutlineToolName }

func (t *OutlineTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        OutlineToolName,
		Description: "Get the outline of a course: its title, link and the numbered list of lessons",
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"course_name": {
					Type:        "string",
					Description: "Course title (partial matches work)",
				},
			},
			Required: []string{"course_name"},
		},
	}
}

func (t *OutlineTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	name := stringArg(args, "course_name")
	if name == "" {
		return Result{Content: "The 'course_name' argument is required.", IsError: true}, nil
	}
	title, miss, err := resolveCourse(ctx, t.index, name)
	if err != nil {
		return Result{}, err
	}
	if miss != "" {
		return Result{Content: miss}, nil
	}

	c, err := t.index.Course(ctx, title)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Content: fmt.Sprintf("No course found matching '%s'", name)}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to load course %q: %w", title, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Course Title: %s\n", c.Title)
	if c.Link != "" {
		fmt.Fprintf(&b, "Course Link: %s\n", c.Link)
	}
	if c.Instructor != "" {
		fmt.Fprintf(&b, "Instructor: %s\n", c.Instructor)
	}
	fmt.Fprintf(&b, "Lessons (%d):", len(c.Lessons))
	for _, l := range c.Lessons {
		fmt.Fprintf(&b, "\nLesson %d: %s", l.Number, l.Title)
	}
	return Result{
		Content: b.String(),
		Sources: []Source{{CourseTitle: c.Title, LessonLink: c.Link}},
	}, nil
}
