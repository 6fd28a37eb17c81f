package tools

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/coursebot/courserag/internal/index"
	"github.com/coursebot/courserag/internal/llm"
	"github.com/coursebot/courserag/internal/store"
)

const (
	SearchToolName  = "search_course_content"
	OutlineToolName = "get_course_outline"
)

// CourseIndex is the part of the index the tools read from.
type CourseIndex interface {
	HasCourse(ctx context.Context, title string) (bool, error)
	ResolveCourse(ctx context.Context, fragment string) (index.Resolution, error)
	Search(ctx context.Context, query string, filter store.ChunkFilter, topK int) ([]index.SearchResult, error)
	Course(ctx context.Context, title string) (*store.Course, error)
	LessonLink(ctx context.Context, title string, lesson int) (string, error)
}

// SearchTool looks up course content, optionally scoped to a course and lesson.
type SearchTool struct {
	index CourseIndex
	topK  int
}

func NewSearchTool(idx CourseIndex, topK int) *SearchTool {
	return &SearchTool{index: idx, topK: topK}
}

func (t *SearchTool) Name() string { return SearchToolName }

func (t *SearchTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        SearchToolName,
		Description: "Search course materials with smart course name matching and lesson filtering",
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"query": {
					Type:        "string",
					Description: "What to search for in the course content",
				},
				"course_name": {
					Type:        "string",
					Description: "Course title (partial matches work, e.g. 'MCP', 'Introduction')",
				},
				"lesson_number": {
					Type:        "integer",
					Description: "Specific lesson number to search within (e.g. 1, 2, 3)",
				},
			},
			Required: []string{"query"},
		},
	}
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	query := stringArg(args, "query")
	if query == "" {
		return Result{Content: "The 'query' argument is required.", IsError: true}, nil
	}
	courseName := stringArg(args, "course_name")
	lesson, err := intArg(args, "lesson_number")
	if err != nil {
		return Result{Content: err.Error(), IsError: true}, nil
	}

	filter := store.ChunkFilter{LessonNumber: lesson}
	if courseName != "" {
		title, miss, err := resolveCourse(ctx, t.index, courseName)
		if err != nil {
			return Result{}, err
		}
		if miss != "" {
			return Result{Content: miss}, nil
		}
		filter.CourseTitle = title
	}

	results, err := t.index.Search(ctx, query, filter, t.topK)
	if err != nil {
		return Result{}, fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		return Result{Content: emptyMessage(courseName, lesson)}, nil
	}
	return t.format(ctx, results), nil
}

func (t *SearchTool) format(ctx context.Context, results []index.SearchResult) Result {
	var out Result
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		ch := r.Chunk
		blocks = append(blocks, fmt.Sprintf("[%s - Lesson %d]\n%s", ch.CourseTitle, ch.LessonNumber, ch.Content))

		lesson := ch.LessonNumber
		link, err := t.index.LessonLink(ctx, ch.CourseTitle, lesson)
		if err != nil {
			log.Printf("Could not look up link for %s lesson %d: %v", ch.CourseTitle, lesson, err)
		}
		out.Sources = append(out.Sources, Source{CourseTitle: ch.CourseTitle, LessonNumber: &lesson, LessonLink: link})
	}
	out.Content = strings.Join(blocks, "\n\n")
	return out
}

func emptyMessage(courseName string, lesson *int) string {
	var b strings.Builder
	b.WriteString("No relevant content found")
	if courseName != "" {
		fmt.Fprintf(&b, " in course '%s'", courseName)
	}
	if lesson != nil {
		fmt.Fprintf(&b, " in lesson %d", *lesson)
	}
	b.WriteString(".")
	return b.String()
}

// resolveCourse returns the catalog title for name. When no single course
// matches, title is empty and miss holds the message for the model.
func resolveCourse(ctx context.Context, idx CourseIndex, name string) (title, miss string, err error) {
	ok, err := idx.HasCourse(ctx, name)
	if err != nil {
		return "", "", fmt.Errorf("course lookup failed: %w", err)
	}
	if ok {
		return name, "", nil
	}

	res, err := idx.ResolveCourse(ctx, name)
	if err != nil {
		return "", "", fmt.Errorf("course resolution failed: %w", err)
	}
	switch res.Status {
	case index.Resolved:
		return res.Title, "", nil
	case index.Ambiguous:
		return "", fmt.Sprintf("Course name '%s' is ambiguous. Matching courses: %s. Ask which one is meant.",
			name, strings.Join(res.Candidates, ", ")), nil
	default:
		return "", fmt.Sprintf("No course found matching '%s'", name), nil
	}
}
