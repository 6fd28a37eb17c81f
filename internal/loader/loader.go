// Package loader parses course documents.
//
// A document starts with three header lines (course title, course link, course
// instructor), optionally prefixed with "Course Title:", "Course Link:" and
// "Course Instructor:". Lesson sections follow, each opened by a
// "Lesson <n>: <title>" marker and optionally a "Lesson Link: <url>" line.
package loader

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/coursebot/courserag/internal/store"
)

var (
	ErrMalformedHeader = errors.New("malformed course header")
	ErrNoLessons       = errors.New("no lesson markers found")
	ErrDuplicateLesson = errors.New("duplicate lesson number")
)

var lessonMarker = regexp.MustCompile(`^Lesson\s+(\d+)\s*:\s*(.*)$`)

// Document is a parsed course file: its catalog data plus the body text of each lesson.
type Document struct {
	Path   string
	Course store.Course
	// Bodies maps lesson number to lesson text.
	Bodies map[int]string
}

// Parse reads one course document.
func Parse(path, content string) (*Document, error) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var header []string
	for len(header) < 3 && scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		header = append(header, line)
	}
	if len(header) < 3 {
		return nil, fmt.Errorf("%w: expected 3 header lines, got %d", ErrMalformedHeader, len(header))
	}

	for _, line := range header {
		if lessonMarker.MatchString(line) {
			return nil, fmt.Errorf("%w: lesson marker inside header", ErrMalformedHeader)
		}
	}
	title := headerValue(header[0], "Course Title:")
	if title == "" {
		return nil, fmt.Errorf("%w: missing course title", ErrMalformedHeader)
	}
	link := headerValue(header[1], "Course Link:")
	instructor := headerValue(header[2], "Course Instructor:")

	doc := &Document{
		Path:   path,
		Course: store.Course{Title: title, Link: link, Instructor: instructor},
		Bodies: make(map[int]string),
	}

	var (
		current    *store.Lesson
		body       strings.Builder
		expectLink bool
	)
	flush := func() {
		if current == nil {
			return
		}
		doc.Course.Lessons = append(doc.Course.Lessons, *current)
		doc.Bodies[current.Number] = strings.TrimSpace(body.String())
		body.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if m := lessonMarker.FindStringSubmatch(trimmed); m != nil {
			flush()
			number, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("invalid lesson number %q: %w", m[1], err)
			}
			if _, seen := doc.Bodies[number]; seen {
				return nil, fmt.Errorf("%w: %d", ErrDuplicateLesson, number)
			}
			current = &store.Lesson{Number: number, Title: strings.TrimSpace(m[2])}
			expectLink = true
			continue
		}
		if current == nil {
			// Text between the header and the first lesson is not part of any lesson.
			continue
		}
		if expectLink && trimmed != "" {
			expectLink = false
			if hasLabel(trimmed, "Lesson Link:") {
				current.Link = headerValue(trimmed, "Lesson Link:")
				continue
			}
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", path, err)
	}
	flush()

	if len(doc.Course.Lessons) == 0 {
		return nil, ErrNoLessons
	}
	return doc, nil
}

func hasLabel(line, label string) bool {
	return len(line) >= len(label) && strings.EqualFold(line[:len(label)], label)
}

// headerValue strips an optional case-insensitive label from a header line.
func headerValue(line, label string) string {
	if hasLabel(line, label) {
		return strings.TrimSpace(line[len(label):])
	}
	return strings.TrimSpace(line)
}

// ParseFile reads and parses a course file from disk.
func ParseFile(path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(path, string(content))
}

// ListFiles returns the course files under dir, sorted by path.
func ListFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}
