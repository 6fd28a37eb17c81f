// Package chunker splits lesson text into overlapping token windows.
//
// A token is a maximal run of non-whitespace characters. Chunk content is the
// source slice from the first to the last token of the window, so interior
// whitespace is preserved.
package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/coursebot/courserag/internal/store"
)

// DefaultChunkSize is the default number of tokens per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of tokens shared by consecutive chunks.
const DefaultChunkOverlap = 200

var ErrInvalidConfig = errors.New("invalid chunker configuration")

var tokenPattern = regexp.MustCompile(`\S+`)

// Chunker produces CourseChunks from lesson text.
type Chunker struct {
	chunkSize    int
	overlap      int
	snapSentence bool
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the window size in tokens.
func WithChunkSize(size int) Option {
	return func(c *Chunker) { c.chunkSize = size }
}

// WithOverlap sets the overlap between windows in tokens.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) { c.overlap = overlap }
}

// WithSentenceSnap toggles moving window ends back to a sentence boundary.
func WithSentenceSnap(enabled bool) Option {
	return func(c *Chunker) { c.snapSentence = enabled }
}

// New creates a chunker. Overlap must be smaller than the chunk size.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		chunkSize:    DefaultChunkSize,
		overlap:      DefaultChunkOverlap,
		snapSentence: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidConfig, c.chunkSize)
	}
	if c.overlap < 0 || c.overlap >= c.chunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, c.overlap, c.chunkSize)
	}
	return c, nil
}

func (c *Chunker) ChunkSize() int { return c.chunkSize }
func (c *Chunker) Overlap() int   { return c.overlap }

// Window is a half-open token range [Start, End).
type Window struct {
	Start, End int
}

// Windows computes the token windows for a stream of n tokens. isSentenceEnd
// may be nil when snapping is disabled.
func (c *Chunker) Windows(n int, isSentenceEnd func(i int) bool) []Window {
	if n == 0 {
		return nil
	}
	var windows []Window
	start := 0
	for {
		end := start + c.chunkSize
		if end >= n {
			windows = append(windows, Window{Start: start, End: n})
			return windows
		}
		if c.snapSentence && isSentenceEnd != nil {
			// Keep the window longer than the overlap so the next start advances.
			for j := end - 1; j > start+c.overlap; j-- {
				if isSentenceEnd(j) {
					end = j + 1
					break
				}
			}
		}
		windows = append(windows, Window{Start: start, End: end})
		start = end - c.overlap
	}
}

// Chunk splits one lesson's text. Chunk indexes start at firstIndex so that
// callers can keep them sequential across a whole course.
func (c *Chunker) Chunk(text, courseTitle string, lessonNumber, firstIndex int) []store.CourseChunk {
	spans := tokenPattern.FindAllStringIndex(text, -1)
	windows := c.Windows(len(spans), func(i int) bool {
		return endsSentence(text[spans[i][0]:spans[i][1]])
	})

	chunks := make([]store.CourseChunk, 0, len(windows))
	for i, w := range windows {
		chunks = append(chunks, store.CourseChunk{
			Content:      text[spans[w.Start][0]:spans[w.End-1][1]],
			CourseTitle:  courseTitle,
			LessonNumber: lessonNumber,
			ChunkIndex:   firstIndex + i,
		})
	}
	return chunks
}

// Tokens returns the token stream of text.
func Tokens(text string) []string {
	return tokenPattern.FindAllString(text, -1)
}

func endsSentence(token string) bool {
	token = strings.TrimRight(token, `"')]}`+"”’")
	if token == "" {
		return false
	}
	switch token[len(token)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
