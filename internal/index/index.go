// Package index implements semantic search over the two course collections:
// the catalog (one record per course, used to resolve course names) and the
// content (one record per chunk).
package index

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/coursebot/courserag/internal/embedding"
	"github.com/coursebot/courserag/internal/store"
	"github.com/coursebot/courserag/internal/utils"
)

const (
	DefaultMatchThreshold = 0.35
	DefaultTieMargin      = 0.02
	DefaultTopK           = 5
)

// SearchResult is a ranked content hit.
type SearchResult struct {
	Chunk store.CourseChunk
	Score float32
}

// Catalog summarises the indexed courses.
type Catalog struct {
	TotalCourses int      `json:"total_courses"`
	CourseTitles []string `json:"course_titles"`
}

type Index struct {
	store     store.VectorStore
	embedder  embedding.Embedder
	threshold float32
	tieMargin float32
	topK      int
}

type Option func(*Index)

// WithMatchThreshold sets the minimum catalog similarity needed to resolve a course.
func WithMatchThreshold(t float32) Option { return func(i *Index) { i.threshold = t } }

// WithTieMargin sets how close two catalog scores must be to count as a tie.
func WithTieMargin(m float32) Option { return func(i *Index) { i.tieMargin = m } }

// WithTopK sets the default number of search results.
func WithTopK(k int) Option { return func(i *Index) { i.topK = k } }

func New(s store.VectorStore, e embedding.Embedder, opts ...Option) *Index {
	idx := &Index{
		store:     s,
		embedder:  e,
		threshold: DefaultMatchThreshold,
		tieMargin: DefaultTieMargin,
		topK:      DefaultTopK,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// CatalogText is the text embedded for a course's catalog record.
func CatalogText(c store.Course) string {
	var b strings.Builder
	b.WriteString(c.Title)
	if c.Instructor != "" {
		b.WriteString("\nInstructor: ")
		b.WriteString(c.Instructor)
	}
	for _, l := range c.Lessons {
		fmt.Fprintf(&b, "\nLesson %d: %s", l.Number, l.Title)
	}
	return b.String()
}

func (i *Index) UpsertCourse(ctx context.Context, c store.Course) error {
	vec, err := i.embedder.Embed(ctx, CatalogText(c))
	if err != nil {
		return fmt.Errorf("failed to embed course %q: %w", c.Title, err)
	}
	return i.store.UpsertCourse(ctx, store.CourseRecord{Course: c, Embedding: vec})
}

func (i *Index) UpsertChunks(ctx context.Context, chunks []store.CourseChunk) error {
	recs, err := i.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}
	return i.store.UpsertChunks(ctx, recs)
}

// IndexCourse embeds the course and all its chunks, then replaces whatever was
// stored for the course in one step. Nothing is written if any embedding fails.
func (i *Index) IndexCourse(ctx context.Context, c store.Course, chunks []store.CourseChunk) error {
	vec, err := i.embedder.Embed(ctx, CatalogText(c))
	if err != nil {
		return fmt.Errorf("failed to embed course %q: %w", c.Title, err)
	}
	recs, err := i.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}
	return i.store.ReplaceCourse(ctx, store.CourseRecord{Course: c, Embedding: vec}, recs)
}

func (i *Index) embedChunks(ctx context.Context, chunks []store.CourseChunk) ([]store.ChunkRecord, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for n, c := range chunks {
		texts[n] = c.Content
	}
	vecs, err := i.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %d chunks: %w", len(chunks), err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}
	recs := make([]store.ChunkRecord, len(chunks))
	for n, c := range chunks {
		recs[n] = store.ChunkRecord{Chunk: c, Embedding: vecs[n]}
	}
	return recs, nil
}

func (i *Index) HasCourse(ctx context.Context, title string) (bool, error) {
	_, err := i.store.GetCourse(ctx, title)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (i *Index) Course(ctx context.Context, title string) (*store.Course, error) {
	return i.store.GetCourse(ctx, title)
}

// LessonLink returns the link of one lesson, falling back to the course link
// when the lesson has none. Unknown courses yield "".
func (i *Index) LessonLink(ctx context.Context, title string, lesson int) (string, error) {
	c, err := i.store.GetCourse(ctx, title)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if l, ok := c.Lesson(lesson); ok && l.Link != "" {
		return l.Link, nil
	}
	return c.Link, nil
}

// CheckDimension returns store.ErrDimensionMismatch when the embedder no
// longer produces vectors of the stored size. An empty index always passes.
func (i *Index) CheckDimension(ctx context.Context) error {
	dim, err := i.store.Dimension(ctx)
	if err != nil || dim == 0 {
		return err
	}
	_, err = i.queryVector(ctx, "dimension check")
	return err
}

// Reset drops every indexed course.
func (i *Index) Reset(ctx context.Context) error {
	return i.store.Clear(ctx)
}

// queryVector embeds text for comparison against stored vectors.
func (i *Index) queryVector(ctx context.Context, text string) ([]float32, error) {
	vec, err := i.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	dim, err := i.store.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim != 0 && len(vec) != dim {
		return nil, fmt.Errorf("%w: %s produces %d dimensions, index holds %d; re-ingest the courses",
			store.ErrDimensionMismatch, i.embedder.ModelName(), len(vec), dim)
	}
	return vec, nil
}

func (i *Index) Catalog(ctx context.Context) (Catalog, error) {
	titles, err := i.store.ListCourses(ctx)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to list courses: %w", err)
	}
	if titles == nil {
		titles = []string{}
	}
	return Catalog{TotalCourses: len(titles), CourseTitles: titles}, nil
}

// Search ranks content chunks by similarity to query. Results are ordered by
// descending score, then ascending chunk index. topK <= 0 uses the default.
func (i *Index) Search(ctx context.Context, query string, filter store.ChunkFilter, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = i.topK
	}
	recs, err := i.store.ContentRecords(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load content records: %w", err)
	}
	results := []SearchResult{}
	if len(recs) == 0 {
		return results, nil
	}

	qvec, err := i.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}

	for _, r := range recs {
		score, err := utils.CosineSimilarity(qvec, r.Embedding)
		if err != nil {
			log.Printf("Skipping chunk %s#%d: %v", r.Chunk.CourseTitle, r.Chunk.ChunkIndex, err)
			continue
		}
		results = append(results, SearchResult{Chunk: r.Chunk, Score: score})
	}

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].Chunk.ChunkIndex < results[b].Chunk.ChunkIndex
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
