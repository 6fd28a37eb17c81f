package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursebot/courserag/internal/chunker"
	"github.com/coursebot/courserag/internal/embedding"
	"github.com/coursebot/courserag/internal/index"
	"github.com/coursebot/courserag/internal/loader"
	"github.com/coursebot/courserag/internal/store"
)

type brokenEmbedder struct{ embedding.Embedder }

func (brokenEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding quota exceeded")
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func courseDoc(title string, lessons ...string) string {
	var b strings.Builder
	b.WriteString("Course Title: " + title + "\nCourse Link: https://example.com\nCourse Instructor: A\n\n")
	for _, l := range lessons {
		b.WriteString(l)
		b.WriteString("\n")
	}
	return b.String()
}

func newIngest(t *testing.T, s store.VectorStore, e embedding.Embedder, opts IngestOptions) *IngestService {
	t.Helper()
	ch, err := chunker.New(chunker.WithChunkSize(10), chunker.WithOverlap(2), chunker.WithSentenceSnap(false))
	require.NoError(t, err)
	return NewIngestService(index.New(s, e), ch, opts)
}

func TestIngestDirectory_SkipsBadFilesAndContinues(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.txt":     courseDoc("Course A", "Lesson 1: One", "alpha beta gamma"),
		"b.txt":     "only one line",
		"c.md":      courseDoc("Course C"),
		"d.txt":     courseDoc("Course A", "Lesson 1: Again", "duplicate title"),
		"notes.pdf": "ignored",
	})
	s := store.NewMemoryStore()

	report, err := newIngest(t, s, embedding.NewHashingEmbedder(32), IngestOptions{Workers: 3}).
		IngestDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Files)
	assert.Equal(t, []string{"Course A"}, report.Courses)
	require.Len(t, report.Skipped, 3)

	errs := map[string]string{}
	for _, sk := range report.Skipped {
		errs[filepath.Base(sk.Path)] = sk.Err
	}
	assert.Contains(t, errs["b.txt"], loader.ErrMalformedHeader.Error())
	assert.Contains(t, errs["c.md"], loader.ErrNoLessons.Error())
	assert.Contains(t, errs, "d.txt")
	assert.Contains(t, errs["d.txt"], "already defined")
}

func TestIngestDirectory_EmbeddingFailureFailsFast(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.txt": courseDoc("Course A", "Lesson 1: One", "text"),
	})
	s := store.NewMemoryStore()

	_, err := newIngest(t, s, brokenEmbedder{embedding.NewHashingEmbedder(8)}, IngestOptions{}).
		IngestDirectory(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding quota exceeded")

	titles, err := s.ListCourses(context.Background())
	require.NoError(t, err)
	assert.Empty(t, titles)
}

func TestIngestDirectory_ReingestReplacesAndSkipExisting(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	long := strings.Repeat("word ", 30)

	dir := writeFiles(t, map[string]string{"a.txt": courseDoc("Course A", "Lesson 1: One", long)})
	_, err := newIngest(t, s, embedding.NewHashingEmbedder(16), IngestOptions{}).IngestDirectory(ctx, dir)
	require.NoError(t, err)
	before, err := s.ContentRecords(ctx, store.ChunkFilter{})
	require.NoError(t, err)
	require.Greater(t, len(before), 1)

	dir = writeFiles(t, map[string]string{"a.txt": courseDoc("Course A", "Lesson 1: One", "short now")})
	report, err := newIngest(t, s, embedding.NewHashingEmbedder(16), IngestOptions{SkipExisting: true}).IngestDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, report.Courses)

	_, err = newIngest(t, s, embedding.NewHashingEmbedder(16), IngestOptions{}).IngestDirectory(ctx, dir)
	require.NoError(t, err)
	after, err := s.ContentRecords(ctx, store.ChunkFilter{})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "short now", after[0].Chunk.Content)
}

func TestChunkDocument_IndexesRunAcrossLessons(t *testing.T) {
	doc, err := loader.Parse("x.txt", courseDoc("Course A",
		"Lesson 0: Intro", strings.Repeat("a ", 15),
		"Lesson 1: Next", strings.Repeat("b ", 15),
	))
	require.NoError(t, err)

	svc := newIngest(t, store.NewMemoryStore(), embedding.NewHashingEmbedder(8), IngestOptions{})
	chunks := svc.ChunkDocument(doc)
	require.Len(t, chunks, 4)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, "Course A", c.CourseTitle)
	}
	assert.Equal(t, 0, chunks[1].LessonNumber)
	assert.Equal(t, 1, chunks[2].LessonNumber)
}
