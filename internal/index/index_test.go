package index

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursebot/courserag/internal/embedding"
	"github.com/coursebot/courserag/internal/store"
	"github.com/coursebot/courserag/internal/utils"
)

// keywordEmbedder counts a few keywords so that tests control similarity exactly.
type keywordEmbedder struct {
	failBatch bool
}

var keywords = []string{"alpha", "beta", "gamma"}

func (keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(keywords)+1)
	for _, w := range utils.Words(text) {
		for n, k := range keywords {
			if w == k {
				vec[n]++
			}
		}
	}
	vec[len(keywords)] = 0.01
	return vec, nil
}

func (e keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.failBatch {
		return nil, errors.New("embedding service unavailable")
	}
	out := make([][]float32, len(texts))
	for n, t := range texts {
		out[n], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (keywordEmbedder) ModelName() string { return "keywords" }

func course(title string, lessons ...store.Lesson) store.Course {
	return store.Course{Title: title, Link: "https://example.com/" + strings.ReplaceAll(title, " ", "-"), Lessons: lessons}
}

func chunks(title string, lesson int, texts ...string) []store.CourseChunk {
	out := make([]store.CourseChunk, len(texts))
	for n, t := range texts {
		out[n] = store.CourseChunk{Content: t, CourseTitle: title, LessonNumber: lesson, ChunkIndex: n}
	}
	return out
}

func newIndex(t *testing.T) *Index {
	t.Helper()
	return New(store.NewMemoryStore(), keywordEmbedder{})
}

func TestSearch_EmptyCollectionReturnsEmptySlice(t *testing.T) {
	idx := newIndex(t)
	res, err := idx.Search(context.Background(), "alpha", store.ChunkFilter{}, 5)
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Empty(t, res)
}

func TestSearch_RanksByScoreThenChunkIndex(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	require.NoError(t, idx.IndexCourse(ctx, course("Alpha Course"), chunks("Alpha Course", 1,
		"beta notes", "alpha alpha", "beta again", "alpha alpha", "gamma",
	)))

	res, err := idx.Search(ctx, "alpha", store.ChunkFilter{}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, 1, res[0].Chunk.ChunkIndex)
	assert.Equal(t, 3, res[1].Chunk.ChunkIndex)
	for n := 1; n < len(res); n++ {
		assert.GreaterOrEqual(t, res[n-1].Score, res[n].Score)
	}
}

func TestSearch_RespectsTopKAndDefault(t *testing.T) {
	ctx := context.Background()
	idx := New(store.NewMemoryStore(), keywordEmbedder{}, WithTopK(2))
	require.NoError(t, idx.IndexCourse(ctx, course("Alpha Course"), chunks("Alpha Course", 1, "a", "b", "c", "d")))

	res, err := idx.Search(ctx, "alpha", store.ChunkFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, res, 2)

	res, err = idx.Search(ctx, "alpha", store.ChunkFilter{}, 10)
	require.NoError(t, err)
	assert.Len(t, res, 4)
}

func TestSearch_AppliesFilter(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	alpha := append(chunks("Alpha Course", 1, "alpha one"), store.CourseChunk{
		Content: "alpha two", CourseTitle: "Alpha Course", LessonNumber: 2, ChunkIndex: 1,
	})
	require.NoError(t, idx.IndexCourse(ctx, course("Alpha Course"), alpha))
	require.NoError(t, idx.IndexCourse(ctx, course("Beta Course"), chunks("Beta Course", 1, "alpha elsewhere")))

	two := 2
	res, err := idx.Search(ctx, "alpha", store.ChunkFilter{CourseTitle: "Alpha Course", LessonNumber: &two}, 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "alpha two", res[0].Chunk.Content)

	res, err = idx.Search(ctx, "alpha", store.ChunkFilter{CourseTitle: "Beta Course"}, 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Beta Course", res[0].Chunk.CourseTitle)
}

func TestIndexCourse_EmbeddingFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	idx := New(s, keywordEmbedder{failBatch: true})

	err := idx.IndexCourse(ctx, course("Alpha Course"), chunks("Alpha Course", 1, "text"))
	require.Error(t, err)

	titles, err := s.ListCourses(ctx)
	require.NoError(t, err)
	assert.Empty(t, titles)
}

func TestResolveCourse(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	for _, title := range []string{"Alpha Intro", "Alpha Advanced", "Beta Course"} {
		require.NoError(t, idx.UpsertCourse(ctx, course(title, store.Lesson{Number: 1, Title: "Overview"})))
	}

	tests := []struct {
		name       string
		fragment   string
		status     ResolveStatus
		title      string
		candidates []string
	}{
		{"exact case-insensitive", "beta course", Resolved, "Beta Course", nil},
		{"semantic match", "the beta one", Resolved, "Beta Course", nil},
		{"below threshold", "gamma", NotFound, "", nil},
		{"blank", "  ", NotFound, "", nil},
		{"tie broken lexically", "advanced alpha course", Resolved, "Alpha Advanced", nil},
		{"tie left ambiguous", "alpha", Ambiguous, "", []string{"Alpha Advanced", "Alpha Intro"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := idx.ResolveCourse(ctx, tt.fragment)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.title, res.Title)
			assert.Equal(t, tt.candidates, res.Candidates)
		})
	}
}

func TestResolveCourse_TieMargin(t *testing.T) {
	ctx := context.Background()
	vectors := store.NewMemoryStore()
	seed := New(vectors, keywordEmbedder{})
	require.NoError(t, seed.UpsertCourse(ctx, course("Alpha")))
	require.NoError(t, seed.UpsertCourse(ctx, course("Alpha Beta")))

	// Cosine prefers "Alpha" by about 0.05; lexical overlap prefers "Alpha Beta".
	const fragment = "alpha alpha alpha beta"

	res, err := seed.ResolveCourse(ctx, fragment)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", res.Title)

	wide := New(vectors, keywordEmbedder{}, WithTieMargin(0.1))
	res, err = wide.ResolveCourse(ctx, fragment)
	require.NoError(t, err)
	assert.Equal(t, Resolution{Status: Resolved, Title: "Alpha Beta"}, res)
}

func TestResolveCourse_EmptyCatalog(t *testing.T) {
	res, err := newIndex(t).ResolveCourse(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Status)
}

func TestCatalogAndLinks(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)

	cat, err := idx.Catalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, Catalog{TotalCourses: 0, CourseTitles: []string{}}, cat)

	require.NoError(t, idx.UpsertCourse(ctx, course("Beta Course")))
	require.NoError(t, idx.UpsertCourse(ctx, course("Alpha Course",
		store.Lesson{Number: 1, Title: "Basics", Link: "https://example.com/alpha/1"},
	)))

	cat, err = idx.Catalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cat.TotalCourses)
	assert.Equal(t, []string{"Alpha Course", "Beta Course"}, cat.CourseTitles)

	link, err := idx.LessonLink(ctx, "Alpha Course", 1)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/alpha/1", link)

	link, err = idx.LessonLink(ctx, "Alpha Course", 9)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/Alpha-Course", link)

	link, err = idx.LessonLink(ctx, "Beta Course", 1)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/Beta-Course", link)

	link, err = idx.LessonLink(ctx, "Missing", 1)
	require.NoError(t, err)
	assert.Empty(t, link)

	ok, err := idx.HasCourse(ctx, "Missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndex_EmbedderDimensionChange(t *testing.T) {
	ctx := context.Background()
	vectors := store.NewMemoryStore()
	old := New(vectors, embedding.NewHashingEmbedder(8))
	intro := course("Intro to X", store.Lesson{Number: 1, Title: "Basics"})
	require.NoError(t, old.IndexCourse(ctx, intro, chunks(intro.Title, 1, "basics of x")))
	require.NoError(t, old.CheckDimension(ctx))

	idx := New(vectors, embedding.NewHashingEmbedder(16))
	assert.ErrorIs(t, idx.CheckDimension(ctx), store.ErrDimensionMismatch)

	_, err := idx.Search(ctx, "basics", store.ChunkFilter{}, 0)
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)
	_, err = idx.ResolveCourse(ctx, "intro")
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)

	// Re-indexing the only course moves the index to the new size.
	require.NoError(t, idx.IndexCourse(ctx, intro, chunks(intro.Title, 1, "basics of x")))
	require.NoError(t, idx.CheckDimension(ctx))
	results, err := idx.Search(ctx, "basics", store.ChunkFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestIndex_Reset(t *testing.T) {
	ctx := context.Background()
	idx := New(store.NewMemoryStore(), keywordEmbedder{})
	require.NoError(t, idx.IndexCourse(ctx, course("Alpha Course"), chunks("Alpha Course", 1, "alpha")))

	require.NoError(t, idx.Reset(ctx))
	cat, err := idx.Catalog(ctx)
	require.NoError(t, err)
	assert.Zero(t, cat.TotalCourses)
	require.NoError(t, idx.CheckDimension(ctx))
}
