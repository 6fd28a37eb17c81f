package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmptyEmbedding    = errors.New("empty embedding")
)

// VectorStore persists the two collections: catalog (one record per course)
// and content (one record per chunk). Similarity scoring is done by callers
// over the returned embeddings.
type VectorStore interface {
	UpsertCourse(ctx context.Context, rec CourseRecord) error
	UpsertChunks(ctx context.Context, recs []ChunkRecord) error
	// ReplaceCourse writes the catalog record and swaps the course's content
	// records for the given ones atomically. Only the other courses' vectors
	// constrain the dimension, so a lone course can be re-embedded with a new model.
	ReplaceCourse(ctx context.Context, rec CourseRecord, chunks []ChunkRecord) error
	GetCourse(ctx context.Context, title string) (*Course, error)
	ListCourses(ctx context.Context) ([]string, error)
	CatalogRecords(ctx context.Context) ([]CourseRecord, error)
	ContentRecords(ctx context.Context, filter ChunkFilter) ([]ChunkRecord, error)
	// Dimension is the shared embedding size, or 0 while both collections are empty.
	Dimension(ctx context.Context) (int, error)
	// Clear empties both collections.
	Clear(ctx context.Context) error
	Close() error
}

func checkDimension(current int, vectors ...[]float32) (int, error) {
	dim := current
	for _, v := range vectors {
		if len(v) == 0 {
			return 0, ErrEmptyEmbedding
		}
		if dim == 0 {
			dim = len(v)
			continue
		}
		if len(v) != dim {
			return 0, ErrDimensionMismatch
		}
	}
	return dim, nil
}
