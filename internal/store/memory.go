package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps both collections in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	catalog   map[string]CourseRecord
	content   map[string]map[int]ChunkRecord // course title -> chunk index -> record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		catalog: make(map[string]CourseRecord),
		content: make(map[string]map[int]ChunkRecord),
	}
}

func (s *MemoryStore) UpsertCourse(_ context.Context, rec CourseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dim, err := checkDimension(s.dimension, rec.Embedding)
	if err != nil {
		return err
	}
	s.dimension = dim
	s.catalog[rec.Course.Title] = cloneCourseRecord(rec)
	return nil
}

func (s *MemoryStore) UpsertChunks(_ context.Context, recs []ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dim, err := checkDimension(s.dimension, chunkVectors(recs)...)
	if err != nil {
		return err
	}
	s.dimension = dim
	s.putChunks(recs)
	return nil
}

func (s *MemoryStore) ReplaceCourse(_ context.Context, rec CourseRecord, chunks []ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vectors := append([][]float32{rec.Embedding}, chunkVectors(chunks)...)
	dim, err := checkDimension(s.dimensionExcept(rec.Course.Title), vectors...)
	if err != nil {
		return err
	}
	s.dimension = dim
	s.catalog[rec.Course.Title] = cloneCourseRecord(rec)
	delete(s.content, rec.Course.Title)
	s.putChunks(chunks)
	return nil
}

func (s *MemoryStore) putChunks(recs []ChunkRecord) {
	for _, r := range recs {
		byIndex, ok := s.content[r.Chunk.CourseTitle]
		if !ok {
			byIndex = make(map[int]ChunkRecord)
			s.content[r.Chunk.CourseTitle] = byIndex
		}
		byIndex[r.Chunk.ChunkIndex] = ChunkRecord{Chunk: r.Chunk, Embedding: append([]float32(nil), r.Embedding...)}
	}
}

func (s *MemoryStore) GetCourse(_ context.Context, title string) (*Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.catalog[title]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneCourseRecord(rec).Course
	return &c, nil
}

func (s *MemoryStore) ListCourses(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	titles := make([]string, 0, len(s.catalog))
	for t := range s.catalog {
		titles = append(titles, t)
	}
	sort.Strings(titles)
	return titles, nil
}

func (s *MemoryStore) CatalogRecords(_ context.Context) ([]CourseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CourseRecord, 0, len(s.catalog))
	for _, rec := range s.catalog {
		out = append(out, cloneCourseRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Course.Title < out[j].Course.Title })
	return out, nil
}

func (s *MemoryStore) ContentRecords(_ context.Context, filter ChunkFilter) ([]ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ChunkRecord
	for title, byIndex := range s.content {
		if filter.CourseTitle != "" && title != filter.CourseTitle {
			continue
		}
		for _, r := range byIndex {
			if filter.Matches(r.Chunk) {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Chunk.CourseTitle != out[j].Chunk.CourseTitle {
			return out[i].Chunk.CourseTitle < out[j].Chunk.CourseTitle
		}
		return out[i].Chunk.ChunkIndex < out[j].Chunk.ChunkIndex
	})
	return out, nil
}

func (s *MemoryStore) Dimension(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension, nil
}

// dimensionExcept is the dimension of the records not belonging to title.
func (s *MemoryStore) dimensionExcept(title string) int {
	for t, rec := range s.catalog {
		if t != title {
			return len(rec.Embedding)
		}
	}
	for t, byIndex := range s.content {
		if t == title {
			continue
		}
		for _, r := range byIndex {
			return len(r.Embedding)
		}
	}
	return 0
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = 0
	s.catalog = make(map[string]CourseRecord)
	s.content = make(map[string]map[int]ChunkRecord)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func chunkVectors(recs []ChunkRecord) [][]float32 {
	vs := make([][]float32, len(recs))
	for i, r := range recs {
		vs[i] = r.Embedding
	}
	return vs
}

func cloneCourseRecord(rec CourseRecord) CourseRecord {
	rec.Course.Lessons = append([]Lesson(nil), rec.Course.Lessons...)
	rec.Embedding = append([]float32(nil), rec.Embedding...)
	return rec
}
