package core

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/coursebot/courserag/internal/chunker"
	"github.com/coursebot/courserag/internal/loader"
	"github.com/coursebot/courserag/internal/metrics"
	"github.com/coursebot/courserag/internal/store"
)

// CourseIndexer is the write side of the index used by ingestion.
type CourseIndexer interface {
	IndexCourse(ctx context.Context, c store.Course, chunks []store.CourseChunk) error
	HasCourse(ctx context.Context, title string) (bool, error)
}

type IngestOptions struct {
	Workers int
	// SkipExisting leaves courses that are already indexed untouched.
	SkipExisting bool
	Metrics      *metrics.Metrics
}

// FileError records a file that was skipped.
type FileError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

type IngestReport struct {
	Files   int         `json:"files"`
	Courses []string    `json:"courses"`
	Chunks  int         `json:"chunks"`
	Skipped []FileError `json:"skipped,omitempty"`
}

type IngestService struct {
	index   CourseIndexer
	chunker *chunker.Chunker
	opts    IngestOptions
}

func NewIngestService(idx CourseIndexer, c *chunker.Chunker, opts IngestOptions) *IngestService {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &IngestService{index: idx, chunker: c, opts: opts}
}

// IngestDirectory indexes every course file under dir. Files that cannot be
// parsed are skipped and listed in the report; when two files define the same
// course the first path in sorted order wins. An indexing failure (embedding
// provider or store unavailable) stops the run and is returned together with
// the report of what was committed so far.
func (s *IngestService) IngestDirectory(ctx context.Context, dir string) (*IngestReport, error) {
	paths, err := loader.ListFiles(dir)
	if err != nil {
		return nil, err
	}

	report := &IngestReport{Files: len(paths), Courses: []string{}}
	skip := func(path string, err error) {
		log.Printf("Skipping %s: %v", path, err)
		s.opts.Metrics.IngestedFile("skipped", 0)
		report.Skipped = append(report.Skipped, FileError{Path: path, Err: err.Error()})
	}

	var docs []*loader.Document
	claimed := make(map[string]string) // course title -> file
	for _, path := range paths {
		doc, err := loader.ParseFile(path)
		if err != nil {
			skip(path, err)
			continue
		}
		if first, dup := claimed[doc.Course.Title]; dup {
			skip(path, fmt.Errorf("course %q already defined by %s", doc.Course.Title, first))
			continue
		}
		claimed[doc.Course.Title] = path
		docs = append(docs, doc)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			n, err := s.ingest(gctx, doc)
			if err != nil || n < 0 {
				return err
			}
			mu.Lock()
			report.Courses = append(report.Courses, doc.Course.Title)
			report.Chunks += n
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	sort.Strings(report.Courses)
	return report, err
}

// ingest indexes one document and returns its chunk count, or -1 when the
// course was already indexed and left alone.
func (s *IngestService) ingest(ctx context.Context, doc *loader.Document) (int, error) {
	title := doc.Course.Title
	if s.opts.SkipExisting {
		ok, err := s.index.HasCourse(ctx, title)
		if err != nil {
			return 0, fmt.Errorf("failed to check course %q: %w", title, err)
		}
		if ok {
			log.Printf("Course %q already indexed, skipping %s", title, doc.Path)
			s.opts.Metrics.IngestedFile("existing", 0)
			return -1, nil
		}
	}

	chunks := s.ChunkDocument(doc)
	if err := s.index.IndexCourse(ctx, doc.Course, chunks); err != nil {
		s.opts.Metrics.IngestedFile("failed", 0)
		return 0, fmt.Errorf("failed to index %s: %w", doc.Path, err)
	}
	s.opts.Metrics.IngestedFile("ok", len(chunks))
	log.Printf("Indexed course %q from %s (%d lessons, %d chunks)", title, doc.Path, len(doc.Course.Lessons), len(chunks))
	return len(chunks), nil
}

// ChunkDocument chunks every lesson in document order. Chunk indexes run
// across the whole course without gaps.
func (s *IngestService) ChunkDocument(doc *loader.Document) []store.CourseChunk {
	var out []store.CourseChunk
	for _, l := range doc.Course.Lessons {
		out = append(out, s.chunker.Chunk(doc.Bodies[l.Number], doc.Course.Title, l.Number, len(out))...)
	}
	return out
}
