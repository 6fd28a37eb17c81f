package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Writers are serialized on one connection; sqlite would otherwise return SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS catalog (
        course_title TEXT PRIMARY KEY,
        instructor TEXT NOT NULL DEFAULT '',
        course_link TEXT NOT NULL DEFAULT '',
        lessons_json TEXT NOT NULL,
        embedding_json TEXT NOT NULL, -- Storing as JSON string of []float32
        dimension INTEGER NOT NULL
    );

    CREATE TABLE IF NOT EXISTS content (
        course_title TEXT NOT NULL,
        chunk_index INTEGER NOT NULL,
        lesson_number INTEGER NOT NULL,
        content TEXT NOT NULL,
        embedding_json TEXT NOT NULL,
        dimension INTEGER NOT NULL,
        PRIMARY KEY (course_title, chunk_index)
    );

    CREATE INDEX IF NOT EXISTS idx_content_lesson ON content (course_title, lesson_number);
    `
	_, err := s.db.Exec(schema)
	return err
}

// Catalog methods
func (s *SQLiteStore) UpsertCourse(ctx context.Context, rec CourseRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureDimension(ctx, tx, rec.Embedding); err != nil {
			return err
		}
		return upsertCourse(ctx, tx, rec)
	})
}

func upsertCourse(ctx context.Context, q querier, rec CourseRecord) error {
	lessonsJSON, err := json.Marshal(rec.Course.Lessons)
	if err != nil {
		return fmt.Errorf("failed to marshal lessons: %w", err)
	}
	embeddingJSON, err := json.Marshal(rec.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	_, err = q.ExecContext(ctx, `
        INSERT INTO catalog (course_title, instructor, course_link, lessons_json, embedding_json, dimension)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(course_title) DO UPDATE SET
            instructor = excluded.instructor,
            course_link = excluded.course_link,
            lessons_json = excluded.lessons_json,
            embedding_json = excluded.embedding_json,
            dimension = excluded.dimension`,
		rec.Course.Title, rec.Course.Instructor, rec.Course.Link, string(lessonsJSON), string(embeddingJSON), len(rec.Embedding))
	if err != nil {
		return fmt.Errorf("failed to execute catalog upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCourse(ctx context.Context, title string) (*Course, error) {
	var (
		course      Course
		lessonsJSON string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT course_title, instructor, course_link, lessons_json FROM catalog WHERE course_title = ?", title).
		Scan(&course.Title, &course.Instructor, &course.Link, &lessonsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	if err := json.Unmarshal([]byte(lessonsJSON), &course.Lessons); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lessons for %q: %w", title, err)
	}
	return &course, nil
}

func (s *SQLiteStore) ListCourses(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT course_title FROM catalog ORDER BY course_title ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	titles := []string{}
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

func (s *SQLiteStore) CatalogRecords(ctx context.Context) ([]CourseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT course_title, instructor, course_link, lessons_json, embedding_json FROM catalog ORDER BY course_title ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var records []CourseRecord
	for rows.Next() {
		var (
			rec           CourseRecord
			lessonsJSON   string
			embeddingJSON string
		)
		if err := rows.Scan(&rec.Course.Title, &rec.Course.Instructor, &rec.Course.Link, &lessonsJSON, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		if err := json.Unmarshal([]byte(lessonsJSON), &rec.Course.Lessons); err != nil {
			log.Printf("Warning: failed to unmarshal lessons for course %q: %v. Lessons will be empty.", rec.Course.Title, err)
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &rec.Embedding); err != nil {
			log.Printf("Warning: failed to unmarshal embedding for course %q: %v. Skipping.", rec.Course.Title, err)
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Content methods
func (s *SQLiteStore) UpsertChunks(ctx context.Context, recs []ChunkRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureDimension(ctx, tx, chunkVectors(recs)...); err != nil {
			return err
		}
		return insertChunks(ctx, tx, recs)
	})
}

func (s *SQLiteStore) ReplaceCourse(ctx context.Context, rec CourseRecord, chunks []ChunkRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := dimensionExcept(ctx, tx, rec.Course.Title)
		if err != nil {
			return err
		}
		vectors := append([][]float32{rec.Embedding}, chunkVectors(chunks)...)
		if _, err := checkDimension(current, vectors...); err != nil {
			return err
		}
		if err := upsertCourse(ctx, tx, rec); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM content WHERE course_title = ?", rec.Course.Title); err != nil {
			return fmt.Errorf("failed to delete stale content: %w", err)
		}
		return insertChunks(ctx, tx, chunks)
	})
}

func insertChunks(ctx context.Context, tx *sql.Tx, recs []ChunkRecord) error {
	stmt, err := tx.PrepareContext(ctx, `
        INSERT OR REPLACE INTO content (course_title, chunk_index, lesson_number, content, embedding_json, dimension)
        VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare content insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		embeddingJSON, err := json.Marshal(r.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		c := r.Chunk
		if _, err := stmt.ExecContext(ctx, c.CourseTitle, c.ChunkIndex, c.LessonNumber, c.Content, string(embeddingJSON), len(r.Embedding)); err != nil {
			return fmt.Errorf("failed to execute content insert for %q #%d: %w", c.CourseTitle, c.ChunkIndex, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ContentRecords(ctx context.Context, filter ChunkFilter) ([]ChunkRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.CourseTitle != "" {
		where = append(where, "course_title = ?")
		args = append(args, filter.CourseTitle)
	}
	if filter.LessonNumber != nil {
		where = append(where, "lesson_number = ?")
		args = append(args, *filter.LessonNumber)
	}
	query := "SELECT course_title, chunk_index, lesson_number, content, embedding_json FROM content"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY course_title ASC, chunk_index ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query content: %w", err)
	}
	defer rows.Close()

	var records []ChunkRecord
	for rows.Next() {
		var (
			rec           ChunkRecord
			embeddingJSON string
		)
		c := &rec.Chunk
		if err := rows.Scan(&c.CourseTitle, &c.ChunkIndex, &c.LessonNumber, &c.Content, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan content row: %w", err)
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &rec.Embedding); err != nil {
			log.Printf("Warning: failed to unmarshal embedding for %q #%d: %v. Skipping.", c.CourseTitle, c.ChunkIndex, err)
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Dimension(ctx context.Context) (int, error) {
	return dimension(ctx, s.db)
}

func dimension(ctx context.Context, q querier) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, `
        SELECT dimension FROM catalog
        UNION ALL
        SELECT dimension FROM content
        LIMIT 1`).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding dimension: %w", err)
	}
	return dim, nil
}

// dimensionExcept ignores the rows of title, which are about to be replaced.
func dimensionExcept(ctx context.Context, q querier, title string) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, `
        SELECT dimension FROM catalog WHERE course_title != ?
        UNION ALL
        SELECT dimension FROM content WHERE course_title != ?
        LIMIT 1`, title, title).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding dimension: %w", err)
	}
	return dim, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM content"); err != nil {
			return fmt.Errorf("failed to clear content: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM catalog"); err != nil {
			return fmt.Errorf("failed to clear catalog: %w", err)
		}
		return nil
	})
}

func ensureDimension(ctx context.Context, q querier, vectors ...[]float32) error {
	current, err := dimension(ctx, q)
	if err != nil {
		return err
	}
	_, err = checkDimension(current, vectors...)
	return err
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("Warning: rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
