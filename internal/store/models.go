package store

// Lesson is one numbered unit of a course.
type Lesson struct {
	Number int    `json:"lesson_number"`
	Title  string `json:"title"`
	Link   string `json:"lesson_link,omitempty"`
}

// Course is keyed by its title, which is also the join key into the content collection.
type Course struct {
	Title      string   `json:"title"`
	Instructor string   `json:"instructor,omitempty"`
	Link       string   `json:"course_link,omitempty"`
	Lessons    []Lesson `json:"lessons"`
}

// Lesson returns the lesson with the given number, if the course has one.
func (c *Course) Lesson(number int) (Lesson, bool) {
	for _, l := range c.Lessons {
		if l.Number == number {
			return l, true
		}
	}
	return Lesson{}, false
}

// CourseChunk is a window of lesson text. ChunkIndex is sequential per course starting at 0.
type CourseChunk struct {
	Content      string `json:"content"`
	CourseTitle  string `json:"course_title"`
	LessonNumber int    `json:"lesson_number"`
	ChunkIndex   int    `json:"chunk_index"`
}

// CourseRecord is a catalog entry: one per course.
type CourseRecord struct {
	Course    Course
	Embedding []float32 // Derived from title, instructor and lesson titles
}

// ChunkRecord is a content entry: one per chunk.
type ChunkRecord struct {
	Chunk     CourseChunk
	Embedding []float32
}

// ChunkFilter narrows content queries. Zero values mean "any".
type ChunkFilter struct {
	CourseTitle  string
	LessonNumber *int
}

// Matches reports whether the chunk satisfies the filter.
func (f ChunkFilter) Matches(c CourseChunk) bool {
	if f.CourseTitle != "" && c.CourseTitle != f.CourseTitle {
		return false
	}
	if f.LessonNumber != nil && c.LessonNumber != *f.LessonNumber {
		return false
	}
	return true
}
