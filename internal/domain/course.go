package domain

// Course is a published course.
type Course struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Module groups lessons within a course.
type Module struct {
	ID         string `json:"id"`
	CourseID   string `json:"course_id"`
	Title      string `json:"title"`
	OrderIndex int    `json:"order_index"`
	Published  bool   `json:"published"`
}

// Lesson is a single video lesson.
type Lesson struct {
	ID         string `json:"id"`
	ModuleID   string `json:"module_id"`
	CourseID   string `json:"course_id"`
	Title      string `json:"title"`
	OrderIndex int    `json:"order_index"`
	Published  bool   `json:"published"`
	DurationMs int64  `json:"duration_ms"`
}

// LessonRef is a lesson positioned in the published course ordering.
type LessonRef struct {
	LessonID         string
	Title            string
	ModuleID         string
	ModuleOrderIndex int
	OrderIndex       int
}
