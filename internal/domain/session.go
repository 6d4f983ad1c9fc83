package domain

import (
	"time"
)

// SessionType selects the welcome flavor for a lesson visit.
type SessionType string

const (
	SessionCourseWelcome     SessionType = "course_welcome"
	SessionCourseWelcomeBack SessionType = "course_welcome_back"
	SessionLessonWelcome     SessionType = "lesson_welcome"
	SessionLessonWelcomeBack SessionType = "lesson_welcome_back"
)

// IsReturning reports whether the welcome is a "welcome back" greeting.
func (t SessionType) IsReturning() bool {
	return t == SessionCourseWelcomeBack || t == SessionLessonWelcomeBack
}

// Session is the resolved visit context for one learner entering one lesson.
// It is immutable for the duration of the visit.
type Session struct {
	UserID             string      `json:"user_id"`
	CourseID           string      `json:"course_id"`
	LessonID           string      `json:"lesson_id"`
	SessionType        SessionType `json:"session_type"`
	IsFirstCourseVisit bool        `json:"is_first_course_visit"`
	IsIntroLesson      bool        `json:"is_intro_lesson"`
	IsFirstLessonVisit bool        `json:"is_first_lesson_visit"`
	LessonNumber       int         `json:"lesson_number"`
	LessonTitle        string      `json:"lesson_title"`
	CourseTitle        string      `json:"course_title"`
	PrevLessonTitle    string      `json:"prev_lesson_title,omitempty"`

	// ResumePositionMs is the stored playback position from a previous visit.
	ResumePositionMs int64 `json:"resume_position_ms"`
	DurationMs       int64 `json:"duration_ms"`
}

// ProgressStatus is the per-lesson progress state.
type ProgressStatus string

const (
	ProgressNotStarted ProgressStatus = "not_started"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
)

// LessonProgress is one learner's progress record for one lesson.
type LessonProgress struct {
	UserID               string
	CourseID             string
	LessonID             string
	Status               ProgressStatus
	LastPositionMs       int64
	CompletionPercentage float64
	VideoEnded           bool
	LastAccessedAt       time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ProgressUpdate carries a watch-progress report from the video engine.
type ProgressUpdate struct {
	UserID               string  `json:"user_id"`
	LessonID             string  `json:"lesson_id"`
	LastPositionMs       int64   `json:"last_position_ms"`
	CompletionPercentage float64 `json:"completion_percentage"`
	VideoEnded           bool    `json:"video_ended"`
}
