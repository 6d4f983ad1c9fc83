package domain

// AssessmentType identifies a quiz campaign flavor.
type AssessmentType string

const (
	AssessmentWarmup    AssessmentType = "warmup"
	AssessmentInLesson  AssessmentType = "in_lesson"
	AssessmentFormative AssessmentType = "formative"
)

// IsAgentHosted reports whether questions and grading come from the agent.
func (t AssessmentType) IsAgentHosted() bool {
	return t == AssessmentFormative
}

// QuestionType is the answer format of a question.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionFreeText       QuestionType = "free_text"
)

// QuestionStatus is the lifecycle state of a question in a campaign.
type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "pending"
	QuestionAnswered QuestionStatus = "answered"
	QuestionSkipped  QuestionStatus = "skipped"
)

// Question is a quiz question. The mutable fields below Status are only
// written by the quiz engine.
type Question struct {
	ID            string       `json:"id" yaml:"id"`
	Text          string       `json:"text" yaml:"text"`
	Type          QuestionType `json:"type" yaml:"type"`
	Options       []string     `json:"options,omitempty" yaml:"options,omitempty"`
	CorrectOption string       `json:"-" yaml:"correct_option,omitempty"`
	// CustomFeedback overrides the templated feedback for local grading.
	CustomFeedback string `json:"-" yaml:"feedback,omitempty"`

	Status     QuestionStatus `json:"status" yaml:"-"`
	UserAnswer string         `json:"user_answer,omitempty" yaml:"-"`
	IsCorrect  *bool          `json:"is_correct" yaml:"-"`
	Feedback   string         `json:"feedback,omitempty" yaml:"-"`
}

// LocallyEvaluable reports whether the answer can be graded without a
// remote evaluator.
func (q *Question) LocallyEvaluable() bool {
	return q.Type == QuestionMultipleChoice && q.CorrectOption != ""
}

// Clone returns a deep copy with fresh mutable state.
func (q Question) Clone() Question {
	c := q
	if q.Options != nil {
		c.Options = append([]string(nil), q.Options...)
	}
	c.Status = QuestionPending
	c.UserAnswer = ""
	c.IsCorrect = nil
	c.Feedback = ""
	return c
}

// Attempt is a recorded answer or skip.
type Attempt struct {
	UserID         string         `json:"user_id"`
	LessonID       string         `json:"lesson_id"`
	AssessmentType AssessmentType `json:"assessment_type"`
	QuestionID     string         `json:"question_id"`
	Answer         string         `json:"answer"`
	IsCorrect      *bool          `json:"is_correct"`
	IsSkipped      bool           `json:"is_skipped"`
	Feedback       string         `json:"feedback"`
}

// Evaluation is the remote grading result for a free-text answer.
type Evaluation struct {
	QuestionID string `json:"question_id"`
	IsCorrect  bool   `json:"is_correct"`
	Feedback   string `json:"feedback"`
}

// EvaluationRequest asks the remote evaluator to grade one answer.
type EvaluationRequest struct {
	QuestionID   string `json:"question_id"`
	QuestionText string `json:"question_text"`
	Answer       string `json:"answer"`
}
