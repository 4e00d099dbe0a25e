package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	SessionStatusSetup     = "setup"
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

const (
	PhaseIntro      = "intro"
	PhaseBehavioral = "behavioral"
	PhaseTechnical  = "technical"
	PhaseCoding     = "coding"
	PhaseClosing    = "closing"
)

const (
	QuestionBehavioral = "behavioral"
	QuestionTechnical  = "technical"
	QuestionCoding     = "coding"
)

// InterviewSession is the record the orchestrator reads and advances. The
// question list is fixed when the session is created.
type InterviewSession struct {
	MongoID primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	ID      string             `bson:"id" json:"id"`
	UserID  string             `bson:"user_id,omitempty" json:"user_id,omitempty"`

	Status               string     `bson:"status" json:"status"` // setup|active|completed
	Phase                string     `bson:"phase" json:"phase"`   // intro|behavioral|technical|coding|closing
	Questions            []Question `bson:"questions" json:"questions"`
	CurrentQuestionIndex int        `bson:"current_question_index" json:"currentQuestionIndex"`

	CandidateProfile string `bson:"candidate_profile,omitempty" json:"candidateProfile,omitempty"`

	StartTime *time.Time `bson:"start_time,omitempty" json:"startTime,omitempty"`
	EndTime   *time.Time `bson:"end_time,omitempty" json:"endTime,omitempty"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
}

// CurrentQuestion returns the question at CurrentQuestionIndex, or nil when the
// index is out of range.
func (s *InterviewSession) CurrentQuestion() *Question {
	if s == nil || s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.Questions) {
		return nil
	}
	return &s.Questions[s.CurrentQuestionIndex]
}

// IsLastQuestion reports whether the session is on its final question.
func (s *InterviewSession) IsLastQuestion() bool {
	return s.CurrentQuestionIndex+1 >= len(s.Questions)
}

type Question struct {
	ID             string     `bson:"id" json:"id"`
	Text           string     `bson:"text" json:"text"`
	Type           string     `bson:"type" json:"type"` // behavioral|technical|coding
	Difficulty     string     `bson:"difficulty" json:"difficulty"`
	ExpectedTopics []string   `bson:"expected_topics,omitempty" json:"expectedTopics,omitempty"`
	TestCases      []TestCase `bson:"test_cases,omitempty" json:"testCases,omitempty"`
	SubmittedCode  string     `bson:"submitted_code,omitempty" json:"submittedCode,omitempty"`
	CodeLanguage   string     `bson:"code_language,omitempty" json:"codeLanguage,omitempty"`
}

type TestCase struct {
	Input          string `bson:"input" json:"input"`
	ExpectedOutput string `bson:"expected_output" json:"expectedOutput"`
}

// PhaseForQuestionType maps a question type to the session phase shown while
// it is being asked.
func PhaseForQuestionType(t string) string {
	switch t {
	case QuestionBehavioral:
		return PhaseBehavioral
	case QuestionCoding:
		return PhaseCoding
	default:
		return PhaseTechnical
	}
}

// SessionUpdate is a partial update; nil fields are left untouched.
type SessionUpdate struct {
	Status               *string
	Phase                *string
	CurrentQuestionIndex *int
	StartTime            *time.Time
	EndTime              *time.Time
}
