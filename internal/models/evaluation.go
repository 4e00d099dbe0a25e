package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// Evaluation is the scored result of one answered question.
type Evaluation struct {
	ID           string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID    string         `gorm:"column:session_id;type:text;index" json:"session_id"`
	QuestionID   string         `gorm:"column:question_id;type:text;index" json:"question_id"`
	Score        int            `gorm:"column:score" json:"score"`
	Strengths    pq.StringArray `gorm:"column:strengths;type:text[]" json:"strengths"`
	Improvements pq.StringArray `gorm:"column:improvements;type:text[]" json:"improvements"`
	Feedback     string         `gorm:"column:feedback;type:text" json:"feedback"`
	Transcript   string         `gorm:"column:user_transcript;type:text" json:"user_transcript"`
	Fallback     bool           `gorm:"column:fallback" json:"fallback"`
	Raw          datatypes.JSON `gorm:"column:raw;type:jsonb" json:"raw"`
	CreatedAt    time.Time      `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
}

func (Evaluation) TableName() string { return "evaluations" }

// EvaluationJob asks the scoring worker to evaluate one question.
type EvaluationJob struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	QuestionID string    `json:"questionId"`
	CreatedAt  time.Time `json:"createdAt"`
}
