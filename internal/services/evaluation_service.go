package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/intervue/internal/logger"
	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/providers/llm"
	pgrepo "github.com/yoockh/intervue/internal/repositories/postgres"
	"github.com/yoockh/intervue/internal/utils"
	"gorm.io/datatypes"
)

const transcriptWindow = 50

// ErrNoUserResponse marks a job skipped because the candidate never spoke.
var ErrNoUserResponse = errors.New("no user response detected")

type EvaluationService interface {
	Evaluate(ctx context.Context, job models.EvaluationJob) (*models.Evaluation, error)
}

type evaluationService struct {
	sessions    SessionService
	llm         llm.Provider
	evaluations pgrepo.EvaluationRepo
	log         *logrus.Logger
}

// NewEvaluationService builds the scorer. evaluations may be nil, in which
// case results are only logged.
func NewEvaluationService(sessions SessionService, model llm.Provider, evaluations pgrepo.EvaluationRepo, log *logrus.Logger) EvaluationService {
	return &evaluationService{sessions: sessions, llm: model, evaluations: evaluations, log: logger.OrDefault(log)}
}

type scored struct {
	Score        float64  `json:"score"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Feedback     string   `json:"feedback"`
}

func (s *evaluationService) Evaluate(ctx context.Context, job models.EvaluationJob) (*models.Evaluation, error) {
	const op = "EvaluationService.Evaluate"

	sess, err := s.sessions.FindByID(ctx, job.SessionID)
	if err != nil {
		return nil, err
	}
	var question *models.Question
	for i := range sess.Questions {
		if sess.Questions[i].ID == job.QuestionID {
			question = &sess.Questions[i]
			break
		}
	}
	if question == nil {
		return nil, utils.E(utils.CodeNotFound, op, "question not found in session", nil)
	}

	entries, err := s.sessions.ListTranscripts(ctx, job.SessionID, transcriptWindow)
	if err != nil {
		return nil, err
	}
	var parts []string
	for _, e := range entries {
		if e.Speaker == models.SpeakerUser {
			parts = append(parts, e.Text)
		}
	}
	answer := strings.TrimSpace(strings.Join(parts, " "))
	if answer == "" {
		return nil, ErrNoUserResponse
	}

	ev := &models.Evaluation{
		SessionID:  job.SessionID,
		QuestionID: question.ID,
		Transcript: answer,
	}

	var res scored
	if s.llm == nil {
		err = errors.New("text model not configured")
	} else {
		err = s.llm.CompleteJSON(ctx, evaluationPrompt(question, answer), &res)
	}
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"session_id": job.SessionID, "question_id": question.ID}).
			Warn("model evaluation failed, storing fallback")
		res = scored{
			Score:        50,
			Strengths:    []string{"Response provided"},
			Improvements: []string{"Evaluation failed - manual review recommended"},
			Feedback:     "Automatic evaluation unavailable",
		}
		ev.Fallback = true
	}

	ev.Score = clampScore(res.Score)
	ev.Strengths = res.Strengths
	ev.Improvements = res.Improvements
	ev.Feedback = res.Feedback
	if raw, mErr := json.Marshal(res); mErr == nil {
		ev.Raw = datatypes.JSON(raw)
	}

	if s.evaluations != nil {
		if err := s.evaluations.Insert(ctx, ev); err != nil {
			return nil, utils.E(utils.CodeInternal, op, "failed to store evaluation", err)
		}
	}
	return ev, nil
}

func clampScore(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return int(v + 0.5)
	}
}

func evaluationPrompt(q *models.Question, answer string) string {
	topics := "N/A"
	if len(q.ExpectedTopics) > 0 {
		topics = strings.Join(q.ExpectedTopics, ", ")
	}
	return fmt.Sprintf(`Evaluate this interview response:

Question: %q
Type: %s
Difficulty: %s
Expected Topics: %s

Candidate Response: %q

Provide a detailed evaluation with:
1. Score (0-100): Based on accuracy, completeness, and clarity
2. Key strengths (2-3 points): What the candidate did well
3. Areas for improvement (2-3 points): What needs work
4. Brief feedback (1-2 sentences): Constructive summary

Respond with JSON: {"score":number,"strengths":[string],"improvements":[string],"feedback":string}`,
		q.Text, q.Type, q.Difficulty, topics, answer)
}
