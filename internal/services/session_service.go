package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yoockh/intervue/internal/models"
	mongorepo "github.com/yoockh/intervue/internal/repositories/mongo"
	"github.com/yoockh/intervue/internal/utils"
)

// SessionService is the record store the live interview reads and writes.
type SessionService interface {
	Create(ctx context.Context, userID string, questions []models.Question, profile string) (*models.InterviewSession, error)
	FindByID(ctx context.Context, sessionID string) (*models.InterviewSession, error)
	UpdateByID(ctx context.Context, sessionID string, upd models.SessionUpdate) (*models.InterviewSession, error)
	MarkActive(ctx context.Context, sessionID string, at time.Time) error
	MarkCompleted(ctx context.Context, sessionID string, at time.Time) error
	SaveQuestionCode(ctx context.Context, sessionID string, questionIndex int, code, language string) error
	AppendTranscript(ctx context.Context, e *models.TranscriptEntry) error
	ListTranscripts(ctx context.Context, sessionID string, limit int64) ([]models.TranscriptEntry, error)
}

type sessionService struct {
	sessions    mongorepo.SessionRepository
	transcripts mongorepo.TranscriptRepository
}

func NewSessionService(sessions mongorepo.SessionRepository, transcripts mongorepo.TranscriptRepository) SessionService {
	return &sessionService{sessions: sessions, transcripts: transcripts}
}

func (s *sessionService) Create(ctx context.Context, userID string, questions []models.Question, profile string) (*models.InterviewSession, error) {
	const op = "SessionService.Create"

	if len(questions) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "at least one question is required", nil)
	}
	seen := make(map[string]bool, len(questions))
	for i := range questions {
		q := &questions[i]
		if strings.TrimSpace(q.Text) == "" {
			return nil, utils.E(utils.CodeInvalidArgument, op, "question text is required", nil)
		}
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		if seen[q.ID] {
			return nil, utils.E(utils.CodeInvalidArgument, op, "question ids must be unique", nil)
		}
		seen[q.ID] = true
		switch q.Type {
		case models.QuestionBehavioral, models.QuestionTechnical, models.QuestionCoding:
		case "":
			q.Type = models.QuestionTechnical
		default:
			return nil, utils.E(utils.CodeInvalidArgument, op, "question type must be behavioral, technical or coding", nil)
		}
	}

	session := &models.InterviewSession{
		ID:               uuid.NewString(),
		UserID:           userID,
		Status:           models.SessionStatusSetup,
		Phase:            models.PhaseIntro,
		Questions:        questions,
		CandidateProfile: profile,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create session", err)
	}
	return session, nil
}

func (s *sessionService) FindByID(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	const op = "SessionService.FindByID"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "sessionId is required", nil)
	}
	out, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get session", err)
	}
	return out, nil
}

func (s *sessionService) UpdateByID(ctx context.Context, sessionID string, upd models.SessionUpdate) (*models.InterviewSession, error) {
	const op = "SessionService.UpdateByID"

	out, err := s.sessions.UpdateByID(ctx, sessionID, upd)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to update session", err)
	}
	return out, nil
}

// MarkActive moves the session to active. The start time is only recorded
// the first time.
func (s *sessionService) MarkActive(ctx context.Context, sessionID string, at time.Time) error {
	cur, err := s.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	status := models.SessionStatusActive
	upd := models.SessionUpdate{Status: &status}
	if cur.StartTime == nil {
		upd.StartTime = &at
	}
	_, err = s.UpdateByID(ctx, sessionID, upd)
	return err
}

// MarkCompleted moves the session to completed. The end time is only recorded
// the first time.
func (s *sessionService) MarkCompleted(ctx context.Context, sessionID string, at time.Time) error {
	cur, err := s.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	status := models.SessionStatusCompleted
	upd := models.SessionUpdate{Status: &status}
	if cur.EndTime == nil {
		upd.EndTime = &at
	}
	_, err = s.UpdateByID(ctx, sessionID, upd)
	return err
}

func (s *sessionService) SaveQuestionCode(ctx context.Context, sessionID string, questionIndex int, code, language string) error {
	const op = "SessionService.SaveQuestionCode"

	if err := s.sessions.SetQuestionCode(ctx, sessionID, questionIndex, code, language); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to save code", err)
	}
	return nil
}

func (s *sessionService) AppendTranscript(ctx context.Context, e *models.TranscriptEntry) error {
	const op = "SessionService.AppendTranscript"

	if e == nil || e.SessionID == "" || e.Text == "" {
		return utils.E(utils.CodeInvalidArgument, op, "sessionId and text are required", nil)
	}
	if e.Speaker != models.SpeakerUser && e.Speaker != models.SpeakerAI {
		return utils.E(utils.CodeInvalidArgument, op, "speaker must be user or ai", nil)
	}
	if err := s.transcripts.Append(ctx, e); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to append transcript", err)
	}
	return nil
}

func (s *sessionService) ListTranscripts(ctx context.Context, sessionID string, limit int64) ([]models.TranscriptEntry, error) {
	const op = "SessionService.ListTranscripts"

	rows, err := s.transcripts.ListBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list transcripts", err)
	}
	return rows, nil
}
