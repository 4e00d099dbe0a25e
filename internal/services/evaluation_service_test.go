package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/intervue/internal/logger"
	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/utils"
)

func seedAnswered(t *testing.T, svc SessionService, answers ...string) *models.InterviewSession {
	t.Helper()
	ctx := context.Background()
	s, err := svc.Create(ctx, "u1", []models.Question{
		{ID: "q1", Text: "Describe a tough bug.", Type: models.QuestionBehavioral, ExpectedTopics: []string{"debugging"}},
	}, "")
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, svc.AppendTranscript(ctx, &models.TranscriptEntry{SessionID: s.ID, Speaker: models.SpeakerAI, Text: "Describe a tough bug.", Timestamp: now}))
	for i, a := range answers {
		require.NoError(t, svc.AppendTranscript(ctx, &models.TranscriptEntry{SessionID: s.ID, Speaker: models.SpeakerUser, Text: a, Timestamp: now.Add(time.Duration(i+1) * time.Second)}))
	}
	return s
}

func TestEvaluationService_ScoresAndStores(t *testing.T) {
	sessions, _, _ := newSessionFixture(t)
	s := seedAnswered(t, sessions, "A race in the cache.", "Fixed with a mutex.")
	model := &fakeLLM{resp: map[string]any{
		"score":        87.6,
		"strengths":    []string{"clear"},
		"improvements": []string{"depth"},
		"feedback":     "Good answer.",
	}}
	repo := &memEvalRepo{}
	svc := NewEvaluationService(sessions, model, repo, logger.Discard())

	ev, err := svc.Evaluate(context.Background(), models.EvaluationJob{SessionID: s.ID, QuestionID: "q1"})
	require.NoError(t, err)
	assert.Equal(t, 88, ev.Score)
	assert.False(t, ev.Fallback)
	assert.Equal(t, "A race in the cache. Fixed with a mutex.", ev.Transcript)
	assert.Contains(t, model.prompt, "Expected Topics: debugging")
	require.Len(t, repo.rows, 1)
	assert.Equal(t, "q1", repo.rows[0].QuestionID)
	assert.NotEmpty(t, repo.rows[0].Raw)
}

func TestEvaluationService_FallbackOnModelFailure(t *testing.T) {
	sessions, _, _ := newSessionFixture(t)
	s := seedAnswered(t, sessions, "Something.")
	repo := &memEvalRepo{}
	svc := NewEvaluationService(sessions, &fakeLLM{err: errors.New("503")}, repo, logger.Discard())

	ev, err := svc.Evaluate(context.Background(), models.EvaluationJob{SessionID: s.ID, QuestionID: "q1"})
	require.NoError(t, err)
	assert.True(t, ev.Fallback)
	assert.Equal(t, 50, ev.Score)
	assert.Equal(t, []string{"Response provided"}, []string(ev.Strengths))
	assert.Equal(t, "Automatic evaluation unavailable", ev.Feedback)
	assert.Len(t, repo.rows, 1)
}

func TestEvaluationService_SkipsSilentCandidate(t *testing.T) {
	sessions, _, _ := newSessionFixture(t)
	s := seedAnswered(t, sessions)
	model := &fakeLLM{}
	svc := NewEvaluationService(sessions, model, nil, logger.Discard())

	_, err := svc.Evaluate(context.Background(), models.EvaluationJob{SessionID: s.ID, QuestionID: "q1"})
	assert.ErrorIs(t, err, ErrNoUserResponse)
	assert.Zero(t, model.calls)
}

func TestEvaluationService_UnknownQuestion(t *testing.T) {
	sessions, _, _ := newSessionFixture(t)
	s := seedAnswered(t, sessions, "x")
	svc := NewEvaluationService(sessions, &fakeLLM{}, nil, logger.Discard())

	_, err := svc.Evaluate(context.Background(), models.EvaluationJob{SessionID: s.ID, QuestionID: "zz"})
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, clampScore(-3))
	assert.Equal(t, 100, clampScore(140))
	assert.Equal(t, 73, clampScore(72.5))
}
