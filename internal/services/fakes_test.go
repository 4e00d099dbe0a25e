package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/utils"
)

type memSessionRepo struct {
	mu   sync.Mutex
	rows map[string]*models.InterviewSession
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{rows: map[string]*models.InterviewSession{}}
}

func (r *memSessionRepo) Create(_ context.Context, s *models.InterviewSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.rows[s.ID] = &cp
	return nil
}

func (r *memSessionRepo) FindByID(_ context.Context, id string) (*models.InterviewSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *s
	cp.Questions = append([]models.Question(nil), s.Questions...)
	return &cp, nil
}

func (r *memSessionRepo) UpdateByID(ctx context.Context, id string, upd models.SessionUpdate) (*models.InterviewSession, error) {
	r.mu.Lock()
	s, ok := r.rows[id]
	if !ok {
		r.mu.Unlock()
		return nil, utils.ErrNotFound
	}
	if upd.Status != nil {
		s.Status = *upd.Status
	}
	if upd.Phase != nil {
		s.Phase = *upd.Phase
	}
	if upd.CurrentQuestionIndex != nil {
		s.CurrentQuestionIndex = *upd.CurrentQuestionIndex
	}
	if upd.StartTime != nil {
		s.StartTime = upd.StartTime
	}
	if upd.EndTime != nil {
		s.EndTime = upd.EndTime
	}
	r.mu.Unlock()
	return r.FindByID(ctx, id)
}

func (r *memSessionRepo) SetQuestionCode(_ context.Context, id string, idx int, code, lang string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || idx < 0 || idx >= len(s.Questions) {
		return utils.ErrNotFound
	}
	s.Questions[idx].SubmittedCode = code
	s.Questions[idx].CodeLanguage = lang
	return nil
}

type memTranscriptRepo struct {
	mu   sync.Mutex
	rows []models.TranscriptEntry
}

func (r *memTranscriptRepo) Append(_ context.Context, e *models.TranscriptEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, *e)
	return nil
}

func (r *memTranscriptRepo) ListBySession(_ context.Context, sessionID string, limit int64) ([]models.TranscriptEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TranscriptEntry
	for _, e := range r.rows {
		if e.SessionID == sessionID && int64(len(out)) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeLLM struct {
	resp   any
	err    error
	calls  int
	prompt string
}

func (f *fakeLLM) CompleteJSON(_ context.Context, prompt string, dst any) error {
	f.calls++
	f.prompt = prompt
	if f.err != nil {
		return f.err
	}
	b, err := json.Marshal(f.resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func (f *fakeLLM) Close() error { return nil }

type memCache struct {
	data map[string][]byte
}

func (c *memCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	b, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *memCache) SetJSON(_ context.Context, key string, val any, _ time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	c.data[key] = b
	return nil
}

func (c *memCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

type memEvalRepo struct {
	rows []models.Evaluation
	err  error
}

func (r *memEvalRepo) Insert(_ context.Context, ev *models.Evaluation) error {
	if r.err != nil {
		return r.err
	}
	r.rows = append(r.rows, *ev)
	return nil
}

func (r *memEvalRepo) ListBySession(_ context.Context, sessionID string) ([]models.Evaluation, error) {
	var out []models.Evaluation
	for _, e := range r.rows {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memEvalRepo) GetByQuestion(_ context.Context, sessionID, questionID string) (*models.Evaluation, error) {
	for i := range r.rows {
		if r.rows[i].SessionID == sessionID && r.rows[i].QuestionID == questionID {
			return &r.rows[i], nil
		}
	}
	return nil, utils.ErrNotFound
}
