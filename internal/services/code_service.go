package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/intervue/internal/cache"
	"github.com/yoockh/intervue/internal/logger"
	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/providers/llm"
	"github.com/yoockh/intervue/internal/utils"
)

const DefaultCodeLanguage = "python"

// FailedCodeResult is reported to the candidate when analysis cannot run.
func FailedCodeResult(err error) *models.CodeResult {
	return &models.CodeResult{TestResults: []models.TestResult{}, Summary: "Analysis failed: " + utils.MessageOf(err), Score: 0}
}

type CodeService interface {
	// RunCode saves the submission on the current question and analyses it.
	RunCode(ctx context.Context, sessionID, code, language string) (*models.CodeResult, error)
	// SubmitCode saves the submission on the current question.
	SubmitCode(ctx context.Context, sessionID, code, language string) error
}

type codeService struct {
	sessions SessionService
	llm      llm.Provider
	cache    cache.Cache
	ttl      time.Duration
	log      *logrus.Logger
}

// NewCodeService builds the service. model and c may be nil: without a model
// every run fails with "analysis unavailable", without a cache nothing is
// memoised.
func NewCodeService(sessions SessionService, model llm.Provider, c cache.Cache, ttl time.Duration, log *logrus.Logger) CodeService {
	return &codeService{sessions: sessions, llm: model, cache: c, ttl: ttl, log: logger.OrDefault(log)}
}

func (s *codeService) current(ctx context.Context, op, sessionID string) (*models.InterviewSession, *models.Question, error) {
	sess, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	q := sess.CurrentQuestion()
	if q == nil {
		return nil, nil, utils.E(utils.CodeNotFound, op, "current question not found", nil)
	}
	return sess, q, nil
}

func (s *codeService) SubmitCode(ctx context.Context, sessionID, code, language string) error {
	const op = "CodeService.SubmitCode"

	if language == "" {
		language = DefaultCodeLanguage
	}
	sess, _, err := s.current(ctx, op, sessionID)
	if err != nil {
		return err
	}
	return s.sessions.SaveQuestionCode(ctx, sessionID, sess.CurrentQuestionIndex, code, language)
}

func (s *codeService) RunCode(ctx context.Context, sessionID, code, language string) (*models.CodeResult, error) {
	const op = "CodeService.RunCode"

	if strings.TrimSpace(code) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "code is required", nil)
	}
	if language == "" {
		language = DefaultCodeLanguage
	}
	sess, q, err := s.current(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if s.llm == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "analysis unavailable", nil)
	}

	key := cache.Key("code_result", q.ID, language, code)
	var res models.CodeResult
	hit := false
	if s.cache != nil {
		if hit, err = s.cache.GetJSON(ctx, key, &res); err != nil {
			s.log.WithError(err).Warn("code result cache read failed")
		}
	}
	if !hit {
		if err := s.llm.CompleteJSON(ctx, codeAnalysisPrompt(q, code, language), &res); err != nil {
			return nil, utils.E(utils.CodeUnavailable, op, "code analysis failed", err)
		}
		if res.TestResults == nil {
			res.TestResults = []models.TestResult{}
		}
		if s.cache != nil {
			if err := s.cache.SetJSON(ctx, key, res, s.ttl); err != nil {
				s.log.WithError(err).Warn("code result cache write failed")
			}
		}
	}

	if err := s.sessions.SaveQuestionCode(ctx, sessionID, sess.CurrentQuestionIndex, code, language); err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("save submitted code failed")
	}
	return &res, nil
}

func codeAnalysisPrompt(q *models.Question, code, language string) string {
	tests := "No specific test cases provided. Evaluate correctness based on the problem description."
	if len(q.TestCases) > 0 {
		lines := make([]string, len(q.TestCases))
		for i, tc := range q.TestCases {
			lines[i] = fmt.Sprintf("Test %d: Input: %s → Expected: %s", i+1, tc.Input, tc.ExpectedOutput)
		}
		tests = strings.Join(lines, "\n")
	}
	return fmt.Sprintf(`You are a code evaluator. Analyze this code submission against the given problem and test cases.

## Problem
%s

## Test Cases
%s

## Submitted Code (%s)
`+"```%s\n%s\n```"+`

Trace through the code logic for each test case. Determine if it would produce the expected output. Be accurate in your analysis.
Respond with JSON: {"testResults":[{"testCase":string,"passed":bool,"actualOutput":string,"explanation":string}],"summary":string,"score":number}`,
		q.Text, tests, language, language, code)
}
