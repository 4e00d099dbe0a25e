package gateway

import (
	"fmt"
	"strings"

	"github.com/yoockh/intervue/internal/models"
)

const (
	defaultProfile    = "Resume-based candidate"
	defaultAssessment = "Interview in progress"
)

// FirstTurnPrompt makes the model open the conversation; it never speaks first
// on its own.
const FirstTurnPrompt = "SYSTEM PROMPT: You must now greet the candidate and ask the first interview question. Begin speaking immediately."

// BuildContextUpdate renders the instruction block that moves a live model
// session to the next question.
func BuildContextUpdate(q *models.Question, profile, assessment string) string {
	if strings.TrimSpace(profile) == "" {
		profile = defaultProfile
	}
	if strings.TrimSpace(assessment) == "" {
		assessment = defaultAssessment
	}
	return fmt.Sprintf(`[CONTEXT UPDATE]
Previous question complete. Evaluation in progress.

NEW QUESTION: %q
Type: %s
Difficulty: %s

CANDIDATE PROFILE: %s
RUNNING ASSESSMENT: %s

INSTRUCTIONS:
- Acknowledge transition briefly (5 words max: "Alright, moving to next question")
- Ask this question ONLY
- Listen without interrupting
- Wait for candidate to finish speaking completely
- Do NOT reference previous questions
- Do NOT ask follow-up questions unless critically needed
- Keep responses concise

BEGIN NOW.`, q.Text, q.Type, q.Difficulty, profile, assessment)
}

// BuildSystemInstruction renders the instruction the model session is opened
// with, centred on the session's current question.
func BuildSystemInstruction(s *models.InterviewSession) string {
	q := s.CurrentQuestion()
	var b strings.Builder
	b.WriteString("You are a professional interviewer conducting a live voice interview.\n")
	fmt.Fprintf(&b, "Current phase: %s.\n", s.Phase)
	if s.CandidateProfile != "" {
		fmt.Fprintf(&b, "Candidate profile: %s\n", s.CandidateProfile)
	}
	if q != nil {
		fmt.Fprintf(&b, "Question %d of %d (%s, %s): %q\n", s.CurrentQuestionIndex+1, len(s.Questions), q.Type, q.Difficulty, q.Text)
	}
	b.WriteString(`
RULES:
- Greet the candidate warmly, then ask the current question.
- Ask one question at a time and wait for the candidate to finish speaking.
- Keep acknowledgements under 5 words.
- Keep any reply that is not a question under 10 words.
- Do not evaluate or score answers out loud.`)
	return b.String()
}
