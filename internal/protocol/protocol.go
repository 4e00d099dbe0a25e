// Package protocol defines the JSON frames exchanged on the interview control
// channel.
package protocol

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/utils"
)

// Client to server message types.
const (
	TypeConnect             = "connect"
	TypeAudio               = "audio"
	TypeUserSpeechStarted   = "user_speech_started"
	TypeUserSpeechEnded     = "user_speech_ended"
	TypeAISpeakingStarted   = "ai_speaking_started"
	TypeAISpeakingEnded     = "ai_speaking_ended"
	TypeQuestionTimeExpired = "question_time_expired"
	TypeRunCode             = "run_code"
	TypeSubmitCode          = "submit_code"
	TypeNextQuestion        = "next_question"
	TypeUserInterrupted     = "user_interrupted"
	TypeDisconnect          = "disconnect"
)

// Server to client message types.
const (
	TypeConnected         = "connected"
	TypeTranscript        = "transcript"
	TypePartialTranscript = "partial_transcript"
	TypeInterrupted       = "interrupted"
	TypeQuestionChanged   = "question_changed"
	TypeInterviewComplete = "interview_complete"
	TypeStateChanged      = "state_changed"
	TypeCodeRunning       = "code_running"
	TypeCodeResult        = "code_result"
	TypeCodeSubmitted     = "code_submitted"
	TypeDisconnected      = "disconnected"
	TypeError             = "error"
)

var clientTypes = map[string]bool{
	TypeConnect:             true,
	TypeAudio:               true,
	TypeUserSpeechStarted:   true,
	TypeUserSpeechEnded:     true,
	TypeAISpeakingStarted:   true,
	TypeAISpeakingEnded:     true,
	TypeQuestionTimeExpired: true,
	TypeRunCode:             true,
	TypeSubmitCode:          true,
	TypeNextQuestion:        true,
	TypeUserInterrupted:     true,
	TypeDisconnect:          true,
}

// ClientMessage is any client frame. Only the fields of its Type are set.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      string `json:"data,omitempty"`
	Code      string `json:"code,omitempty"`
	Language  string `json:"language,omitempty"`
}

// Decode parses and validates one client frame.
func Decode(b []byte) (ClientMessage, error) {
	const op = "protocol.Decode"

	var m ClientMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return m, utils.E(utils.CodeInvalidArgument, op, "invalid message format", err)
	}
	m.Type = strings.TrimSpace(m.Type)
	if m.Type == "" {
		return m, utils.E(utils.CodeInvalidArgument, op, "message type is required", nil)
	}
	if !clientTypes[m.Type] {
		return m, utils.E(utils.CodeInvalidArgument, op, "unknown message type: "+m.Type, nil)
	}
	switch m.Type {
	case TypeConnect:
		if strings.TrimSpace(m.SessionID) == "" {
			return m, utils.E(utils.CodeInvalidArgument, op, "sessionId is required", nil)
		}
	case TypeAudio:
		if m.Data == "" {
			return m, utils.E(utils.CodeInvalidArgument, op, "audio data is required", nil)
		}
	}
	return m, nil
}

type Transcript struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsPartial bool      `json:"isPartial,omitempty"`
}

type StateContext struct {
	CurrentQuestionIndex int  `json:"currentQuestionIndex"`
	HasUserResponse      bool `json:"hasUserResponse"`
}

type Simple struct {
	Type string `json:"type"`
}

type Connected struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type Audio struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type TranscriptEvent struct {
	Type       string     `json:"type"`
	Transcript Transcript `json:"transcript"`
}

type QuestionChanged struct {
	Type          string           `json:"type"`
	QuestionIndex int              `json:"questionIndex"`
	Question      *models.Question `json:"question"`
}

type InterviewComplete struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type StateChanged struct {
	Type    string       `json:"type"`
	State   string       `json:"state"`
	Context StateContext `json:"context"`
}

type CodeResult struct {
	Type string `json:"type"`
	models.CodeResult
}

type Disconnected struct {
	Type   string `json:"type"`
	Code   int    `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type Error struct {
	Type  string     `json:"type"`
	Code  utils.Code `json:"code"`
	Error string     `json:"error"`
}

// NewError builds the error frame for err. Only the safe message is exposed.
func NewError(err error) Error {
	return Error{Type: TypeError, Code: utils.CodeOf(err), Error: utils.MessageOf(err)}
}

// ServerMessage is the union of every server frame, for decoding on the
// client side.
type ServerMessage struct {
	Type          string              `json:"type"`
	SessionID     string              `json:"sessionId,omitempty"`
	Data          string              `json:"data,omitempty"`
	Transcript    *Transcript         `json:"transcript,omitempty"`
	QuestionIndex int                 `json:"questionIndex,omitempty"`
	Question      *models.Question    `json:"question,omitempty"`
	State         string              `json:"state,omitempty"`
	Context       *StateContext       `json:"context,omitempty"`
	TestResults   []models.TestResult `json:"testResults,omitempty"`
	Summary       string              `json:"summary,omitempty"`
	Score         float64             `json:"score,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	Error         string              `json:"error,omitempty"`
	Code          json.RawMessage     `json:"code,omitempty"`
}
