package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/intervue/internal/audio"
	"github.com/yoockh/intervue/internal/clock"
	"github.com/yoockh/intervue/internal/interview/fsm"
	"github.com/yoockh/intervue/internal/interview/gateway"
	"github.com/yoockh/intervue/internal/interview/orchestrator"
	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/protocol"
	"github.com/yoockh/intervue/internal/services"
	"github.com/yoockh/intervue/internal/utils"
)

const storeTimeout = 10 * time.Second

// session is the per-connection state of the control channel. Its fields are
// only touched from the connection's event loop.
type session struct {
	h      *WSHandler
	wc     *wsConn
	userID string
	log    *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	events chan func()

	sessionID string
	orch      *orchestrator.Orchestrator
	aiStarted bool
	active    bool
	firstTurn clock.Timer
	finished  bool
}

func newSession(h *WSHandler, wc *wsConn, userID string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		h:      h,
		wc:     wc,
		userID: userID,
		log:    logrus.NewEntry(h.log),
		ctx:    ctx,
		cancel: cancel,
		events: make(chan func(), eventQueueSize),
	}
}

// dispatch queues f on the event loop. It is a no-op once the loop has exited.
func (s *session) dispatch(f func()) {
	select {
	case s.events <- f:
	case <-s.ctx.Done():
	}
}

func (s *session) safely(f func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("control channel handler panic")
			s.sendError(utils.E(utils.CodeInternal, "WSHandler", "internal error", fmt.Errorf("panic: %v", r)))
		}
	}()
	f()
}

func (s *session) send(v any) {
	if err := s.wc.writeJSON(v); err != nil {
		s.log.WithError(err).Debug("control channel write failed")
	}
}

func (s *session) sendError(err error) {
	s.send(protocol.NewError(err))
}

func (s *session) handleFrame(data []byte) {
	const op = "WSHandler.handleFrame"

	msg, err := protocol.Decode(data)
	if err != nil {
		s.log.WithError(err).Warn("bad client frame")
		s.sendError(err)
		return
	}

	if msg.Type == protocol.TypeConnect {
		s.handleConnect(msg.SessionID)
		return
	}
	if s.orch == nil {
		switch msg.Type {
		case protocol.TypeAudio, protocol.TypeDisconnect:
		default:
			s.sendError(utils.E(utils.CodeConflict, op, "session not connected", nil))
		}
		return
	}

	switch msg.Type {
	case protocol.TypeAudio:
		if !s.orch.AcceptUserAudio() {
			return
		}
		pcm, err := audio.DecodeBase64(msg.Data)
		if err != nil {
			s.sendError(err)
			return
		}
		s.h.deps.Gateway.SendAudioData(s.sessionID, pcm)

	case protocol.TypeUserSpeechStarted, protocol.TypeUserInterrupted:
		s.orch.CancelAutoAdvance()
		s.orch.Dispatch(fsm.Event{Type: fsm.EventUserSpeechStarted})

	case protocol.TypeUserSpeechEnded:
		s.orch.Dispatch(fsm.Event{Type: fsm.EventUserSpeechEnded})

	case protocol.TypeAISpeakingStarted:
		s.orch.Dispatch(fsm.Event{Type: fsm.EventAISpeakingStarted})

	case protocol.TypeAISpeakingEnded:
		s.orch.OnAISpeakingEnded(s.ctx)

	case protocol.TypeQuestionTimeExpired:
		s.log.Info("question time expired")
		s.transition(orchestrator.TriggerExpired)

	case protocol.TypeNextQuestion:
		s.transition(orchestrator.TriggerManual)

	case protocol.TypeRunCode:
		s.runCode(msg.Code, msg.Language)

	case protocol.TypeSubmitCode:
		s.submitCode(msg.Code, msg.Language)

	case protocol.TypeDisconnect:
		s.teardown("client disconnect")
		s.send(protocol.Disconnected{Type: protocol.TypeDisconnected})
	}
}

func (s *session) transition(trigger orchestrator.Trigger) {
	if _, err := s.orch.TransitionQuestion(s.ctx, trigger); err != nil {
		s.sendError(err)
	}
}

func (s *session) handleConnect(sessionID string) {
	const op = "WSHandler.handleConnect"

	if s.orch != nil && s.orch.State() == fsm.Error && sessionID != s.sessionID {
		s.orch.Stop()
		s.orch = nil
	}
	if s.orch != nil {
		if sessionID != s.sessionID || s.orch.State() != fsm.Error {
			s.sendError(utils.E(utils.CodeConflict, op, "session already connected", nil))
			return
		}
		s.orch.Dispatch(fsm.Event{Type: fsm.EventRetry})
	} else {
		s.sessionID = sessionID
		s.log = logrus.NewEntry(s.h.log).WithField("session_id", sessionID)
		s.orch = orchestrator.New(orchestrator.Deps{
			SessionID: sessionID,
			Store:     s.h.deps.Sessions,
			Queue:     s.h.deps.Queue,
			Model:     s.h.deps.Gateway,
			Notifier:  s,
		}, orchestrator.Options{
			Clock:             s.h.deps.Clock,
			Dispatch:          s.dispatch,
			ProcessingTimeout: s.h.deps.Tuning.ProcessingTimeout,
			AutoAdvanceDelay:  s.h.deps.Tuning.AutoAdvanceDelay,
			Logger:            s.h.log,
			Metrics:           s.h.deps.Metrics,
		})
		s.orch.Dispatch(fsm.Event{Type: fsm.EventConnect})
	}

	fail := func(err error) {
		s.orch.Dispatch(fsm.Event{Type: fsm.EventError})
		s.log.WithError(err).Warn("connect failed")
		s.sendError(err)
	}

	ctx, cancel := context.WithTimeout(s.ctx, storeTimeout)
	sess, err := s.h.deps.Sessions.FindByID(ctx, sessionID)
	cancel()
	if err != nil {
		fail(err)
		return
	}
	if s.userID != "" && sess.UserID != "" && sess.UserID != s.userID {
		fail(utils.E(utils.CodeForbidden, op, "forbidden", nil))
		return
	}
	if sess.Status == models.SessionStatusCompleted {
		fail(utils.E(utils.CodeConflict, op, "interview already completed", nil))
		return
	}
	s.orch.SetQuestionIndex(sess.CurrentQuestionIndex)
	s.orch.SetMemory(sess.CandidateProfile, "")

	instruction := gateway.BuildSystemInstruction(sess)
	if err := s.h.deps.Gateway.ConnectSession(s.ctx, sessionID, instruction, s.onModelEvent); err != nil {
		fail(err)
		return
	}
	s.active = true

	ctx, cancel = context.WithTimeout(s.ctx, storeTimeout)
	defer cancel()
	if err := s.h.deps.Sessions.MarkActive(ctx, sessionID, s.h.deps.Clock.Now().UTC()); err != nil {
		s.log.WithError(err).Warn("mark session active failed")
	}
	s.log.Info("interview connected")
}

func (s *session) onModelEvent(ev gateway.Event) {
	s.dispatch(func() { s.handleModelEvent(ev) })
}

func (s *session) handleModelEvent(ev gateway.Event) {
	if s.orch == nil {
		return
	}
	switch ev.Kind {
	case gateway.EventOpen:
		s.orch.Dispatch(fsm.Event{Type: fsm.EventConnected})
		s.send(protocol.Connected{Type: protocol.TypeConnected, SessionID: s.sessionID})
		s.armFirstTurn()

	case gateway.EventAudio:
		if !s.aiStarted {
			s.aiStarted = s.orch.Dispatch(fsm.Event{Type: fsm.EventAISpeakingStarted}) || s.orch.State() == fsm.AISpeaking
		}
		if s.orch.AllowAIOutput() {
			s.send(protocol.Audio{Type: protocol.TypeAudio, Data: audio.EncodeBase64(ev.Audio)})
		}

	case gateway.EventPartialTranscript, gateway.EventTranscript:
		if ev.Transcript == nil {
			return
		}
		typ := protocol.TypeTranscript
		if ev.Kind == gateway.EventPartialTranscript {
			typ = protocol.TypePartialTranscript
		}
		s.send(protocol.TranscriptEvent{Type: typ, Transcript: protocol.Transcript{
			Speaker:   ev.Transcript.Speaker,
			Text:      ev.Transcript.Text,
			Timestamp: ev.Transcript.Timestamp,
			IsPartial: ev.Transcript.IsPartial,
		}})

	case gateway.EventTurnComplete:
		s.log.Debug("model turn complete")

	case gateway.EventInterrupted:
		s.send(protocol.Simple{Type: protocol.TypeInterrupted})
		// The client drops its queued audio, so the model's turn is over.
		s.orch.OnAISpeakingEnded(s.ctx)

	case gateway.EventError:
		s.sendError(utils.E(utils.CodeUnavailable, "WSHandler.model", "speech model error", ev.Err))

	case gateway.EventClosed:
		s.log.WithFields(logrus.Fields{"code": ev.CloseCode, "reason": ev.CloseReason}).Warn("speech model closed the session")
		s.send(protocol.Disconnected{Type: protocol.TypeDisconnected, Code: ev.CloseCode, Reason: ev.CloseReason})
	}
}

// armFirstTurn prompts the model to greet the candidate, since it never speaks
// first on its own.
func (s *session) armFirstTurn() {
	if s.firstTurn != nil {
		s.firstTurn.Stop()
	}
	sid := s.sessionID
	s.firstTurn = s.h.deps.Clock.AfterFunc(s.h.deps.Tuning.FirstTurnDelay, func() {
		s.dispatch(func() {
			s.firstTurn = nil
			if s.orch == nil || s.sessionID != sid {
				return
			}
			if !s.h.deps.Gateway.SendText(sid, gateway.FirstTurnPrompt) {
				s.log.Warn("first turn prompt not delivered")
			}
		})
	})
}

func (s *session) runCode(code, language string) {
	s.send(protocol.Simple{Type: protocol.TypeCodeRunning})
	sid, log, svc := s.sessionID, s.log, s.codeService()
	go func() {
		res, err := svc.RunCode(s.ctx, sid, code, language)
		if err != nil {
			log.WithError(err).Warn("code analysis failed")
			res = services.FailedCodeResult(err)
		}
		s.dispatch(func() { s.send(protocol.CodeResult{Type: protocol.TypeCodeResult, CodeResult: *res}) })
	}()
}

func (s *session) submitCode(code, language string) {
	sid, log, svc := s.sessionID, s.log, s.codeService()
	go func() {
		if err := svc.SubmitCode(s.ctx, sid, code, language); err != nil {
			log.WithError(err).Warn("code submit failed")
		}
		s.dispatch(func() { s.send(protocol.Simple{Type: protocol.TypeCodeSubmitted}) })
	}()
}

func (s *session) codeService() services.CodeService {
	if s.h.deps.Code != nil {
		return s.h.deps.Code
	}
	return services.NewCodeService(s.h.deps.Sessions, nil, nil, 0, s.h.log)
}

// teardown releases everything the connection holds. It runs on explicit
// disconnect and again when the socket closes; the second call is a no-op.
func (s *session) teardown(reason string) {
	if s.orch == nil {
		return
	}
	if s.firstTurn != nil {
		s.firstTurn.Stop()
		s.firstTurn = nil
	}
	s.orch.Stop()
	s.h.deps.Gateway.DisconnectSession(s.sessionID)

	if s.active {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := s.h.deps.Sessions.MarkCompleted(ctx, s.sessionID, s.h.deps.Clock.Now().UTC()); err != nil {
			s.log.WithError(err).Warn("mark session completed failed")
		}
	}
	s.log.WithField("reason", reason).Info("interview torn down")

	s.orch = nil
	s.active = false
	s.aiStarted = false
}

func (s *session) StateChanged(state fsm.State, c fsm.Context) {
	if state != fsm.AISpeaking {
		s.aiStarted = false
	}
	s.send(protocol.StateChanged{
		Type:  protocol.TypeStateChanged,
		State: string(state),
		Context: protocol.StateContext{
			CurrentQuestionIndex: c.QuestionIndex,
			HasUserResponse:      c.HasUserResponse,
		},
	})
}

func (s *session) QuestionChanged(index int, q *models.Question) {
	s.send(protocol.QuestionChanged{Type: protocol.TypeQuestionChanged, QuestionIndex: index, Question: q})
}

func (s *session) InterviewComplete() {
	s.send(protocol.InterviewComplete{Type: protocol.TypeInterviewComplete, SessionID: s.sessionID})
}
