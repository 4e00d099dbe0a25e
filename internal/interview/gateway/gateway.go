// Package gateway owns the speech model session of every live interview. It
// accumulates transcription fragments into turns, persists finished turns and
// forwards model events to the connection that opened the session.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/intervue/internal/logger"
	"github.com/yoockh/intervue/internal/metrics"
	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/providers/realtime"
	"github.com/yoockh/intervue/internal/utils"
)

// sessionSuffix is appended to every system instruction.
const sessionSuffix = "\nMaintain this session until closed. Keep interactions natural and concise."

type EventKind string

const (
	EventOpen              EventKind = "open"
	EventAudio             EventKind = "audio"
	EventPartialTranscript EventKind = "partial_transcript"
	EventTranscript        EventKind = "transcript"
	EventTurnComplete      EventKind = "turn_complete"
	EventInterrupted       EventKind = "interrupted"
	EventError             EventKind = "error"
	EventClosed            EventKind = "closed"
)

type Transcript struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsPartial bool      `json:"isPartial,omitempty"`
}

// Event is delivered to the emit callback of ConnectSession, in model order.
type Event struct {
	Kind        EventKind
	Transcript  *Transcript
	Audio       []byte
	Err         error
	CloseCode   int
	CloseReason string
}

// TranscriptAppender persists finished turns.
type TranscriptAppender interface {
	AppendTranscript(ctx context.Context, e *models.TranscriptEntry) error
}

type Options struct {
	ConnectTimeout time.Duration
	Voice          string
	Logger         *logrus.Logger
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

type Gateway struct {
	provider    realtime.Provider
	transcripts TranscriptAppender
	opts        Options
	log         *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	sess    realtime.Session
	closing bool
	done    chan struct{}
}

func New(provider realtime.Provider, transcripts TranscriptAppender, opts Options) *Gateway {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gateway{
		provider:    provider,
		transcripts: transcripts,
		opts:        opts,
		log:         logger.OrDefault(opts.Logger),
		sessions:    make(map[string]*entry),
	}
}

// ConnectSession opens a model session for sessionID, bounded by the connect
// timeout. An existing session for the same id is closed and replaced. emit
// receives EventOpen before this returns and every later event from a single
// goroutine.
func (g *Gateway) ConnectSession(ctx context.Context, sessionID, instruction string, emit func(Event)) error {
	const op = "Gateway.ConnectSession"

	cctx, cancel := context.WithTimeout(ctx, g.opts.ConnectTimeout)
	defer cancel()

	start := time.Now()
	sess, err := g.provider.Connect(cctx, realtime.SessionConfig{
		Instruction: instruction + sessionSuffix,
		Voice:       g.opts.Voice,
	})
	g.opts.Metrics.ModelConnect(ctx, time.Since(start))
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return utils.E(utils.CodeTimeout, op,
				fmt.Sprintf("speech model connection timeout after %s", g.opts.ConnectTimeout), err)
		}
		return utils.E(utils.CodeUnavailable, op, "speech model unavailable", err)
	}

	e := &entry{sess: sess, done: make(chan struct{})}
	g.mu.Lock()
	prev := g.sessions[sessionID]
	g.sessions[sessionID] = e
	if prev != nil {
		prev.closing = true
	}
	g.mu.Unlock()
	if prev != nil {
		_ = prev.sess.Close()
	}

	g.log.WithField("session_id", sessionID).Info("speech model session open")
	emit(Event{Kind: EventOpen})
	go g.pump(sessionID, e, emit)
	return nil
}

func (g *Gateway) lookup(sessionID string) realtime.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e := g.sessions[sessionID]; e != nil {
		return e.sess
	}
	return nil
}

// SendAudioData forwards candidate PCM. A missing session is a no-op and send
// failures are logged only.
func (g *Gateway) SendAudioData(sessionID string, pcm []byte) {
	sess := g.lookup(sessionID)
	if sess == nil {
		return
	}
	if err := sess.SendAudio(pcm); err != nil {
		g.log.WithError(err).WithField("session_id", sessionID).Debug("send audio failed")
	}
}

// SendText sends a text turn to the model.
func (g *Gateway) SendText(sessionID, text string) bool {
	sess := g.lookup(sessionID)
	if sess == nil {
		return false
	}
	if err := sess.SendText(text); err != nil {
		g.log.WithError(err).WithField("session_id", sessionID).Warn("send text failed")
		return false
	}
	return true
}

// SendContextUpdate redirects the live model session to q without
// reconnecting. It returns false when there is no session or the send fails.
func (g *Gateway) SendContextUpdate(sessionID string, q *models.Question, profile, assessment string) bool {
	if q == nil {
		return false
	}
	if g.lookup(sessionID) == nil {
		g.log.WithField("session_id", sessionID).Warn("context update without a model session")
		return false
	}
	ok := g.SendText(sessionID, BuildContextUpdate(q, profile, assessment))
	if ok {
		g.log.WithFields(logrus.Fields{"session_id": sessionID, "question_id": q.ID}).Info("context updated")
	}
	return ok
}

// InterruptSession asks the model to stop speaking.
func (g *Gateway) InterruptSession(sessionID string) bool {
	sess := g.lookup(sessionID)
	if sess == nil {
		return false
	}
	if err := sess.Interrupt(); err != nil {
		g.log.WithError(err).WithField("session_id", sessionID).Debug("interrupt failed")
		return false
	}
	return true
}

// DisconnectSession closes and forgets the session. It always removes the
// entry, even when closing fails.
func (g *Gateway) DisconnectSession(sessionID string) {
	g.mu.Lock()
	e := g.sessions[sessionID]
	delete(g.sessions, sessionID)
	if e != nil {
		e.closing = true
	}
	g.mu.Unlock()
	if e == nil {
		return
	}
	if err := e.sess.Close(); err != nil {
		g.log.WithError(err).WithField("session_id", sessionID).Warn("close model session failed")
	}
	g.log.WithField("session_id", sessionID).Info("speech model session closed")
}

// Active returns the number of live sessions.
func (g *Gateway) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// pump drains one model session until its message stream ends.
func (g *Gateway) pump(sessionID string, e *entry, emit func(Event)) {
	defer close(e.done)
	var user, ai strings.Builder

	for msg := range e.sess.Messages() {
		if msg.Err != nil {
			emit(Event{Kind: EventError, Err: msg.Err})
		}
		if msg.OutputTranscript != "" {
			ai.WriteString(msg.OutputTranscript)
			emit(Event{Kind: EventPartialTranscript, Transcript: &Transcript{
				Speaker: models.SpeakerAI, Text: ai.String(), Timestamp: g.opts.Now(), IsPartial: true,
			}})
		}
		if msg.InputTranscript != "" {
			user.WriteString(msg.InputTranscript)
			emit(Event{Kind: EventPartialTranscript, Transcript: &Transcript{
				Speaker: models.SpeakerUser, Text: user.String(), Timestamp: g.opts.Now(), IsPartial: true,
			}})
		}
		for _, pcm := range msg.Audio {
			emit(Event{Kind: EventAudio, Audio: pcm})
		}
		if msg.TurnComplete {
			g.flush(sessionID, models.SpeakerUser, &user, emit)
			g.flush(sessionID, models.SpeakerAI, &ai, emit)
			emit(Event{Kind: EventTurnComplete})
		}
		if msg.Interrupted {
			emit(Event{Kind: EventInterrupted})
		}
	}

	g.mu.Lock()
	closing := e.closing
	if g.sessions[sessionID] == e {
		delete(g.sessions, sessionID)
	}
	g.mu.Unlock()

	if closing {
		return
	}
	code, reason := realtime.CloseInfo(e.sess.Err())
	g.log.WithFields(logrus.Fields{"session_id": sessionID, "code": code, "reason": reason}).Info("speech model closed the session")
	emit(Event{Kind: EventClosed, CloseCode: code, CloseReason: reason})
}

func (g *Gateway) flush(sessionID, speaker string, buf *strings.Builder, emit func(Event)) {
	text := strings.TrimSpace(buf.String())
	buf.Reset()
	if text == "" {
		return
	}
	now := g.opts.Now()
	if g.transcripts != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := g.transcripts.AppendTranscript(ctx, &models.TranscriptEntry{
			SessionID: sessionID, Speaker: speaker, Text: text, Timestamp: now,
		})
		cancel()
		if err != nil {
			g.log.WithError(err).WithFields(logrus.Fields{"session_id": sessionID, "speaker": speaker}).Error("save transcript failed")
		}
	}
	emit(Event{Kind: EventTranscript, Transcript: &Transcript{Speaker: speaker, Text: text, Timestamp: now}})
}
