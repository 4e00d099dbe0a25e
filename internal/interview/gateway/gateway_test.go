package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/intervue/internal/logger"
	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/providers/realtime"
	"github.com/yoockh/intervue/internal/utils"
)

type fakeSession struct {
	msgs chan realtime.Message

	mu     sync.Mutex
	audio  [][]byte
	texts  []string
	closed bool
	err    error
	once   sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{msgs: make(chan realtime.Message, 16)}
}

func (s *fakeSession) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, pcm)
	return nil
}

func (s *fakeSession) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

func (s *fakeSession) Interrupt() error { return errors.New("not supported") }

func (s *fakeSession) Messages() <-chan realtime.Message { return s.msgs }

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.msgs) })
	return nil
}

// remoteClose ends the stream as if the model hung up.
func (s *fakeSession) remoteClose(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.msgs) })
}

func (s *fakeSession) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type fakeProvider struct {
	mu       sync.Mutex
	sessions []*fakeSession
	cfgs     []realtime.SessionConfig
	block    bool
	err      error
}

func (p *fakeProvider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s := newFakeSession()
	p.sessions = append(p.sessions, s)
	p.cfgs = append(p.cfgs, cfg)
	return s, nil
}

type memTranscripts struct {
	mu      sync.Mutex
	entries []models.TranscriptEntry
}

func (m *memTranscripts) AppendTranscript(_ context.Context, e *models.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memTranscripts) all() []models.TranscriptEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TranscriptEntry(nil), m.entries...)
}

type sink struct{ ch chan Event }

func newSink() *sink { return &sink{ch: make(chan Event, 64)} }

func (s *sink) emit(e Event) { s.ch <- e }

func (s *sink) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-s.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for gateway event")
		return Event{}
	}
}

func newGateway(p realtime.Provider, tr TranscriptAppender) *Gateway {
	return New(p, tr, Options{
		ConnectTimeout: 50 * time.Millisecond,
		Voice:          "Zephyr",
		Logger:         logger.Discard(),
		Now:            func() time.Time { return time.Unix(100, 0) },
	})
}

func TestConnectSession_OpensAndAppendsSuffix(t *testing.T) {
	p := &fakeProvider{}
	g := newGateway(p, nil)
	out := newSink()

	require.NoError(t, g.ConnectSession(context.Background(), "s1", "Ask about Go.", out.emit))
	assert.Equal(t, EventOpen, out.next(t).Kind)
	assert.Equal(t, 1, g.Active())

	require.Len(t, p.cfgs, 1)
	assert.Equal(t, "Ask about Go.\nMaintain this session until closed. Keep interactions natural and concise.", p.cfgs[0].Instruction)
	assert.Equal(t, "Zephyr", p.cfgs[0].Voice)
}

func TestConnectSession_Timeout(t *testing.T) {
	g := newGateway(&fakeProvider{block: true}, nil)

	err := g.ConnectSession(context.Background(), "s1", "", newSink().emit)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeTimeout))
	assert.Equal(t, 0, g.Active())
}

func TestConnectSession_ProviderFailure(t *testing.T) {
	g := newGateway(&fakeProvider{err: errors.New("dial refused")}, nil)

	err := g.ConnectSession(context.Background(), "s1", "", newSink().emit)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
}

func TestPump_AccumulatesAndFlushesOnTurnComplete(t *testing.T) {
	p := &fakeProvider{}
	tr := &memTranscripts{}
	g := newGateway(p, tr)
	out := newSink()
	require.NoError(t, g.ConnectSession(context.Background(), "s1", "", out.emit))
	out.next(t) // open

	sess := p.sessions[0]
	sess.msgs <- realtime.Message{InputTranscript: "I built "}
	sess.msgs <- realtime.Message{InputTranscript: "a cache. "}
	sess.msgs <- realtime.Message{OutputTranscript: "Great", Audio: [][]byte{{1, 0}, {2, 0}}}
	sess.msgs <- realtime.Message{TurnComplete: true}

	e := out.next(t)
	assert.Equal(t, EventPartialTranscript, e.Kind)
	assert.Equal(t, &Transcript{Speaker: "user", Text: "I built ", Timestamp: time.Unix(100, 0), IsPartial: true}, e.Transcript)

	e = out.next(t)
	assert.Equal(t, "I built a cache. ", e.Transcript.Text, "partials are cumulative")

	e = out.next(t)
	assert.Equal(t, EventPartialTranscript, e.Kind)
	assert.Equal(t, "ai", e.Transcript.Speaker)

	assert.Equal(t, Event{Kind: EventAudio, Audio: []byte{1, 0}}, out.next(t))
	assert.Equal(t, Event{Kind: EventAudio, Audio: []byte{2, 0}}, out.next(t))

	e = out.next(t)
	assert.Equal(t, EventTranscript, e.Kind)
	assert.Equal(t, Transcript{Speaker: "user", Text: "I built a cache.", Timestamp: time.Unix(100, 0)}, *e.Transcript)

	e = out.next(t)
	assert.Equal(t, EventTranscript, e.Kind)
	assert.Equal(t, "ai", e.Transcript.Speaker)
	assert.Equal(t, "Great", e.Transcript.Text)

	assert.Equal(t, EventTurnComplete, out.next(t).Kind)

	entries := tr.all()
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Speaker)
	assert.Equal(t, "I built a cache.", entries[0].Text)
	assert.Equal(t, "ai", entries[1].Speaker)
	assert.Equal(t, "s1", entries[1].SessionID)

	// buffers were cleared by the flush
	sess.msgs <- realtime.Message{TurnComplete: true}
	assert.Equal(t, EventTurnComplete, out.next(t).Kind)
	assert.Len(t, tr.all(), 2)
}

func TestPump_WhitespaceOnlyTurnIsNotPersisted(t *testing.T) {
	p := &fakeProvider{}
	tr := &memTranscripts{}
	g := newGateway(p, tr)
	out := newSink()
	require.NoError(t, g.ConnectSession(context.Background(), "s1", "", out.emit))
	out.next(t)

	p.sessions[0].msgs <- realtime.Message{InputTranscript: "  ", TurnComplete: true}
	assert.Equal(t, EventPartialTranscript, out.next(t).Kind)
	assert.Equal(t, EventTurnComplete, out.next(t).Kind)
	assert.Empty(t, tr.all())
}

func TestPump_ForwardsErrorsAndInterruptions(t *testing.T) {
	p := &fakeProvider{}
	g := newGateway(p, nil)
	out := newSink()
	require.NoError(t, g.ConnectSession(context.Background(), "s1", "", out.emit))
	out.next(t)

	p.sessions[0].msgs <- realtime.Message{Err: errors.New("quota")}
	p.sessions[0].msgs <- realtime.Message{Interrupted: true}

	e := out.next(t)
	assert.Equal(t, EventError, e.Kind)
	assert.EqualError(t, e.Err, "quota")
	assert.Equal(t, EventInterrupted, out.next(t).Kind)
}

func TestRemoteClose_EmitsClosedAndRemoves(t *testing.T) {
	p := &fakeProvider{}
	g := newGateway(p, nil)
	out := newSink()
	require.NoError(t, g.ConnectSession(context.Background(), "s1", "", out.emit))
	out.next(t)

	p.sessions[0].remoteClose(websocket.CloseError{Code: websocket.StatusGoingAway, Reason: "server restart"})

	e := out.next(t)
	assert.Equal(t, EventClosed, e.Kind)
	assert.Equal(t, int(websocket.StatusGoingAway), e.CloseCode)
	assert.Equal(t, "server restart", e.CloseReason)
	assert.Eventually(t, func() bool { return g.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestDisconnectSession_RemovesWithoutClosedEvent(t *testing.T) {
	p := &fakeProvider{}
	g := newGateway(p, nil)
	out := newSink()
	require.NoError(t, g.ConnectSession(context.Background(), "s1", "", out.emit))
	out.next(t)

	g.DisconnectSession("s1")
	g.DisconnectSession("s1")
	assert.Equal(t, 0, g.Active())

	select {
	case e := <-out.ch:
		t.Fatalf("unexpected event after local disconnect: %v", e.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnect_ReplacesPreviousSession(t *testing.T) {
	p := &fakeProvider{}
	g := newGateway(p, nil)
	out := newSink()
	require.NoError(t, g.ConnectSession(context.Background(), "s1", "", out.emit))
	require.NoError(t, g.ConnectSession(context.Background(), "s1", "", out.emit))
	assert.Equal(t, EventOpen, out.next(t).Kind)
	assert.Equal(t, EventOpen, out.next(t).Kind)

	assert.Equal(t, 1, g.Active())
	assert.True(t, p.sessions[0].closed)

	g.SendAudioData("s1", []byte{1, 0})
	assert.Len(t, p.sessions[1].audio, 1)
	assert.Empty(t, p.sessions[0].audio)
}

func TestSendOperations_MissingSession(t *testing.T) {
	g := newGateway(&fakeProvider{}, nil)
	q := &models.Question{ID: "q2", Text: "Reverse a list", Type: "coding", Difficulty: "easy"}

	assert.NotPanics(t, func() { g.SendAudioData("nope", []byte{0, 0}) })
	assert.False(t, g.SendText("nope", "hi"))
	assert.False(t, g.SendContextUpdate("nope", q, "", ""))
	assert.False(t, g.InterruptSession("nope"))
	assert.NotPanics(t, func() { g.DisconnectSession("nope") })
}

func TestSendContextUpdate(t *testing.T) {
	p := &fakeProvider{}
	g := newGateway(p, nil)
	out := newSink()
	require.NoError(t, g.ConnectSession(context.Background(), "s1", "", out.emit))

	q := &models.Question{ID: "q2", Text: "Reverse a list", Type: "coding", Difficulty: "easy"}
	require.True(t, g.SendContextUpdate("s1", q, "", ""))

	texts := p.sessions[0].sentTexts()
	require.Len(t, texts, 1)
	assert.Equal(t, BuildContextUpdate(q, "", ""), texts[0])
	assert.False(t, g.InterruptSession("s1"), "the fake model cannot be interrupted")
}
