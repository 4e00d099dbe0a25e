package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/yoockh/intervue/internal/audio"
)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-12-2025"
	defaultVoice   = "Zephyr"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	readLimit         = 8 << 20
)

type GeminiOption func(*Gemini)

func WithModel(model string) GeminiOption {
	return func(g *Gemini) {
		if model != "" {
			g.model = model
		}
	}
}

// WithBaseURL overrides the websocket base URL, ex: a local test server.
func WithBaseURL(u string) GeminiOption {
	return func(g *Gemini) {
		if u != "" {
			g.baseURL = u
		}
	}
}

func WithDefaultVoice(voice string) GeminiOption {
	return func(g *Gemini) {
		if voice != "" {
			g.voice = voice
		}
	}
}

// Gemini speaks the Gemini Live BidiGenerateContent protocol.
type Gemini struct {
	apiKey  string
	model   string
	voice   string
	baseURL string
}

var _ Provider = (*Gemini)(nil)

func NewGemini(apiKey string, opts ...GeminiOption) *Gemini {
	g := &Gemini{apiKey: apiKey, model: defaultModel, voice: defaultVoice, baseURL: defaultBaseURL}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gemini) Connect(ctx context.Context, cfg SessionConfig) (Session, error) {
	endpoint := fmt.Sprintf("%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		g.baseURL, url.QueryEscape(g.apiKey))

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &geminiSession{
		conn:   conn,
		msgs:   make(chan Message, 64),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: cancel,
	}

	voice := cfg.Voice
	if voice == "" {
		voice = g.voice
	}
	if err := s.writeJSON(ctx, g.setup(cfg.Instruction, voice)); err != nil {
		s.abort("setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	if err := s.awaitSetupComplete(ctx); err != nil {
		s.abort("setup not acknowledged")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go s.receiveLoop()
	go s.keepaliveLoop()
	return s, nil
}

func (g *Gemini) setup(instruction, voice string) setupMessage {
	msg := setupMessage{Setup: setupConfig{
		Model: "models/" + g.model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
			}},
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}}
	if instruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: instruction}}}
	}
	return msg
}

// outgoing

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks,omitempty"`
	Text        string       `json:"text,omitempty"`
}

// incoming

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type geminiSession struct {
	conn *websocket.Conn
	msgs chan Message

	mu     sync.Mutex
	errVal error
	closed bool
	done   chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *geminiSession) awaitSetupComplete(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("%d %s", msg.Error.Code, msg.Error.Message)
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

func (s *geminiSession) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop owns msgs and closes it on exit.
func (s *geminiSession) receiveLoop() {
	defer s.closeOnce.Do(func() { close(s.msgs) })

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.setErr(err)
			}
			return
		}
		var sm serverMessage
		if err := json.Unmarshal(data, &sm); err != nil {
			continue
		}
		msg, ok := translate(&sm)
		if !ok {
			continue
		}
		select {
		case s.msgs <- msg:
		case <-s.ctx.Done():
			return
		}
	}
}

func translate(sm *serverMessage) (Message, bool) {
	var msg Message
	if sm.Error != nil {
		text := sm.Error.Message
		if text == "" {
			text = "unknown error"
		}
		msg.Err = fmt.Errorf("gemini: %s", text)
	}
	if sc := sm.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil || len(pcm) == 0 {
					continue
				}
				msg.Audio = append(msg.Audio, pcm)
			}
		}
		if sc.InputTranscription != nil {
			msg.InputTranscript = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			msg.OutputTranscript = sc.OutputTranscription.Text
		}
		msg.TurnComplete = sc.TurnComplete
		msg.Interrupted = sc.Interrupted
	}
	empty := msg.Err == nil && len(msg.Audio) == 0 && msg.InputTranscript == "" &&
		msg.OutputTranscript == "" && !msg.TurnComplete && !msg.Interrupted
	return msg, !empty
}

func (s *geminiSession) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *geminiSession) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *geminiSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *geminiSession) SendAudio(pcm []byte) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.writeJSON(s.ctx, realtimeInputMessage{RealtimeInput: realtimeInput{
		MediaChunks: []inlineData{{MIMEType: audio.InputMIMEType, Data: audio.EncodeBase64(pcm)}},
	}})
}

func (s *geminiSession) SendText(text string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.writeJSON(s.ctx, realtimeInputMessage{RealtimeInput: realtimeInput{Text: text}})
}

// Interrupt is not part of the Live protocol; the server detects barge-in
// from the audio stream itself.
func (s *geminiSession) Interrupt() error {
	return errors.New("gemini: interrupt not supported")
}

func (s *geminiSession) Messages() <-chan Message { return s.msgs }

func (s *geminiSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close ends the session. Idempotent.
func (s *geminiSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	close(s.done)
	_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

func (s *geminiSession) abort(reason string) {
	s.cancel()
	close(s.done)
	s.closeOnce.Do(func() { close(s.msgs) })
	_ = s.conn.Close(websocket.StatusInternalError, reason)
}
