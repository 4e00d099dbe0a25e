package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startServer(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(r.Context(), conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func writeFrame(conn *websocket.Conn, v any) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func setupComplete(conn *websocket.Conn) {
	writeFrame(conn, map[string]any{"setupComplete": map[string]any{}})
}

func connect(t *testing.T, srv *httptest.Server) Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	g := NewGemini("test-key", WithBaseURL(wsURL(srv)), WithModel("test-model"))
	s, err := g.Connect(ctx, SessionConfig{Instruction: "be brief"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConnect_SendsSetupAndWaitsForAck(t *testing.T) {
	type setup struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			InputAudioTranscription  *struct{} `json:"inputAudioTranscription"`
			OutputAudioTranscription *struct{} `json:"outputAudioTranscription"`
		} `json:"setup"`
	}
	got := make(chan setup, 1)
	keys := make(chan string, 1)

	srv := startServer(t, func(ctx context.Context, conn *websocket.Conn, r *http.Request) {
		keys <- r.URL.Query().Get("key")
		var msg setup
		readFrame(t, conn, &msg)
		got <- msg
		setupComplete(conn)
		<-conn.CloseRead(ctx).Done()
	})
	connect(t, srv)

	assert.Equal(t, "test-key", <-keys)
	msg := <-got
	assert.Equal(t, "models/test-model", msg.Setup.Model)
	assert.Equal(t, []string{"AUDIO"}, msg.Setup.GenerationConfig.ResponseModalities)
	assert.Equal(t, "Zephyr", msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	require.Len(t, msg.Setup.SystemInstruction.Parts, 1)
	assert.Equal(t, "be brief", msg.Setup.SystemInstruction.Parts[0].Text)
	assert.NotNil(t, msg.Setup.InputAudioTranscription)
	assert.NotNil(t, msg.Setup.OutputAudioTranscription)
}

func TestConnect_SetupErrorFails(t *testing.T) {
	srv := startServer(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		var msg map[string]any
		readFrame(t, conn, &msg)
		writeFrame(conn, map[string]any{"error": map[string]any{"code": 403, "message": "bad key"}})
		<-conn.CloseRead(ctx).Done()
	})

	g := NewGemini("k", WithBaseURL(wsURL(srv)))
	_, err := g.Connect(context.Background(), SessionConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestConnect_ContextDeadline(t *testing.T) {
	srv := startServer(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(ctx).Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := NewGemini("k", WithBaseURL(wsURL(srv))).Connect(ctx, SessionConfig{})
	assert.Error(t, err)
}

func TestSendAudioAndText(t *testing.T) {
	type input struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
			Text string `json:"text"`
		} `json:"realtimeInput"`
	}
	frames := make(chan input, 2)

	srv := startServer(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readFrame(t, conn, &setup)
		setupComplete(conn)
		for i := 0; i < 2; i++ {
			var in input
			readFrame(t, conn, &in)
			frames <- in
		}
		<-conn.CloseRead(ctx).Done()
	})
	s := connect(t, srv)

	require.NoError(t, s.SendAudio([]byte{1, 0, 2, 0}))
	require.NoError(t, s.SendText("hello"))

	audioFrame := <-frames
	require.Len(t, audioFrame.RealtimeInput.MediaChunks, 1)
	assert.Equal(t, "audio/pcm;rate=16000", audioFrame.RealtimeInput.MediaChunks[0].MIMEType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0}), audioFrame.RealtimeInput.MediaChunks[0].Data)

	textFrame := <-frames
	assert.Equal(t, "hello", textFrame.RealtimeInput.Text)
}

func TestMessages_TranslatesServerContent(t *testing.T) {
	pcm := []byte{9, 0, 8, 0}
	srv := startServer(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readFrame(t, conn, &setup)
		setupComplete(conn)
		writeFrame(conn, map[string]any{"serverContent": map[string]any{
			"inputTranscription": map[string]any{"text": "hi there"},
		}})
		writeFrame(conn, map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": base64.StdEncoding.EncodeToString(pcm)}},
			}},
			"outputTranscription": map[string]any{"text": "Hello"},
		}})
		writeFrame(conn, map[string]any{"serverContent": map[string]any{}})
		writeFrame(conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		writeFrame(conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		<-conn.CloseRead(ctx).Done()
	})
	s := connect(t, srv)

	next := func() Message {
		select {
		case m := <-s.Messages():
			return m
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for message")
			return Message{}
		}
	}

	assert.Equal(t, Message{InputTranscript: "hi there"}, next())
	assert.Equal(t, Message{OutputTranscript: "Hello", Audio: [][]byte{pcm}}, next())
	assert.Equal(t, Message{TurnComplete: true}, next(), "empty server content is skipped")
	assert.Equal(t, Message{Interrupted: true}, next())
}

func TestRemoteClose_EndsMessagesWithCloseInfo(t *testing.T) {
	srv := startServer(t, func(_ context.Context, conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readFrame(t, conn, &setup)
		setupComplete(conn)
		conn.Close(websocket.StatusPolicyViolation, "quota exceeded")
	})
	s := connect(t, srv)

	select {
	case _, ok := <-s.Messages():
		require.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("messages channel not closed")
	}
	code, reason := CloseInfo(s.Err())
	assert.Equal(t, int(websocket.StatusPolicyViolation), code)
	assert.Equal(t, "quota exceeded", reason)
}

func TestClose_IdempotentAndSendsFail(t *testing.T) {
	srv := startServer(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readFrame(t, conn, &setup)
		setupComplete(conn)
		<-conn.CloseRead(ctx).Done()
	})
	s := connect(t, srv)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.SendAudio([]byte{0, 0}), ErrSessionClosed)
	assert.ErrorIs(t, s.SendText("x"), ErrSessionClosed)
	assert.Error(t, s.Interrupt())

	code, _ := CloseInfo(s.Err())
	assert.Equal(t, int(websocket.StatusNormalClosure), code)
}
