// Package realtime is the client side of a bidirectional speech-to-speech
// model session.
package realtime

import (
	"context"
	"errors"

	"github.com/coder/websocket"
)

// Provider opens model sessions.
type Provider interface {
	// Connect returns once the model has acknowledged the session setup.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}

type SessionConfig struct {
	Instruction string
	Voice       string
}

// Session is one live model conversation. Messages is closed when the session
// ends, after which Err reports the cause (nil after a local Close).
type Session interface {
	SendAudio(pcm []byte) error
	SendText(text string) error
	Interrupt() error
	Messages() <-chan Message
	Err() error
	Close() error
}

// Message is one server event. Several fields may be set at once.
type Message struct {
	InputTranscript  string
	OutputTranscript string
	Audio            [][]byte
	TurnComplete     bool
	Interrupted      bool
	Err              error
}

// ErrSessionClosed is returned by sends on a closed session.
var ErrSessionClosed = errors.New("realtime: session closed")

// CloseInfo extracts the websocket close status from a session error. A nil
// error means the session was closed locally.
func CloseInfo(err error) (code int, reason string) {
	if err == nil {
		return int(websocket.StatusNormalClosure), "session closed"
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return int(ce.Code), ce.Reason
	}
	return int(websocket.StatusAbnormalClosure), err.Error()
}
