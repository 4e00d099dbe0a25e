package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/intervue/internal/audio"
	"github.com/yoockh/intervue/internal/clock"
	"github.com/yoockh/intervue/internal/logger"
	"github.com/yoockh/intervue/internal/protocol"
	"github.com/yoockh/intervue/internal/vad"
)

const writeWait = 10 * time.Second

var ErrClosed = errors.New("client: connection closed")

type Options struct {
	Header http.Header
	Clock  clock.Clock
	VAD    vad.Config
	Logger *logrus.Logger

	// AudioSink receives every AI audio chunk as it is scheduled.
	AudioSink func(pcm []byte)
	// OnTranscript receives partial and final transcripts.
	OnTranscript func(t protocol.Transcript, partial bool)
	// OnMessage receives every server frame after the client has handled it.
	OnMessage func(m protocol.ServerMessage)
}

// Client is a control channel connection with its capture pipeline and
// playback scheduler.
type Client struct {
	conn *websocket.Conn
	opts Options
	log  *logrus.Logger

	wmu    sync.Mutex
	closed bool

	Pipeline *Pipeline
	Playback *Playback
}

// Dial opens the control channel at url.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, err
	}
	return newClient(conn, opts), nil
}

func newClient(conn *websocket.Conn, opts Options) *Client {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	c := &Client{conn: conn, opts: opts, log: logger.OrDefault(opts.Logger)}
	c.Pipeline = NewPipeline(c, opts.VAD, opts.Clock, func(err error) {
		c.log.WithError(err).Debug("capture send failed")
	})
	c.Playback = NewPlayback(opts.Clock, audio.OutputSampleRate, opts.AudioSink, func() {
		if err := c.Send(protocol.ClientMessage{Type: protocol.TypeAISpeakingEnded}); err != nil {
			c.log.WithError(err).Debug("ai_speaking_ended not sent")
		}
	})
	return c
}

// Send writes one control message. It is safe for concurrent use.
func (c *Client) Send(msg protocol.ClientMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return ErrClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) Connect(sessionID string) error {
	return c.Send(protocol.ClientMessage{Type: protocol.TypeConnect, SessionID: sessionID})
}

func (c *Client) NextQuestion() error {
	return c.Send(protocol.ClientMessage{Type: protocol.TypeNextQuestion})
}

// Run reads server frames until the connection closes or ctx is done.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.Pipeline.SetConnected(false)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		var m protocol.ServerMessage
		if err := json.Unmarshal(data, &m); err != nil {
			c.log.WithError(err).Warn("bad server frame")
			continue
		}
		c.handle(m)
	}
}

func (c *Client) handle(m protocol.ServerMessage) {
	switch m.Type {
	case protocol.TypeConnected:
		c.Pipeline.SetConnected(true)
		c.Pipeline.OpenGate()
	case protocol.TypeAudio:
		if err := c.Playback.Enqueue(m.Data); err != nil {
			c.log.WithError(err).Warn("bad audio chunk")
		}
	case protocol.TypeInterrupted:
		c.Playback.Interrupt()
	case protocol.TypeTranscript, protocol.TypePartialTranscript:
		if m.Transcript != nil && c.opts.OnTranscript != nil {
			c.opts.OnTranscript(*m.Transcript, m.Type == protocol.TypePartialTranscript)
		}
	case protocol.TypeDisconnected:
		c.Pipeline.SetConnected(false)
	case protocol.TypeError:
		c.log.WithField("code", string(m.Code)).Warn(m.Error)
	}
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(m)
	}
}

// Close sends disconnect, stops capture and playback, and closes the socket.
// Later calls are no-ops.
func (c *Client) Close() error {
	_ = c.Send(protocol.ClientMessage{Type: protocol.TypeDisconnect})

	c.wmu.Lock()
	if c.closed {
		c.wmu.Unlock()
		return nil
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.wmu.Unlock()

	c.Pipeline.Close()
	c.Playback.Interrupt()
	return c.conn.Close()
}
