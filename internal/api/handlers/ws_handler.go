package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/intervue/internal/clock"
	"github.com/yoockh/intervue/internal/interview/gateway"
	"github.com/yoockh/intervue/internal/interview/orchestrator"
	"github.com/yoockh/intervue/internal/logger"
	"github.com/yoockh/intervue/internal/metrics"
	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/services"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second

	eventQueueSize = 256
)

// ModelGateway is the part of the speech model gateway a connection drives.
type ModelGateway interface {
	ConnectSession(ctx context.Context, sessionID, instruction string, emit func(gateway.Event)) error
	SendAudioData(sessionID string, pcm []byte)
	SendText(sessionID, text string) bool
	SendContextUpdate(sessionID string, q *models.Question, profile, assessment string) bool
	DisconnectSession(sessionID string)
}

type WSTuning struct {
	ProcessingTimeout time.Duration
	AutoAdvanceDelay  time.Duration
	FirstTurnDelay    time.Duration
}

type WSDeps struct {
	Sessions services.SessionService
	Code     services.CodeService
	Gateway  ModelGateway
	Queue    orchestrator.Queue

	Tuning         WSTuning
	AllowedOrigins []string
	Clock          clock.Clock
	Logger         *logrus.Logger
	Metrics        *metrics.Metrics
}

// WSHandler serves the interview control channel.
type WSHandler struct {
	deps     WSDeps
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(d WSDeps) *WSHandler {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Tuning.FirstTurnDelay <= 0 {
		d.Tuning.FirstTurnDelay = time.Second
	}
	h := &WSHandler{deps: d, log: logger.OrDefault(d.Logger)}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(d.AllowedOrigins)}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := map[string]bool{}
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o != "" {
			set[strings.TrimSuffix(o, "/")] = true
		}
	}
	return func(r *http.Request) bool {
		if len(set) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(writeWait))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.writeText(b)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Interview upgrades the request and runs the connection until the socket
// closes.
func (h *WSHandler) Interview(c *gin.Context) {
	uid := userOrAnonymous(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	s := newSession(h, &wsConn{c: conn}, uid)
	s.run(conn)
}

// run reads frames on a separate goroutine and executes every unit of work of
// this connection on the calling goroutine, in arrival order.
func (s *session) run(conn *websocket.Conn) {
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				s.log.WithError(err).Debug("control channel read ended")
				s.dispatch(func() { s.finished = true })
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			s.dispatch(func() { s.handleFrame(data) })
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for !s.finished {
		select {
		case f := <-s.events:
			s.safely(f)
		case <-ticker.C:
			if err := s.wc.ping(); err != nil {
				s.finished = true
			}
		}
	}

	s.safely(func() { s.teardown("socket closed") })
	s.cancel()
}
