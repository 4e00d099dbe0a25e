// Package client is the candidate side of the control channel: microphone
// frames go through a voice activity detector and a readiness gate before
// they are sent, and AI audio is scheduled for gapless playback.
package client

import (
	"sync/atomic"

	"github.com/yoockh/intervue/internal/audio"
	"github.com/yoockh/intervue/internal/clock"
	"github.com/yoockh/intervue/internal/protocol"
	"github.com/yoockh/intervue/internal/vad"
)

// Sender delivers one control message to the server.
type Sender interface {
	Send(msg protocol.ClientMessage) error
}

// Pipeline is the capture side. Nothing leaves it until the gate is open and
// the transport reports connected.
type Pipeline struct {
	sender    Sender
	detector  *vad.Detector
	gate      atomic.Bool
	connected atomic.Bool
	onError   func(error)
}

func NewPipeline(sender Sender, cfg vad.Config, clk clock.Clock, onError func(error)) *Pipeline {
	p := &Pipeline{sender: sender, onError: onError}
	p.detector = vad.New(cfg, clk,
		func() { p.signal(protocol.TypeUserSpeechStarted) },
		func() { p.signal(protocol.TypeUserSpeechEnded) },
	)
	return p
}

func (p *Pipeline) ready() bool {
	return p.gate.Load() && p.connected.Load()
}

func (p *Pipeline) signal(typ string) {
	if !p.ready() {
		return
	}
	p.send(protocol.ClientMessage{Type: typ})
}

func (p *Pipeline) send(msg protocol.ClientMessage) {
	if err := p.sender.Send(msg); err != nil && p.onError != nil {
		p.onError(err)
	}
}

// HandleFrame feeds one captured frame of float samples in [-1, 1].
func (p *Pipeline) HandleFrame(samples []float32) {
	if len(samples) == 0 {
		return
	}
	p.detector.ProcessSample(audio.Level(samples))
	if !p.ready() {
		return
	}
	p.send(protocol.ClientMessage{
		Type: protocol.TypeAudio,
		Data: audio.EncodeBase64(audio.FloatToPCM16(samples)),
	})
}

// OpenGate lets audio and speech signals through. It is called once the
// server confirms the session.
func (p *Pipeline) OpenGate() { p.gate.Store(true) }

func (p *Pipeline) SetConnected(v bool) { p.connected.Store(v) }

// Speaking reports whether the detector is inside an utterance.
func (p *Pipeline) Speaking() bool { return p.detector.Speaking() }

// Close stops the detector and closes the gate.
func (p *Pipeline) Close() {
	p.gate.Store(false)
	p.detector.Close()
}
