package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/yoockh/intervue/internal/clock"
	"github.com/yoockh/intervue/internal/protocol"
	"github.com/yoockh/intervue/internal/vad"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []protocol.ClientMessage
}

func (s *recordingSender) Send(m protocol.ClientMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *recordingSender) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.msgs {
		out = append(out, m.Type)
	}
	return out
}

func frame(level float32) []float32 {
	f := make([]float32, 320)
	for i := range f {
		f[i] = level
	}
	return f
}

func TestPipeline_GateHoldsEverything(t *testing.T) {
	s := &recordingSender{}
	p := NewPipeline(s, vad.DefaultConfig(), clock.NewFake(time.Unix(0, 0)), nil)

	p.HandleFrame(frame(0.5))
	assert.True(t, p.Speaking())
	assert.Empty(t, s.types())

	p.OpenGate()
	p.HandleFrame(frame(0.5))
	assert.Empty(t, s.types(), "gate open but transport not connected")
}

func TestPipeline_SpeechSignalsAndAudio(t *testing.T) {
	s := &recordingSender{}
	clk := clock.NewFake(time.Unix(0, 0))
	p := NewPipeline(s, vad.DefaultConfig(), clk, nil)
	p.OpenGate()
	p.SetConnected(true)

	p.HandleFrame(frame(0.5))
	p.HandleFrame(frame(0))
	clk.Advance(5 * time.Second)

	assert.Equal(t, []string{
		protocol.TypeUserSpeechStarted,
		protocol.TypeAudio,
		protocol.TypeAudio,
		protocol.TypeUserSpeechEnded,
	}, s.types())
	assert.NotEmpty(t, s.msgs[1].Data)
}

func TestPipeline_CloseStopsDetector(t *testing.T) {
	s := &recordingSender{}
	clk := clock.NewFake(time.Unix(0, 0))
	p := NewPipeline(s, vad.DefaultConfig(), clk, nil)
	p.OpenGate()
	p.SetConnected(true)

	p.HandleFrame(frame(0.5))
	p.Close()
	clk.Advance(time.Minute)
	p.HandleFrame(frame(0.5))

	assert.Equal(t, []string{protocol.TypeUserSpeechStarted, protocol.TypeAudio}, s.types())
}
