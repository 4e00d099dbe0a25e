package client

import (
	"sync"
	"time"

	"github.com/yoockh/intervue/internal/audio"
	"github.com/yoockh/intervue/internal/clock"
)

// Playback schedules AI audio chunks back to back. Each chunk starts at the
// later of the current time and the end of the previous chunk, so chunks
// play gaplessly without overlapping. When the last live chunk ends or is
// interrupted, onDrained runs once.
type Playback struct {
	clk        clock.Clock
	sampleRate int
	sink       func(pcm []byte)
	onDrained  func()

	mu     sync.Mutex
	cursor time.Time
	nextID uint64
	live   map[uint64]clock.Timer
}

// NewPlayback builds a scheduler. sink receives each decoded chunk as it is
// scheduled; either callback may be nil.
func NewPlayback(clk clock.Clock, sampleRate int, sink func(pcm []byte), onDrained func()) *Playback {
	if clk == nil {
		clk = clock.Real()
	}
	if sampleRate <= 0 {
		sampleRate = audio.OutputSampleRate
	}
	return &Playback{
		clk:        clk,
		sampleRate: sampleRate,
		sink:       sink,
		onDrained:  onDrained,
		live:       make(map[uint64]clock.Timer),
	}
}

// Enqueue decodes a base64 PCM chunk and schedules it after whatever is
// already playing.
func (p *Playback) Enqueue(b64 string) error {
	pcm, err := audio.DecodeBase64(b64)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return nil
	}
	d := audio.Duration(pcm, p.sampleRate)

	p.mu.Lock()
	now := p.clk.Now()
	if p.cursor.Before(now) {
		p.cursor = now
	}
	end := p.cursor.Add(d)
	p.cursor = end

	id := p.nextID
	p.nextID++
	p.live[id] = p.clk.AfterFunc(end.Sub(now), func() { p.ended(id) })
	p.mu.Unlock()

	if p.sink != nil {
		p.sink(pcm)
	}
	return nil
}

func (p *Playback) ended(id uint64) {
	p.mu.Lock()
	if _, ok := p.live[id]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.live, id)
	drained := len(p.live) == 0
	p.mu.Unlock()

	if drained && p.onDrained != nil {
		p.onDrained()
	}
}

// Interrupt stops every scheduled chunk and resets the cursor. When it cut
// playback short, onDrained runs once, as it would have when the last chunk
// ended.
func (p *Playback) Interrupt() {
	p.mu.Lock()
	cut := len(p.live) > 0
	for id, t := range p.live {
		t.Stop()
		delete(p.live, id)
	}
	p.cursor = time.Time{}
	p.mu.Unlock()

	if cut && p.onDrained != nil {
		p.onDrained()
	}
}

// Active returns the number of chunks still playing or waiting to play.
func (p *Playback) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Cursor returns the time at which the last scheduled chunk ends.
func (p *Playback) Cursor() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}
