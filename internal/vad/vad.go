// Package vad detects speech start and end from a stream of per-frame audio
// energy levels.
package vad

import (
	"sync"
	"time"

	"github.com/yoockh/intervue/internal/clock"
)

// Config tunes the detector. Levels strictly above SilenceThreshold count as
// speech.
type Config struct {
	SilenceThreshold float64       `yaml:"silence_threshold"`
	EndOfUtterance   time.Duration `yaml:"end_of_utterance"`
	HardFallback     time.Duration `yaml:"hard_fallback"`
}

func DefaultConfig() Config {
	return Config{
		SilenceThreshold: 0.05,
		EndOfUtterance:   5 * time.Second,
		HardFallback:     60 * time.Second,
	}
}

// Detector is a two-state speech detector. The silence timer measures
// continuous silence: it is armed by the first quiet frame after speech and
// disarmed by any loud frame. The hard timer bounds a single utterance.
//
// Callbacks run without the internal lock held, either on the caller of
// ProcessSample or on the clock's timer goroutine.
type Detector struct {
	cfg     Config
	clk     clock.Clock
	onStart func()
	onEnd   func()

	mu       sync.Mutex
	speaking bool
	gen      uint64
	silence  clock.Timer
	hard     clock.Timer
}

func New(cfg Config, clk clock.Clock, onStart, onEnd func()) *Detector {
	def := DefaultConfig()
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	if cfg.EndOfUtterance <= 0 {
		cfg.EndOfUtterance = def.EndOfUtterance
	}
	if cfg.HardFallback <= 0 {
		cfg.HardFallback = def.HardFallback
	}
	if clk == nil {
		clk = clock.Real()
	}
	if onStart == nil {
		onStart = func() {}
	}
	if onEnd == nil {
		onEnd = func() {}
	}
	return &Detector{cfg: cfg, clk: clk, onStart: onStart, onEnd: onEnd}
}

// ProcessSample feeds one frame's energy level.
func (d *Detector) ProcessSample(level float64) {
	loud := level > d.cfg.SilenceThreshold

	d.mu.Lock()
	switch {
	case loud && !d.speaking:
		d.speaking = true
		d.gen++
		gen := d.gen
		d.hard = d.clk.AfterFunc(d.cfg.HardFallback, func() { d.expire(gen) })
		d.mu.Unlock()
		d.onStart()
		return
	case loud && d.speaking:
		d.stopSilenceLocked()
	case !loud && d.speaking && d.silence == nil:
		gen := d.gen
		d.silence = d.clk.AfterFunc(d.cfg.EndOfUtterance, func() { d.expire(gen) })
	}
	d.mu.Unlock()
}

// Speaking reports whether an utterance is in progress.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Close cancels pending timers and resets the detector without firing onEnd.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopTimersLocked()
	d.speaking = false
	d.gen++
}

// expire ends the utterance identified by gen. Either timer may call it; a
// stale generation is ignored.
func (d *Detector) expire(gen uint64) {
	d.mu.Lock()
	if !d.speaking || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.speaking = false
	d.gen++
	d.stopTimersLocked()
	d.mu.Unlock()
	d.onEnd()
}

func (d *Detector) stopSilenceLocked() {
	if d.silence != nil {
		d.silence.Stop()
		d.silence = nil
	}
}

func (d *Detector) stopTimersLocked() {
	d.stopSilenceLocked()
	if d.hard != nil {
		d.hard.Stop()
		d.hard = nil
	}
}
