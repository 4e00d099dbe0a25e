package vad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/intervue/internal/clock"
)

const frame = 20 * time.Millisecond

type recorder struct{ events []string }

func (r *recorder) start() { r.events = append(r.events, "start") }
func (r *recorder) end()   { r.events = append(r.events, "end") }

func feed(c *clock.Fake, d *Detector, level float64, n int) {
	for i := 0; i < n; i++ {
		d.ProcessSample(level)
		c.Advance(frame)
	}
}

func TestDetector_Hysteresis(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	d := New(Config{SilenceThreshold: 0.05, EndOfUtterance: 200 * time.Millisecond, HardFallback: time.Minute}, c, rec.start, rec.end)

	feed(c, d, 0.0, 20)
	feed(c, d, 0.2, 5)
	feed(c, d, 0.0, 20)

	assert.Equal(t, []string{"start", "end"}, rec.events)
	assert.False(t, d.Speaking())
	assert.Equal(t, 0, c.Pending())
}

func TestDetector_NoiseAtThresholdIsSilence(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	d := New(DefaultConfig(), c, rec.start, rec.end)

	feed(c, d, 0.05, 50)
	assert.Empty(t, rec.events)
}

func TestDetector_ZeroConfigUsesDefaults(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	d := New(Config{}, c, rec.start, rec.end)

	feed(c, d, 0.01, 50)
	assert.Empty(t, rec.events, "low noise stays below the default threshold")

	feed(c, d, 0.2, 5)
	feed(c, d, 0.0, 300) // 6s of silence
	assert.Equal(t, []string{"start", "end"}, rec.events)
}

func TestDetector_SpeechResumingCancelsSilence(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	d := New(Config{SilenceThreshold: 0.05, EndOfUtterance: 100 * time.Millisecond, HardFallback: time.Minute}, c, rec.start, rec.end)

	feed(c, d, 0.3, 3)
	feed(c, d, 0.0, 3) // 60ms of silence, below the window
	feed(c, d, 0.3, 3)
	assert.Equal(t, []string{"start"}, rec.events)
	assert.True(t, d.Speaking())

	feed(c, d, 0.0, 10)
	assert.Equal(t, []string{"start", "end"}, rec.events)
}

func TestDetector_HardTimeout(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	d := New(Config{SilenceThreshold: 0.05, EndOfUtterance: 5 * time.Second, HardFallback: time.Second}, c, rec.start, rec.end)

	feed(c, d, 0.5, 60) // 1.2s of continuous speech

	require.Len(t, rec.events, 3)
	assert.Equal(t, []string{"start", "end", "start"}, rec.events, "a loud frame after the forced end opens a new utterance")

	d.Close()
	assert.Equal(t, 0, c.Pending())
}

func TestDetector_HardTimeoutFiresOnce(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	d := New(Config{SilenceThreshold: 0.05, EndOfUtterance: 5 * time.Second, HardFallback: time.Second}, c, rec.start, rec.end)

	d.ProcessSample(0.5)
	c.Advance(10 * time.Second)

	assert.Equal(t, []string{"start", "end"}, rec.events)
}

func TestDetector_CloseCancelsWithoutEnd(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	d := New(DefaultConfig(), c, rec.start, rec.end)

	d.ProcessSample(0.5)
	d.ProcessSample(0.0)
	d.Close()
	c.Advance(2 * time.Minute)

	assert.Equal(t, []string{"start"}, rec.events)
	assert.False(t, d.Speaking())
}
