package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTuning_EmptyPathIsDefault(t *testing.T) {
	got, err := LoadTuning("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTuning(), got)
	assert.Equal(t, 0.05, got.VAD.SilenceThreshold)
	assert.Equal(t, 3, got.Evaluation.Workers)
}

func TestLoadTuningFromReader_Overlay(t *testing.T) {
	doc := `
auto_advance_delay: 3s
vad:
  end_of_utterance: 1500ms
evaluation:
  workers: 5
`
	got, err := LoadTuningFromReader(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, got.AutoAdvanceDelay)
	assert.Equal(t, 1500*time.Millisecond, got.VAD.EndOfUtterance)
	assert.Equal(t, 60*time.Second, got.VAD.HardFallback)
	assert.Equal(t, 5, got.Evaluation.Workers)
	assert.Equal(t, "evaluation:stream", got.Evaluation.Stream)
	assert.Equal(t, 10*time.Second, got.ConnectTimeout)
}

func TestLoadTuningFromReader_RejectsUnknownKeys(t *testing.T) {
	_, err := LoadTuningFromReader(strings.NewReader("barge_in: true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "barge_in")
}

func TestLoadTuningFromReader_Validates(t *testing.T) {
	doc := `
connect_timeout: 0s
vad:
  silence_threshold: 0
evaluation:
  workers: 0
`
	_, err := LoadTuningFromReader(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect_timeout")
	assert.Contains(t, err.Error(), "vad.silence_threshold")
	assert.Contains(t, err.Error(), "evaluation.workers")
}

func TestLoadTuning_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interview.yaml")
	require.NoError(t, os.WriteFile(path, []byte("first_turn_delay: 250ms\n"), 0o600))

	got, err := LoadTuning(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, got.FirstTurnDelay)

	_, err = LoadTuning(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
