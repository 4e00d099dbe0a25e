package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/yoockh/intervue/internal/vad"
	"gopkg.in/yaml.v3"
)

// Tuning holds the timing knobs of a live interview.
type Tuning struct {
	ConnectTimeout    time.Duration    `yaml:"connect_timeout"`
	ProcessingTimeout time.Duration    `yaml:"processing_timeout"`
	AutoAdvanceDelay  time.Duration    `yaml:"auto_advance_delay"`
	FirstTurnDelay    time.Duration    `yaml:"first_turn_delay"`
	VAD               vad.Config       `yaml:"vad"`
	Evaluation        EvaluationTuning `yaml:"evaluation"`
	CodeCacheTTL      time.Duration    `yaml:"code_cache_ttl"`
}

type EvaluationTuning struct {
	Workers int    `yaml:"workers"`
	Stream  string `yaml:"stream"`
	Group   string `yaml:"group"`
}

func DefaultTuning() Tuning {
	return Tuning{
		ConnectTimeout:    10 * time.Second,
		ProcessingTimeout: 5 * time.Second,
		AutoAdvanceDelay:  10 * time.Second,
		FirstTurnDelay:    time.Second,
		VAD:               vad.DefaultConfig(),
		Evaluation: EvaluationTuning{
			Workers: 3,
			Stream:  "evaluation:stream",
			Group:   "evaluation-workers",
		},
		CodeCacheTTL: time.Hour,
	}
}

// LoadTuning reads the YAML overlay at path on top of DefaultTuning. An empty
// path returns the defaults.
func LoadTuning(path string) (Tuning, error) {
	if path == "" {
		return DefaultTuning(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	t, err := LoadTuningFromReader(f)
	if err != nil {
		return Tuning{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return t, nil
}

// LoadTuningFromReader decodes a YAML overlay from r. Unknown keys are rejected.
func LoadTuningFromReader(r io.Reader) (Tuning, error) {
	t := DefaultTuning()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return Tuning{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

// Validate returns a joined error listing every invalid field.
func (t Tuning) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"connect_timeout":      t.ConnectTimeout,
		"processing_timeout":   t.ProcessingTimeout,
		"auto_advance_delay":   t.AutoAdvanceDelay,
		"vad.end_of_utterance": t.VAD.EndOfUtterance,
		"vad.hard_fallback":    t.VAD.HardFallback,
	}
	for _, name := range []string{"connect_timeout", "processing_timeout", "auto_advance_delay", "vad.end_of_utterance", "vad.hard_fallback"} {
		if positive[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, positive[name]))
		}
	}
	if t.FirstTurnDelay < 0 {
		errs = append(errs, fmt.Errorf("first_turn_delay must not be negative, got %s", t.FirstTurnDelay))
	}
	if t.VAD.SilenceThreshold <= 0 || t.VAD.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold must be in (0, 1), got %v", t.VAD.SilenceThreshold))
	}
	if t.Evaluation.Workers < 1 {
		errs = append(errs, fmt.Errorf("evaluation.workers must be at least 1, got %d", t.Evaluation.Workers))
	}
	if t.Evaluation.Stream == "" || t.Evaluation.Group == "" {
		errs = append(errs, errors.New("evaluation.stream and evaluation.group must be set"))
	}
	return errors.Join(errs...)
}
