// Package audio converts raw PCM frames to and from the representation used on
// the control channel. Everything here is stateless.
package audio

import (
	"encoding/base64"
	"math"
	"strings"
	"time"

	"github.com/yoockh/intervue/internal/utils"
)

const (
	// InputSampleRate is the candidate microphone rate expected by the speech model.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of synthesized model audio.
	OutputSampleRate = 24000
	// InputMIMEType labels candidate audio sent to the speech model.
	InputMIMEType = "audio/pcm;rate=16000"
)

// EncodeBase64 encodes little-endian s16 PCM for a JSON frame.
func EncodeBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeBase64 decodes a base64 PCM payload. A leading data URL prefix
// ("data:audio/pcm;base64,") is tolerated.
func DecodeBase64(s string) ([]byte, error) {
	const op = "audio.DecodeBase64"

	raw := strings.TrimSpace(s)
	if i := strings.Index(raw, ","); i >= 0 && strings.HasPrefix(raw, "data:") {
		raw = raw[i+1:]
	}
	if raw == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "empty audio payload", nil)
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "invalid base64 audio", err)
	}
	if len(b)%2 != 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "pcm16 payload has odd length", nil)
	}
	return b, nil
}

// FloatToPCM16 converts float samples in [-1, 1] to little-endian s16 PCM.
// Out of range samples are clamped.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s))) * 32768
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		n := int16(v)
		out[2*i] = byte(n)
		out[2*i+1] = byte(uint16(n) >> 8)
	}
	return out
}

// PCM16ToFloat converts little-endian s16 PCM to float samples. A trailing odd
// byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		n := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = float32(n) / 32768
	}
	return out
}

// Level returns the mean absolute amplitude of a frame, the energy measure
// fed to the voice activity detector.
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(samples))
}

// Duration returns the playback length of mono s16 PCM at sampleRate.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := int64(len(pcm) / 2)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
