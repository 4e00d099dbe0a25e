package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/intervue/internal/utils"
)

func TestDecodeBase64_StripsDataURLPrefix(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f}
	got, err := DecodeBase64("data:audio/pcm;base64," + EncodeBase64(pcm))
	require.NoError(t, err)
	assert.Equal(t, pcm, got)
}

func TestDecodeBase64_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"not base64": "%%%",
		"odd length": EncodeBase64([]byte{1, 2, 3}),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeBase64(in)
			require.Error(t, err)
			assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
		})
	}
}

func TestFloatToPCM16_ClampsAndSaturates(t *testing.T) {
	pcm := FloatToPCM16([]float32{0, 1, -1, 2, -2, 0.5})
	got := PCM16ToFloat(pcm)

	require.Len(t, got, 6)
	assert.Equal(t, float32(0), got[0])
	assert.InDelta(t, 1.0, got[1], 1e-4)
	assert.Equal(t, float32(-1), got[2])
	assert.InDelta(t, 1.0, got[3], 1e-4)
	assert.Equal(t, float32(-1), got[4])
	assert.InDelta(t, 0.5, got[5], 1e-4)
}

func TestLevel_MeanAbsoluteAmplitude(t *testing.T) {
	assert.Equal(t, 0.0, Level(nil))
	assert.InDelta(t, 0.25, Level([]float32{0.5, -0.5, 0, 0}), 1e-9)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, time.Second, Duration(make([]byte, OutputSampleRate*2), OutputSampleRate))
	assert.Equal(t, 20*time.Millisecond, Duration(make([]byte, 320*2), InputSampleRate))
	assert.Equal(t, time.Duration(0), Duration([]byte{1, 2}, 0))
}
