package voice

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noiseFrame returns n samples of uniform noise with the given peak (0..1).
func noiseFrame(rng *rand.Rand, n int, peak float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16((rng.Float64()*2 - 1) * peak * 32767)
	}
	return out
}

func toneFrame(n, rate int, freq, peak float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(math.Sin(2*math.Pi*freq*float64(i)/float64(rate)) * peak * 32767)
	}
	return out
}

func TestEnergyOfSilenceIsZero(t *testing.T) {
	t.Parallel()

	m := NewEnergyMeter(DefaultFFTSize)
	assert.Zero(t, m.Level(nil))
	assert.Zero(t, m.Level(make([]int16, 1024)))
}

func TestEnergySeparatesSpeechFromRoomNoise(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	m := NewEnergyMeter(DefaultFFTSize)

	loud := m.Level(noiseFrame(rng, 1024, 0.3))
	quiet := m.Level(noiseFrame(rng, 1024, 0.0005))

	assert.Greater(t, loud, 100.0)
	assert.Less(t, quiet, 10.0)
}

func TestEnergyOfToneIsAboveSilence(t *testing.T) {
	t.Parallel()

	m := NewEnergyMeter(DefaultFFTSize)
	level := m.Level(toneFrame(DefaultFFTSize, 16000, 1000, 0.5))
	assert.Greater(t, level, 0.0)
	assert.LessOrEqual(t, level, 255.0)
}

func TestEnergyHandlesShortAndLongFrames(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	m := NewEnergyMeter(64)

	short := m.Level(noiseFrame(rng, 10, 0.5))
	long := m.Level(noiseFrame(rng, 64*5+7, 0.5))
	assert.Greater(t, short, 0.0)
	assert.Greater(t, long, 0.0)
}

func TestSilenceDetectorArmAndCancel(t *testing.T) {
	t.Parallel()

	d := NewSilenceDetector(10)
	assert.False(t, d.Armed())

	assert.Equal(t, TransitionNone, d.Observe(80))
	assert.Equal(t, TransitionArm, d.Observe(3))
	assert.True(t, d.Armed())
	assert.Equal(t, TransitionNone, d.Observe(2), "already armed")
	assert.Equal(t, TransitionCancel, d.Observe(10), "threshold itself is not quiet")
	assert.False(t, d.Armed())
	assert.Equal(t, TransitionArm, d.Observe(0))

	d.Reset()
	assert.False(t, d.Armed())
}

func TestPCMBufferKeepsMostRecentAudio(t *testing.T) {
	t.Parallel()

	b := NewPCMBuffer(4, time.Second)
	require.Equal(t, 4, b.Capacity())
	assert.Empty(t, b.Samples())

	b.Write([]int16{1, 2, 3})
	assert.Equal(t, []int16{1, 2, 3}, b.Samples())

	b.Write([]int16{4, 5})
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, []int16{2, 3, 4, 5}, b.Samples())

	b.Write([]int16{6, 7, 8, 9, 10})
	assert.Equal(t, []int16{7, 8, 9, 10}, b.Samples())

	b.Write([]int16{11})
	assert.Equal(t, []int16{8, 9, 10, 11}, b.Samples())

	b.Reset()
	assert.Zero(t, b.Len())
}

func TestEncodeWAVHeader(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1000, -1000, 32767}
	wav := EncodeWAV(samples, 16000)
	require.Len(t, wav, wavHeaderSize+len(samples)*2)

	le := binary.LittleEndian
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(36+8), le.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, uint32(16), le.Uint32(wav[16:20]))
	assert.Equal(t, uint16(1), le.Uint16(wav[20:22]), "PCM")
	assert.Equal(t, uint16(1), le.Uint16(wav[22:24]), "mono")
	assert.Equal(t, uint32(16000), le.Uint32(wav[24:28]))
	assert.Equal(t, uint32(32000), le.Uint32(wav[28:32]), "byte rate")
	assert.Equal(t, uint16(2), le.Uint16(wav[32:34]), "block align")
	assert.Equal(t, uint16(16), le.Uint16(wav[34:36]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(8), le.Uint32(wav[40:44]))

	assert.Equal(t, samples, DecodePCM16(wav[wavHeaderSize:]))
}

func TestDecodePCM16IgnoresTrailingByte(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []int16{1, -1}, DecodePCM16([]byte{1, 0, 0xff, 0xff, 9}))
}

func TestRecorderReusesRingForSameRate(t *testing.T) {
	t.Parallel()

	c := NewController(Deps{}, Config{MaxUtterance: time.Second})
	first := c.recorder(16000)
	first.Write([]int16{1, 2, 3})

	again := c.recorder(16000)
	assert.Same(t, first, again)
	assert.Zero(t, again.Len(), "reused ring starts empty")

	other := c.recorder(8000)
	assert.NotSame(t, first, other)
	assert.Equal(t, 8000, other.Capacity())
}
