package voice

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	// DefaultFFTSize is the analysis window in samples.
	DefaultFFTSize = 512

	// Decibel range mapped onto 0..255, as a browser AnalyserNode does by default.
	minDecibels = -100.0
	maxDecibels = -30.0
)

// EnergyMeter reduces PCM frames to an average spectral level in 0..255.
// It is not safe for concurrent use.
type EnergyMeter struct {
	size   int
	fft    *fourier.FFT
	window []float64
	seq    []float64
	coeff  []complex128
}

// NewEnergyMeter creates a meter with the given FFT size. Sizes below 32 use
// DefaultFFTSize.
func NewEnergyMeter(size int) *EnergyMeter {
	if size < 32 {
		size = DefaultFFTSize
	}
	w := make([]float64, size)
	for i := range w {
		w[i] = 1
	}
	return &EnergyMeter{
		size:   size,
		fft:    fourier.NewFFT(size),
		window: window.Hann(w),
		seq:    make([]float64, size),
		coeff:  make([]complex128, size/2+1),
	}
}

// Level returns the mean byte-scaled magnitude over all frequency bins,
// averaged across consecutive analysis windows of the frame. A short final
// window is zero-padded. An empty frame has level 0.
func (m *EnergyMeter) Level(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var total float64
	var windows int
	for off := 0; off < len(frame); off += m.size {
		end := min(off+m.size, len(frame))
		total += m.analyze(frame[off:end])
		windows++
	}
	return total / float64(windows)
}

func (m *EnergyMeter) analyze(samples []int16) float64 {
	for i := range m.seq {
		var v float64
		if i < len(samples) {
			v = float64(samples[i]) / 32768.0
		}
		m.seq[i] = v * m.window[i]
	}
	m.coeff = m.fft.Coefficients(m.coeff, m.seq)

	bins := m.size / 2
	scale := 255.0 / (maxDecibels - minDecibels)
	var sum float64
	for k := 0; k < bins; k++ {
		c := m.coeff[k]
		mag := math.Hypot(real(c), imag(c)) / float64(m.size)
		if mag <= 0 {
			continue
		}
		db := 20 * math.Log10(mag)
		v := (db - minDecibels) * scale
		switch {
		case v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		sum += math.Floor(v)
	}
	return sum / float64(bins)
}
