package voice

import "time"

// PCMBuffer is a fixed-size ring of 16-bit samples. Once full it keeps the
// most recent samples, so an utterance longer than the cap loses its start
// rather than growing without bound.
type PCMBuffer struct {
	buf  []int16
	size int
	head int // write position
	tail int // read position
	full bool
}

// NewPCMBuffer creates a ring holding at most maxDuration of audio at sampleRate.
func NewPCMBuffer(sampleRate int, maxDuration time.Duration) *PCMBuffer {
	size := pcmCapacity(sampleRate, maxDuration)
	return &PCMBuffer{buf: make([]int16, size), size: size}
}

func pcmCapacity(sampleRate int, maxDuration time.Duration) int {
	size := int(int64(sampleRate) * int64(maxDuration) / int64(time.Second))
	if size <= 0 {
		size = sampleRate
	}
	if size <= 0 {
		size = 16000
	}
	return size
}

// Write appends samples, overwriting the oldest when full.
func (b *PCMBuffer) Write(samples []int16) {
	if len(samples) >= b.size {
		copy(b.buf, samples[len(samples)-b.size:])
		b.head, b.tail, b.full = 0, 0, true
		return
	}
	for _, s := range samples {
		if b.full {
			b.tail = (b.tail + 1) % b.size
		}
		b.buf[b.head] = s
		b.head = (b.head + 1) % b.size
		if b.head == b.tail {
			b.full = true
		}
	}
}

// Samples returns the buffered samples in order.
func (b *PCMBuffer) Samples() []int16 {
	out := make([]int16, b.Len())
	if len(out) == 0 {
		return out
	}
	if b.head > b.tail {
		copy(out, b.buf[b.tail:b.head])
		return out
	}
	n := copy(out, b.buf[b.tail:])
	copy(out[n:], b.buf[:b.head])
	return out
}

// Len returns the number of buffered samples.
func (b *PCMBuffer) Len() int {
	switch {
	case b.full:
		return b.size
	case b.head >= b.tail:
		return b.head - b.tail
	default:
		return b.size - b.tail + b.head
	}
}

// Reset empties the ring.
func (b *PCMBuffer) Reset() {
	b.head, b.tail, b.full = 0, 0, false
}

// Capacity returns the maximum number of samples held.
func (b *PCMBuffer) Capacity() int {
	return b.size
}
