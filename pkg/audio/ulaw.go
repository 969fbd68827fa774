// Package audio provides small helpers for the mu-law/8 kHz narrowband audio
// that flows through the telephony pipeline end-to-end. Driveline never
// transcodes the media path; these helpers exist for level metering and for
// generating well-formed frames in tests.
package audio

import (
	"math"

	"github.com/zaf/g711"
)

const (
	// SampleRate is the fixed telephony sample rate in Hz.
	SampleRate = 8000

	// FrameSamples is the number of samples in one ~20 ms telephony frame.
	FrameSamples = 160

	// ulawSilence is the mu-law code for a zero-amplitude sample.
	ulawSilence = 0xFF
)

// Silence returns n mu-law frames of digital silence.
func Silence(n int) []byte {
	buf := make([]byte, n*FrameSamples)
	for i := range buf {
		buf[i] = ulawSilence
	}
	return buf
}

// RMS decodes a mu-law frame to linear PCM and returns its root-mean-square
// level normalised to [0, 1]. Used for inbound level metering; an empty frame
// reports 0.
func RMS(frame []byte) float64 {
	if len(frame) == 0 {
		return 0
	}
	pcm := g711.DecodeUlaw(frame)
	var sum float64
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	for i := 0; i < samples; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(samples))
}

// EncodePCM converts 16-bit little-endian linear PCM to mu-law. Primarily
// used by tests to synthesize realistic media frames.
func EncodePCM(pcm []byte) []byte {
	return g711.EncodeUlaw(pcm)
}

// Tone generates n samples of a sine wave at freq Hz and amplitude [0, 1],
// mu-law encoded. Test fixture helper.
func Tone(freq float64, amplitude float64, n int) []byte {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(amplitude * math.MaxInt16 * math.Sin(2*math.Pi*freq*float64(i)/SampleRate))
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return g711.EncodeUlaw(pcm)
}
