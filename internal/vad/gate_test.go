package vad

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateIgnoresSilenceBeforeSpeech(t *testing.T) {
	t.Parallel()

	g := NewGate(0.015)
	for i := 0; i < 50; i++ {
		assert.Equal(t, Decision{}, g.Observe(0.001))
	}
	assert.False(t, g.SpeechObserved())
	assert.False(t, g.SilencePending())
}

func TestGateSpeechStartedFiresOnce(t *testing.T) {
	t.Parallel()

	g := NewGate(0.015)
	assert.Equal(t, Decision{SpeechStarted: true}, g.Observe(0.2))
	assert.Equal(t, Decision{}, g.Observe(0.3))

	// Energy dropping does not undo observed speech.
	assert.Equal(t, Decision{ArmSilence: true}, g.Observe(0.0))
	assert.True(t, g.SpeechObserved())
	assert.Equal(t, Decision{}, g.Observe(0.0))
}

func TestGateSpeechCancelsPendingSilence(t *testing.T) {
	t.Parallel()

	g := NewGate(0.015)
	g.Observe(0.2)
	assert.True(t, g.Observe(0.01).ArmSilence)
	assert.True(t, g.SilencePending())

	assert.Equal(t, Decision{CancelSilence: true}, g.Observe(0.05))
	assert.False(t, g.SilencePending())
	assert.True(t, g.Observe(0.01).ArmSilence)
}

func TestGateThresholdIsExclusive(t *testing.T) {
	t.Parallel()

	g := NewGate(0.015)
	assert.Equal(t, Decision{}, g.Observe(0.015))
	assert.False(t, g.SpeechObserved())
}

func TestGateReset(t *testing.T) {
	t.Parallel()

	g := NewGate(0)
	assert.Equal(t, DefaultThreshold, g.Threshold())
	g.Observe(1)
	g.Observe(0)
	g.Reset()
	assert.False(t, g.SpeechObserved())
	assert.False(t, g.SilencePending())
	assert.True(t, g.Observe(1).SpeechStarted)
}

func TestRMS(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, RMS(nil))
	assert.InDelta(t, 0.5, RMS([]float32{0.5, -0.5, 0.5, -0.5}), 1e-9)
}

func TestDecodeInt16LE(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 9)
	for i := 0; i < 4; i++ {
		v := int16(16384)
		if i%2 == 1 {
			v = -16384
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	pcm[8] = 0x7f

	samples := DecodeInt16LE([]float32{1}, pcm)
	assert.Equal(t, []float32{1, 0.5, -0.5, 0.5, -0.5}, samples)
	assert.InDelta(t, 0.5, RMS(samples[1:]), 1e-9)
	assert.Empty(t, DecodeInt16LE(nil, []byte{1}))
}
