// Package vad classifies periodic energy samples as speech or silence.
package vad

import "math"

// DefaultThreshold is the RMS level above which a sample counts as speech.
const DefaultThreshold = 0.015

// Decision lists the timer actions implied by one energy sample.
type Decision struct {
	// SpeechStarted is set on the first above-threshold sample of a session.
	SpeechStarted bool
	// CancelSilence is set when speech resumes while a silence timer is pending.
	CancelSilence bool
	// ArmSilence is set when silence follows observed speech and no silence
	// timer is pending yet.
	ArmSilence bool
}

// Gate is an edge detector over RMS samples. It has no clock of its own and
// is driven by the caller's sampling tick. Not safe for concurrent use.
type Gate struct {
	threshold      float64
	speechObserved bool
	silencePending bool
}

func NewGate(threshold float64) *Gate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Gate{threshold: threshold}
}

// Observe consumes one sample.
func (g *Gate) Observe(level float64) Decision {
	var d Decision
	if level > g.threshold {
		if !g.speechObserved {
			g.speechObserved = true
			d.SpeechStarted = true
		}
		if g.silencePending {
			g.silencePending = false
			d.CancelSilence = true
		}
		return d
	}

	// Silence before any speech is not the end of speech.
	if g.speechObserved && !g.silencePending {
		g.silencePending = true
		d.ArmSilence = true
	}
	return d
}

func (g *Gate) SpeechObserved() bool { return g.speechObserved }

func (g *Gate) SilencePending() bool { return g.silencePending }

func (g *Gate) Threshold() float64 { return g.threshold }

// Reset prepares the gate for a new capture session.
func (g *Gate) Reset() {
	g.speechObserved = false
	g.silencePending = false
}

// RMS returns the root-mean-square of normalized samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DecodeInt16LE appends 16-bit little-endian PCM to dst as samples in
// [-1, 1). A trailing odd byte is ignored.
func DecodeInt16LE(dst []float32, pcm []byte) []float32 {
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		dst = append(dst, float32(sample)/32768.0)
	}
	return dst
}
