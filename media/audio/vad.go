// Package audio implements microphone capture, the voice activity gate and
// the PCM/opus codec layer for call audio.
//
// Capture runs on a dedicated goroutine performing blocking reads from the
// microphone device. Every captured buffer passes through the voice
// activity gate, which suppresses transmission of silence and roughly
// halves bandwidth compared to always-on transmission.
package audio

import (
	"math"

	"github.com/sirupsen/logrus"
)

// GateConfig controls the voice activity gate.
type GateConfig struct {
	// Threshold is the RMS amplitude (in int16 sample units) above which a
	// buffer counts as speech.
	Threshold float64

	// HangoverBuffers is how many consecutive below-threshold buffers are
	// tolerated before the gate flips back to silent. This hysteresis
	// prevents clipping the tail of sentences.
	HangoverBuffers int
}

// DefaultGateConfig returns thresholds tuned for 16 kHz mono speech.
func DefaultGateConfig() *GateConfig {
	return &GateConfig{
		Threshold:       500.0,
		HangoverBuffers: 5,
	}
}

// Gate decides whether a captured buffer represents speech worth
// transmitting. It is not safe for concurrent use; the capture loop is its
// only caller.
type Gate struct {
	config *GateConfig

	speaking    bool
	silentCount int

	speakingCb func(speaking bool)
}

// NewGate creates a gate in the silent state.
func NewGate(config *GateConfig) *Gate {
	if config == nil {
		config = DefaultGateConfig()
	}
	return &Gate{config: config}
}

// SetSpeakingCallback registers the observer fired on actual speaking state
// transitions, never on every buffer.
func (g *Gate) SetSpeakingCallback(cb func(speaking bool)) {
	g.speakingCb = cb
}

// Speaking reports the current gate state.
func (g *Gate) Speaking() bool {
	return g.speaking
}

// Process classifies one buffer and returns whether it should be
// forwarded. Buffers inside the hangover window are still forwarded.
func (g *Gate) Process(pcm []int16) bool {
	rms := RMS(pcm)

	if rms > g.config.Threshold {
		g.silentCount = 0
		if !g.speaking {
			g.speaking = true
			logrus.WithFields(logrus.Fields{
				"function": "Gate.Process",
				"rms":      rms,
			}).Debug("Voice activity started")
			if g.speakingCb != nil {
				g.speakingCb(true)
			}
		}
		return true
	}

	if !g.speaking {
		return false
	}

	g.silentCount++
	if g.silentCount > g.config.HangoverBuffers {
		g.speaking = false
		logrus.WithFields(logrus.Fields{
			"function":      "Gate.Process",
			"silent_frames": g.silentCount,
		}).Debug("Voice activity ended")
		if g.speakingCb != nil {
			g.speakingCb(false)
		}
		return false
	}
	return true
}

// RMS computes the root-mean-square amplitude of a PCM buffer.
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range pcm {
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
