// Package playback renders remote media: it schedules received audio
// chunks for output and keeps the most recent remote video frame available
// for display.
//
// Video follows the latest-wins policy of the capture side: each arriving
// frame overwrites the slot, nothing is queued. Audio output is sized to
// absorb network jitter and survives underruns and device failures without
// failing the call.
package playback

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/relaycall/media/audio"
)

// AudioOutput is a streaming playback device. Write may accept fewer bytes
// than supplied, which indicates buffer underrun.
type AudioOutput interface {
	Write(data []byte) (int, error)
	Close() error
}

// AudioOutputFactory creates the playback device. The sink calls it lazily
// on the first chunk and again after an unrecoverable device error.
type AudioOutputFactory func() (AudioOutput, error)

// ErrNoOutput indicates no playback device could be created.
var ErrNoOutput = errors.New("audio output unavailable")

// RemoteFrame is one received remote video frame, still compressed.
type RemoteFrame struct {
	Data           []byte
	Width          int
	Height         int
	SenderUserID   string
	SenderUserName string
	ReceivedAt     time.Time
}

// SinkConfig controls the playback sink.
type SinkConfig struct {
	// BufferMultiple sizes the streaming device at a multiple of its
	// minimum safe buffer to absorb network jitter.
	BufferMultiple int

	// Decoder converts received chunk payloads to PCM. Defaults to raw
	// little-endian PCM, matching the relay wire format.
	Decoder audio.Decoder
}

// DefaultSinkConfig returns the standard jitter-tolerant configuration.
func DefaultSinkConfig() *SinkConfig {
	return &SinkConfig{
		BufferMultiple: 4,
		Decoder:        audio.NewPCMDecoder(),
	}
}

// Sink renders remote media for the active call.
type Sink struct {
	mu      sync.Mutex
	factory AudioOutputFactory
	config  *SinkConfig

	output AudioOutput
	frame  *RemoteFrame

	underruns    atomic.Uint64
	outputResets atomic.Uint64
}

// NewSink creates a playback sink. No device is acquired until the first
// received chunk.
func NewSink(factory AudioOutputFactory, config *SinkConfig) *Sink {
	if config == nil {
		config = DefaultSinkConfig()
	}
	if config.Decoder == nil {
		config.Decoder = audio.NewPCMDecoder()
	}
	return &Sink{factory: factory, config: config}
}

// WriteFrame stores a received frame in the latest-wins display slot.
func (s *Sink) WriteFrame(frame *RemoteFrame) {
	if frame == nil {
		return
	}
	if frame.ReceivedAt.IsZero() {
		frame.ReceivedAt = time.Now()
	}
	s.mu.Lock()
	s.frame = frame
	s.mu.Unlock()
}

// LatestFrame returns the most recent remote frame, or nil before the
// first arrival.
func (s *Sink) LatestFrame() *RemoteFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// DecodeLatest decompresses the most recent remote frame for rendering.
func (s *Sink) DecodeLatest() (image.Image, error) {
	s.mu.Lock()
	frame := s.frame
	s.mu.Unlock()

	if frame == nil {
		return nil, errors.New("no remote frame received yet")
	}
	return jpeg.Decode(bytes.NewReader(frame.Data))
}

// PlayChunk decodes one received audio payload and schedules it for
// output. Underruns are logged and tolerated; device errors tear the
// output down so the next chunk recreates it.
func (s *Sink) PlayChunk(data []byte) error {
	pcm, err := s.config.Decoder.Decode(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Sink.PlayChunk",
			"error":    err.Error(),
		}).Warn("Dropping undecodable audio chunk")
		return nil
	}

	out := make([]byte, len(pcm)*2)
	for i, sample := range pcm {
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.output == nil {
		output, err := s.factory()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Sink.PlayChunk",
				"error":    err.Error(),
			}).Error("Audio output creation failed")
			return ErrNoOutput
		}
		s.output = output
		logrus.WithFields(logrus.Fields{
			"function":        "Sink.PlayChunk",
			"buffer_multiple": s.config.BufferMultiple,
		}).Info("Audio output created")
	}

	n, err := s.output.Write(out)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Sink.PlayChunk",
			"error":    err.Error(),
		}).Warn("Audio output failed, will recreate on next chunk")
		_ = s.output.Close()
		s.output = nil
		s.outputResets.Add(1)
		return nil
	}
	if n < len(out) {
		s.underruns.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Sink.PlayChunk",
			"written":  n,
			"supplied": len(out),
		}).Debug("Audio output underrun")
	}
	return nil
}

// Underruns returns the number of short writes observed.
func (s *Sink) Underruns() uint64 {
	return s.underruns.Load()
}

// OutputResets returns how many times the device was torn down after an
// error.
func (s *Sink) OutputResets() uint64 {
	return s.outputResets.Load()
}

// Close releases the output device and clears the frame slot.
func (s *Sink) Close() {
	s.mu.Lock()
	output := s.output
	s.output = nil
	s.frame = nil
	s.mu.Unlock()

	if output != nil {
		if err := output.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Sink.Close",
				"error":    err.Error(),
			}).Warn("Audio output close reported error")
		}
	}
}
