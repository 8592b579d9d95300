package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Capture format constants. The engine transmits mono 16 kHz 16-bit PCM.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 16000
	// Channels is the capture channel count.
	Channels = 1
	// DefaultFrameSamples is one 20ms buffer at the capture rate.
	DefaultFrameSamples = 320
)

// Sentinel errors for capture operations.
var (
	// ErrMicrophoneUnavailable indicates the microphone could not be opened.
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")

	// ErrAlreadyCapturing indicates Start was called while running.
	ErrAlreadyCapturing = errors.New("audio capture already running")
)

// Microphone is a capture device. Read blocks until a buffer is available
// and returns the number of samples written.
type Microphone interface {
	Read(buf []int16) (int, error)
	Close() error
}

// MicrophoneOpener acquires the capture device. Invoked once per Start so
// the device is held only while a call is active.
type MicrophoneOpener func() (Microphone, error)

// Chunk is one captured buffer of speech. Chunks are transient: forwarded
// sequentially through a short ring and never buffered beyond it.
type Chunk struct {
	PCM        []int16
	SampleRate uint32
	CapturedAt time.Time
}

// ProducerConfig controls the audio producer.
type ProducerConfig struct {
	Gate         *GateConfig
	FrameSamples int
	// RingSize bounds the output channel; when full the oldest chunk is
	// dropped to avoid unbounded latency.
	RingSize int
}

// DefaultProducerConfig returns the standard capture configuration.
func DefaultProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		Gate:         DefaultGateConfig(),
		FrameSamples: DefaultFrameSamples,
		RingSize:     4,
	}
}

// Producer captures microphone audio on a dedicated loop, gates it through
// voice activity detection and emits speech chunks on a bounded channel.
type Producer struct {
	mu      sync.Mutex
	openMic MicrophoneOpener
	config  *ProducerConfig
	gate    *Gate

	mic     Microphone
	out     chan *Chunk
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool

	// enabled gates forwarding without stopping capture (mute toggle).
	enabled atomic.Bool

	errorCb func(error)
	now     func() time.Time
}

// NewProducer creates an audio producer. The microphone is not opened
// until Start.
func NewProducer(openMic MicrophoneOpener, config *ProducerConfig) *Producer {
	if config == nil {
		config = DefaultProducerConfig()
	}
	if config.FrameSamples <= 0 {
		config.FrameSamples = DefaultFrameSamples
	}
	if config.RingSize <= 0 {
		config.RingSize = 4
	}

	p := &Producer{
		openMic: openMic,
		config:  config,
		gate:    NewGate(config.Gate),
		out:     make(chan *Chunk, config.RingSize),
		now:     time.Now,
	}
	p.enabled.Store(true)
	return p
}

// Output returns the channel of gated speech chunks.
func (p *Producer) Output() <-chan *Chunk {
	return p.out
}

// SetSpeakingCallback registers the speaking state transition observer.
// Must be set before Start.
func (p *Producer) SetSpeakingCallback(cb func(speaking bool)) {
	p.gate.SetSpeakingCallback(cb)
}

// SetErrorCallback registers the receiver of device errors occurring after
// a successful Start.
func (p *Producer) SetErrorCallback(cb func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorCb = cb
}

// SetEnabled toggles forwarding of captured audio. Capture keeps running so
// unmuting is instant.
func (p *Producer) SetEnabled(enabled bool) {
	p.enabled.Store(enabled)
	logrus.WithFields(logrus.Fields{
		"function": "Producer.SetEnabled",
		"enabled":  enabled,
	}).Info("Audio forwarding toggled")
}

// IsEnabled reports whether captured audio is forwarded.
func (p *Producer) IsEnabled() bool {
	return p.enabled.Load()
}

// IsRunning reports whether the capture loop is active.
func (p *Producer) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start opens the microphone and launches the capture loop.
func (p *Producer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyCapturing
	}

	mic, err := p.openMic()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Producer.Start",
			"error":    err.Error(),
		}).Error("Failed to open microphone")
		return fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}

	p.mic = mic
	p.running = true
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.captureLoop(mic, p.stopCh)

	logrus.WithFields(logrus.Fields{
		"function":      "Producer.Start",
		"sample_rate":   SampleRate,
		"frame_samples": p.config.FrameSamples,
	}).Info("Audio capture started")
	return nil
}

// Stop halts the capture loop and closes the microphone. The device is
// fully released before Stop returns.
func (p *Producer) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	mic := p.mic
	p.mic = nil
	p.mu.Unlock()

	if mic != nil {
		// Unblocks the pending Read inside the loop.
		if err := mic.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Producer.Stop",
				"error":    err.Error(),
			}).Warn("Microphone close reported error")
		}
	}
	p.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Producer.Stop",
	}).Info("Audio capture stopped")
}

// captureLoop performs blocking reads until stopped. Each buffer runs
// through the gate; only speech buffers are forwarded.
func (p *Producer) captureLoop(mic Microphone, stopCh chan struct{}) {
	defer p.wg.Done()

	buf := make([]int16, p.config.FrameSamples)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		n, err := mic.Read(buf)
		if err != nil {
			select {
			case <-stopCh:
				// Close during Stop unblocked the read; not a fault.
				return
			default:
			}
			logrus.WithFields(logrus.Fields{
				"function": "Producer.captureLoop",
				"error":    err.Error(),
			}).Error("Microphone read failed")
			p.mu.Lock()
			cb := p.errorCb
			p.mu.Unlock()
			if cb != nil {
				cb(fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err))
			}
			return
		}
		if n == 0 {
			continue
		}

		if !p.enabled.Load() {
			continue
		}

		if !p.gate.Process(buf[:n]) {
			continue
		}

		pcm := make([]int16, n)
		copy(pcm, buf[:n])
		p.forward(&Chunk{PCM: pcm, SampleRate: SampleRate, CapturedAt: p.now()})
	}
}

// forward pushes a chunk onto the ring, dropping the oldest entry when the
// consumer lags.
func (p *Producer) forward(chunk *Chunk) {
	select {
	case p.out <- chunk:
		return
	default:
	}

	select {
	case <-p.out:
		logrus.WithFields(logrus.Fields{
			"function": "Producer.forward",
		}).Debug("Audio ring full, dropped oldest chunk")
	default:
	}

	select {
	case p.out <- chunk:
	default:
	}
}
