package video

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/relaycall/quality"
)

// Clock abstracts wall time so the frame throttle can be tested
// deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Frame is one encoded outgoing video frame. Frames are transient:
// produced, transmitted and discarded, with at most one in flight.
type Frame struct {
	Data            []byte
	Width           int
	Height          int
	RotationDegrees int
	CapturedAt      time.Time
}

// ErrAlreadyStreaming indicates Start was called while running.
var ErrAlreadyStreaming = errors.New("video capture already running")

// ProducerConfig controls the video producer.
type ProducerConfig struct {
	PreferredFacing Facing

	// MinFrameInterval throttles capture; frames arriving faster are
	// dropped before any processing.
	MinFrameInterval time.Duration

	InitialProfile quality.StreamProfile
}

// DefaultProducerConfig returns the standard front-camera, 10 fps setup.
func DefaultProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		PreferredFacing:  FacingFront,
		MinFrameInterval: 100 * time.Millisecond,
		InitialProfile:   quality.ProfileForTier(quality.TierGood),
	}
}

// Producer owns the camera device and the outgoing frame pipeline.
//
// Frame delivery is callback driven from the camera's goroutine. Each
// accepted frame is converted to an interleaved luma+chroma buffer, scaled
// to the active profile, JPEG compressed at the profile's quality factor
// and corrected for the sensor rotation latched at open time.
type Producer struct {
	mu       sync.Mutex
	provider CameraProvider
	config   *ProducerConfig

	camera    Camera
	rotation  int
	profile   quality.StreamProfile
	lastFrame time.Time
	running   bool

	enabled atomic.Bool

	out     chan *Frame
	clock   Clock
	errorCb func(error)

	framesProcessed atomic.Uint64
	framesDropped   atomic.Uint64
}

// NewProducer creates a video producer. No device is acquired until Start.
func NewProducer(provider CameraProvider, config *ProducerConfig) *Producer {
	if config == nil {
		config = DefaultProducerConfig()
	}
	if config.MinFrameInterval <= 0 {
		config.MinFrameInterval = 100 * time.Millisecond
	}

	p := &Producer{
		provider: provider,
		config:   config,
		profile:  config.InitialProfile,
		out:      make(chan *Frame, 1),
		clock:    systemClock{},
	}
	p.enabled.Store(true)
	return p
}

// Output returns the latest-wins channel of encoded frames.
func (p *Producer) Output() <-chan *Frame {
	return p.out
}

// SetClock overrides the throttle clock. Must be called before Start.
func (p *Producer) SetClock(clock Clock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if clock != nil {
		p.clock = clock
	}
}

// SetErrorCallback registers the receiver of device errors after Start.
func (p *Producer) SetErrorCallback(cb func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorCb = cb
}

// Start selects and opens a camera and begins frame delivery. The sensor
// rotation of the chosen device is latched here and applied to every frame.
func (p *Producer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyStreaming
	}

	camera, err := selectCamera(p.provider, p.config.PreferredFacing)
	if err != nil {
		return err
	}

	if err := camera.Start(p.handleFrame); err != nil {
		_ = camera.Stop()
		return fmt.Errorf("%w: %v", ErrNoCamera, err)
	}

	p.camera = camera
	p.rotation = camera.Info().SensorRotation
	p.lastFrame = time.Time{}
	p.running = true

	logrus.WithFields(logrus.Fields{
		"function": "Producer.Start",
		"camera":   camera.Info().ID,
		"facing":   camera.Info().Facing,
		"rotation": p.rotation,
		"width":    p.profile.Width,
		"height":   p.profile.Height,
	}).Info("Video capture started")
	return nil
}

// Stop halts frame delivery and releases the camera. The device is fully
// closed before Stop returns.
func (p *Producer) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	camera := p.camera
	p.camera = nil
	p.mu.Unlock()

	if camera != nil {
		if err := camera.Stop(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Producer.Stop",
				"error":    err.Error(),
			}).Warn("Camera stop reported error")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Producer.Stop",
	}).Info("Video capture stopped")
}

// SwitchCamera swaps to a device with the opposite facing. The streaming
// flag is preserved across the close/reopen sequence so observers see no
// spurious state change.
func (p *Producer) SwitchCamera() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.camera == nil {
		return ErrNoCamera
	}

	current := p.camera.Info()
	target := FacingBack
	if current.Facing == FacingBack {
		target = FacingFront
	}

	if err := p.camera.Stop(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Producer.SwitchCamera",
			"error":    err.Error(),
		}).Warn("Camera stop reported error during switch")
	}
	p.camera = nil

	camera, err := selectCamera(p.provider, target)
	if err != nil {
		p.running = false
		return err
	}
	if err := camera.Start(p.handleFrame); err != nil {
		_ = camera.Stop()
		p.running = false
		return fmt.Errorf("%w: %v", ErrNoCamera, err)
	}

	p.camera = camera
	p.rotation = camera.Info().SensorRotation
	p.lastFrame = time.Time{}

	logrus.WithFields(logrus.Fields{
		"function": "Producer.SwitchCamera",
		"camera":   camera.Info().ID,
		"facing":   camera.Info().Facing,
		"rotation": p.rotation,
	}).Info("Camera switched")
	return nil
}

// Reconfigure applies a new stream profile to subsequent frames.
func (p *Producer) Reconfigure(profile quality.StreamProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profile = profile

	logrus.WithFields(logrus.Fields{
		"function": "Producer.Reconfigure",
		"width":    profile.Width,
		"height":   profile.Height,
		"quality":  profile.CompressionQuality,
	}).Info("Video profile reconfigured")
}

// Profile returns the active stream profile.
func (p *Producer) Profile() quality.StreamProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profile
}

// SetEnabled toggles frame production without releasing the camera.
func (p *Producer) SetEnabled(enabled bool) {
	p.enabled.Store(enabled)
	logrus.WithFields(logrus.Fields{
		"function": "Producer.SetEnabled",
		"enabled":  enabled,
	}).Info("Video production toggled")
}

// IsStreaming reports whether frames are currently produced.
func (p *Producer) IsStreaming() bool {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	return running && p.enabled.Load()
}

// IsRunning reports whether a camera is open.
func (p *Producer) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// FramesProcessed returns how many frames passed the throttle and were
// compressed.
func (p *Producer) FramesProcessed() uint64 {
	return p.framesProcessed.Load()
}

// FramesDropped returns how many frames the throttle discarded.
func (p *Producer) FramesDropped() uint64 {
	return p.framesDropped.Load()
}

// handleFrame runs on the camera's delivery goroutine for every captured
// frame. Throttled frames are dropped here, before any conversion work.
func (p *Producer) handleFrame(raw RawFrame) {
	if !p.enabled.Load() {
		return
	}

	now := p.clock.Now()

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	if !p.lastFrame.IsZero() && now.Sub(p.lastFrame) < p.config.MinFrameInterval {
		p.mu.Unlock()
		p.framesDropped.Add(1)
		return
	}
	p.lastFrame = now
	profile := p.profile
	rotation := p.rotation
	p.mu.Unlock()

	frame, err := p.process(raw, profile, rotation, now)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Producer.handleFrame",
			"error":    err.Error(),
		}).Warn("Dropping unprocessable frame")
		return
	}
	p.framesProcessed.Add(1)
	p.emit(frame)
}

// process converts, scales, compresses and rotation-corrects one frame.
func (p *Producer) process(raw RawFrame, profile quality.StreamProfile, rotation int, now time.Time) (*Frame, error) {
	nv21, err := ConvertToNV21(raw)
	if err != nil {
		return nil, fmt.Errorf("yuv conversion failed: %w", err)
	}

	img, err := NV21ToYCbCr(nv21, raw.Width, raw.Height)
	if err != nil {
		return nil, fmt.Errorf("yuv unpack failed: %w", err)
	}

	if profile.Width > 0 && profile.Height > 0 {
		img = scaleYCbCr(img, profile.Width, profile.Height)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: profile.CompressionQuality}); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}

	data := buf.Bytes()
	width := img.Bounds().Dx()
	height := img.Bounds().Dy()

	if rotation%360 != 0 {
		data, width, height, err = rotateJPEG(data, rotation, profile.CompressionQuality)
		if err != nil {
			return nil, fmt.Errorf("rotation failed: %w", err)
		}
	}

	capturedAt := raw.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = now
	}

	return &Frame{
		Data:            data,
		Width:           width,
		Height:          height,
		RotationDegrees: rotation,
		CapturedAt:      capturedAt,
	}, nil
}

// emit pushes a frame latest-wins: a not-yet-consumed previous frame is
// overwritten rather than queued behind.
func (p *Producer) emit(frame *Frame) {
	select {
	case p.out <- frame:
		return
	default:
	}

	select {
	case <-p.out:
	default:
	}

	select {
	case p.out <- frame:
	default:
	}
}

// rotateJPEG applies the sensor rotation correction by re-decoding the
// compressed frame, rotating and re-encoding at the same quality.
func rotateJPEG(data []byte, degrees, jpegQuality int) ([]byte, int, int, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, err
	}

	rotated := rotateImage(img, degrees)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rotated, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, 0, 0, err
	}

	bounds := rotated.Bounds()
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

// rotateImage rotates clockwise by 90, 180 or 270 degrees. Other values
// return the image unchanged.
func rotateImage(src image.Image, degrees int) image.Image {
	degrees = ((degrees % 360) + 360) % 360

	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	switch degrees {
	case 90:
		dst := image.NewRGBA(image.Rect(0, 0, height, width))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				dst.Set(height-1-y, x, src.At(bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
		return dst
	case 180:
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				dst.Set(width-1-x, height-1-y, src.At(bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
		return dst
	case 270:
		dst := image.NewRGBA(image.Rect(0, 0, height, width))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				dst.Set(y, width-1-x, src.At(bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
		return dst
	default:
		return src
	}
}
