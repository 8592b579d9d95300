// Package quality implements network quality sensing and adaptive stream
// control for active calls.
//
// A Sampler periodically inspects the active network connection and
// classifies it into a discrete tier. The Controller consumes tier changes
// and reshapes the video producer accordingly, falling back to audio-only
// under severe degradation. Classification is a pure function of a single
// sample, so no hysteresis is required.
package quality

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TransportKind identifies the active network transport.
type TransportKind string

const (
	// TransportWifi is a wifi connection.
	TransportWifi TransportKind = "wifi"
	// TransportEthernet is a wired connection.
	TransportEthernet TransportKind = "ethernet"
	// TransportCellular is a mobile data connection.
	TransportCellular TransportKind = "cellular"
	// TransportNone indicates no usable transport.
	TransportNone TransportKind = "none"
)

// Tier is the coarse classification of current network capability.
// Higher values indicate better conditions.
type Tier int

const (
	// TierPoor indicates a barely usable connection.
	TierPoor Tier = iota
	// TierFair indicates a constrained but workable connection.
	TierFair
	// TierGood indicates a solid connection.
	TierGood
	// TierExcellent indicates optimal conditions.
	TierExcellent
)

// String returns the lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierPoor:
		return "poor"
	case TierFair:
		return "fair"
	case TierGood:
		return "good"
	case TierExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// ConnectionSample is one measurement of the active connection.
type ConnectionSample struct {
	Transport      TransportKind
	DownstreamKbps int
	MeasuredAt     time.Time
}

// Classify maps a connection sample to a quality tier.
//
// Wifi and ethernet above 5000 kbps are excellent, otherwise good.
// Cellular above 10000 kbps is good, above 2000 kbps fair, otherwise poor.
// Anything else is poor.
func Classify(sample ConnectionSample) Tier {
	switch sample.Transport {
	case TransportWifi, TransportEthernet:
		if sample.DownstreamKbps > 5000 {
			return TierExcellent
		}
		return TierGood
	case TransportCellular:
		switch {
		case sample.DownstreamKbps > 10000:
			return TierGood
		case sample.DownstreamKbps > 2000:
			return TierFair
		default:
			return TierPoor
		}
	default:
		return TierPoor
	}
}

// ConnectionMonitor provides access to the platform's connection state.
// Implementations are expected to return quickly; the sampler calls Sample
// once per tick on its own goroutine.
type ConnectionMonitor interface {
	Sample() (ConnectionSample, error)
}

// ErrNoMonitor indicates the sampler was started without a monitor.
var ErrNoMonitor = errors.New("no connection monitor configured")

// SamplerConfig controls sampling behavior.
type SamplerConfig struct {
	// Interval between connection inspections.
	Interval time.Duration
}

// DefaultSamplerConfig returns the standard 2 second sampling interval.
func DefaultSamplerConfig() *SamplerConfig {
	return &SamplerConfig{Interval: 2 * time.Second}
}

// Sampler periodically classifies the connection and publishes tier
// changes. Only the latest sample is retained and subscribers are notified
// only when the tier actually changes.
type Sampler struct {
	mu      sync.Mutex
	monitor ConnectionMonitor
	config  *SamplerConfig

	tierCb func(tier Tier, transport string)

	latest   ConnectionSample
	lastTier Tier
	hasTier  bool

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSampler creates a sampler over the given connection monitor.
func NewSampler(monitor ConnectionMonitor, config *SamplerConfig) *Sampler {
	if config == nil {
		config = DefaultSamplerConfig()
	}
	return &Sampler{monitor: monitor, config: config}
}

// SetTierCallback registers the subscriber notified on tier changes. The
// raw transport kind string accompanies the tier for diagnostics.
func (s *Sampler) SetTierCallback(cb func(tier Tier, transport string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tierCb = cb
}

// Start begins the sampling loop. It is an error to start twice.
func (s *Sampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor == nil {
		return ErrNoMonitor
	}
	if s.running {
		return nil
	}
	s.running = true
	s.hasTier = false
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stopCh)

	logrus.WithFields(logrus.Fields{
		"function": "Sampler.Start",
		"interval": s.config.Interval,
	}).Info("Network quality sampler started")
	return nil
}

// Stop halts the sampling loop and waits for it to finish.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logrus.WithFields(logrus.Fields{
		"function": "Sampler.Stop",
	}).Info("Network quality sampler stopped")
}

// IsRunning reports whether the sampling loop is active.
func (s *Sampler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sampler) loop(stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick performs one sample-classify-publish cycle. Exposed so tests and
// the engine can drive sampling deterministically.
func (s *Sampler) Tick() {
	sample, err := s.monitor.Sample()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Sampler.Tick",
			"error":    err.Error(),
		}).Warn("Connection sample failed, treating as no transport")
		sample = ConnectionSample{Transport: TransportNone, MeasuredAt: time.Now()}
	}
	if sample.MeasuredAt.IsZero() {
		sample.MeasuredAt = time.Now()
	}

	tier := Classify(sample)

	s.mu.Lock()
	s.latest = sample
	changed := !s.hasTier || tier != s.lastTier
	s.lastTier = tier
	s.hasTier = true
	cb := s.tierCb
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":        "Sampler.Tick",
		"transport":       sample.Transport,
		"downstream_kbps": sample.DownstreamKbps,
		"tier":            tier.String(),
		"changed":         changed,
	}).Debug("Connection sampled")

	if changed && cb != nil {
		cb(tier, string(sample.Transport))
	}
}

// Latest returns the most recent connection sample.
func (s *Sampler) Latest() ConnectionSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// CurrentTier returns the most recently published tier and whether any
// sample has been taken yet.
func (s *Sampler) CurrentTier() (Tier, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTier, s.hasTier
}
