package quality

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// VideoConfigurator is the controller's view of the video producer.
type VideoConfigurator interface {
	// Reconfigure applies a new stream profile to subsequent frames.
	Reconfigure(profile StreamProfile)
	// SetEnabled turns video production on or off.
	SetEnabled(enabled bool)
	// IsStreaming reports whether video frames are currently produced.
	IsStreaming() bool
}

// Controller applies quality tiers to the video producer.
//
// On every tier change while adaptive mode is enabled it reconfigures the
// producer with the tier's profile. When the tier degrades to poor during a
// streaming video call it additionally disables video entirely and surfaces
// a notice to the local participant. With adaptive mode off, tier changes
// are observed and logged but not applied.
type Controller struct {
	mu       sync.Mutex
	video    VideoConfigurator
	adaptive bool

	// videoCall reports whether the active call carries video at all.
	videoCall func() bool

	noticeCb func(text string)
}

// NewController creates a controller in adaptive mode.
func NewController(video VideoConfigurator, videoCall func() bool) *Controller {
	return &Controller{
		video:     video,
		adaptive:  true,
		videoCall: videoCall,
	}
}

// SetNoticeCallback registers the receiver of user-facing quality notices.
func (c *Controller) SetNoticeCallback(cb func(text string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noticeCb = cb
}

// SetAdaptive toggles adaptive mode.
func (c *Controller) SetAdaptive(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adaptive = enabled

	logrus.WithFields(logrus.Fields{
		"function": "Controller.SetAdaptive",
		"enabled":  enabled,
	}).Info("Adaptive quality mode changed")
}

// Adaptive reports whether adaptive mode is enabled.
func (c *Controller) Adaptive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adaptive
}

// HandleTierChange reacts to one tier change published by the sampler.
func (c *Controller) HandleTierChange(tier Tier) {
	c.mu.Lock()
	adaptive := c.adaptive
	noticeCb := c.noticeCb
	c.mu.Unlock()

	if !adaptive {
		logrus.WithFields(logrus.Fields{
			"function": "Controller.HandleTierChange",
			"tier":     tier.String(),
		}).Debug("Tier change observed, adaptive mode off")
		return
	}

	profile := ProfileForTier(tier)
	c.video.Reconfigure(profile)

	logrus.WithFields(logrus.Fields{
		"function":     "Controller.HandleTierChange",
		"tier":         tier.String(),
		"width":        profile.Width,
		"height":       profile.Height,
		"quality":      profile.CompressionQuality,
		"bitrate_kbps": profile.TargetBitrateKbps,
	}).Info("Applied stream profile for tier")

	if tier == TierPoor && c.videoCall != nil && c.videoCall() && c.video.IsStreaming() {
		c.video.SetEnabled(false)

		logrus.WithFields(logrus.Fields{
			"function": "Controller.HandleTierChange",
		}).Warn("Poor network during video call, falling back to audio only")

		if noticeCb != nil {
			noticeCb("Network quality is poor. Video has been turned off to keep audio working.")
		}
	}
}
