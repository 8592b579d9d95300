package relaycall

import (
	"github.com/opd-ai/relaycall/media/audio"
	"github.com/opd-ai/relaycall/media/video"
	"github.com/opd-ai/relaycall/playback"
	"github.com/opd-ai/relaycall/quality"
	"github.com/opd-ai/relaycall/signaling"
)

// Options configures a call engine. ServerURL, UserID and the device
// factories are required for production use; every config pointer left nil
// falls back to its package default.
type Options struct {
	// ServerURL is the websocket address of the signaling server.
	ServerURL string
	// UserID identifies the local user to the server.
	UserID string
	// UserName is the local display name shown to remote participants.
	UserName string

	Dial    *signaling.DialConfig
	Audio   *audio.ProducerConfig
	Video   *video.ProducerConfig
	Sampler *quality.SamplerConfig
	Sink    *playback.SinkConfig

	// Cameras enumerates and opens capture devices.
	Cameras video.CameraProvider
	// OpenMic acquires the microphone, once per call.
	OpenMic audio.MicrophoneOpener
	// AudioOutput creates the playback device, lazily on first audio.
	AudioOutput playback.AudioOutputFactory
	// Connection exposes the platform's network state to the sampler.
	Connection quality.ConnectionMonitor

	// Signaler overrides the websocket client. Tests inject fakes here;
	// when set, ServerURL is unused.
	Signaler Signaler
}

// NewOptions returns options for the given server and identity with all
// component configs at their defaults.
func NewOptions(serverURL, userID, userName string) *Options {
	return &Options{
		ServerURL: serverURL,
		UserID:    userID,
		UserName:  userName,
	}
}
