// Package video implements camera capture, YUV conversion and the outgoing
// video frame pipeline for call video.
//
// Capture is callback driven: the camera device delivers raw planar frames
// on its own goroutine, the producer throttles, converts, scales and
// compresses them, and emits encoded frames on a capacity-one latest-wins
// channel. Freshness is always preferred over completeness.
package video

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Facing identifies which way a camera points.
type Facing string

const (
	// FacingFront is the user-facing camera, preferred by default.
	FacingFront Facing = "front"
	// FacingBack is the world-facing camera.
	FacingBack Facing = "back"
	// FacingUnknown is any camera without facing metadata.
	FacingUnknown Facing = "unknown"
)

// CameraInfo describes one enumerable capture device.
type CameraInfo struct {
	ID string
	Facing Facing
	// SensorRotation is the device's native sensor rotation in degrees.
	// It is latched once at open time and applied to every frame.
	SensorRotation int
}

// Camera is an open capture device. Start begins frame delivery to the
// given callback on the device's own goroutine; Stop releases the device.
type Camera interface {
	Info() CameraInfo
	Start(onFrame func(RawFrame)) error
	Stop() error
}

// CameraProvider enumerates and opens capture devices.
type CameraProvider interface {
	List() ([]CameraInfo, error)
	Open(id string) (Camera, error)
}

// ErrNoCamera indicates no capture device could be acquired at all.
var ErrNoCamera = errors.New("no camera available")

// selectCamera opens the best available device: preferred facing first,
// then the opposite facing, then any remaining device.
func selectCamera(provider CameraProvider, preferred Facing) (Camera, error) {
	infos, err := provider.List()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCamera, err)
	}
	if len(infos) == 0 {
		return nil, ErrNoCamera
	}

	ordered := make([]CameraInfo, 0, len(infos))
	for _, info := range infos {
		if info.Facing == preferred {
			ordered = append(ordered, info)
		}
	}
	for _, info := range infos {
		if info.Facing != preferred {
			ordered = append(ordered, info)
		}
	}

	var lastErr error
	for _, info := range ordered {
		camera, err := provider.Open(info.ID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "selectCamera",
				"camera":   info.ID,
				"facing":   info.Facing,
				"error":    err.Error(),
			}).Warn("Camera open failed, trying next device")
			lastErr = err
			continue
		}
		logrus.WithFields(logrus.Fields{
			"function": "selectCamera",
			"camera":   info.ID,
			"facing":   info.Facing,
			"rotation": info.SensorRotation,
		}).Info("Camera selected")
		return camera, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCamera, lastErr)
	}
	return nil, ErrNoCamera
}
