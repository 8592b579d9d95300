package audio

import (
	"errors"
	"fmt"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// ErrEmptyAudio indicates an empty payload was passed to the codec layer.
var ErrEmptyAudio = errors.New("empty audio data")

// Encoder converts PCM samples to wire bytes for relay transmission.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// Decoder converts received wire bytes back to PCM samples.
type Decoder interface {
	Decode(data []byte) ([]int16, error)
}

// PCMEncoder emits raw little-endian 16-bit PCM. This is the default wire
// format of the relay; frame payloads stay uncompressed end to end.
type PCMEncoder struct{}

// NewPCMEncoder creates a passthrough PCM encoder.
func NewPCMEncoder() *PCMEncoder {
	return &PCMEncoder{}
}

// Encode converts samples to little-endian bytes.
func (e *PCMEncoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}
	data := make([]byte, len(pcm)*2)
	for i, sample := range pcm {
		data[i*2] = byte(sample)
		data[i*2+1] = byte(sample >> 8)
	}
	return data, nil
}

// PCMDecoder reads raw little-endian 16-bit PCM.
type PCMDecoder struct{}

// NewPCMDecoder creates a passthrough PCM decoder.
func NewPCMDecoder() *PCMDecoder {
	return &PCMDecoder{}
}

// Decode converts little-endian bytes back to samples. A trailing odd byte
// is dropped.
func (d *PCMDecoder) Decode(data []byte) ([]int16, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	sampleCount := len(data) / 2
	pcm := make([]int16, sampleCount)
	for i := 0; i < sampleCount; i++ {
		pcm[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return pcm, nil
}

// OpusDecoder decodes opus-coded remote chunks for deployments whose relay
// carries opus instead of raw PCM. Decoding is pure Go via pion/opus.
type OpusDecoder struct {
	decoder opus.Decoder
}

// NewOpusDecoder creates an opus decoder.
func NewOpusDecoder() *OpusDecoder {
	logrus.WithFields(logrus.Fields{
		"function": "NewOpusDecoder",
	}).Info("Creating opus decoder")
	return &OpusDecoder{decoder: opus.NewDecoder()}
}

// Decode converts one opus frame to mono PCM samples.
func (d *OpusDecoder) Decode(data []byte) ([]int16, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	// 1920 samples covers a 40ms frame at 48kHz.
	output := make([]byte, 1920*2)

	bandwidth, isStereo, err := d.decoder.Decode(data, output)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	sampleCount := len(output) / 2
	if isStereo {
		sampleCount /= 2
	}

	pcm := make([]int16, sampleCount)
	for i := 0; i < sampleCount; i++ {
		pcm[i] = int16(output[i*2]) | int16(output[i*2+1])<<8
	}

	logrus.WithFields(logrus.Fields{
		"function":    "OpusDecoder.Decode",
		"input_size":  len(data),
		"pcm_samples": len(pcm),
		"bandwidth":   bandwidth.String(),
		"is_stereo":   isStereo,
	}).Debug("Opus frame decoded")

	return pcm, nil
}
