package video

import (
	"errors"
	"image"
	"time"
)

// RawFrame is one planar YUV 4:2:0 frame as delivered by the camera.
//
// Planes carry their own row strides, and the chroma planes additionally a
// pixel stride: 1 for fully planar sources, 2 for semi-planar sources that
// interleave their chroma samples. Getting these strides wrong is the
// classic source of green-shifted video, so conversion never assumes
// tightly packed input.
type RawFrame struct {
	Width  int
	Height int

	Y []byte
	U []byte
	V []byte

	YRowStride    int
	UVRowStride   int
	UVPixelStride int

	CapturedAt time.Time
}

// ErrInvalidFrame indicates frame dimensions or plane sizes are unusable.
var ErrInvalidFrame = errors.New("invalid raw frame")

// ConvertToNV21 packs a planar frame into a single interleaved buffer:
// the full-resolution luma plane followed by interleaved V/U chroma rows.
// Row and pixel strides are honored per plane.
func ConvertToNV21(frame RawFrame) ([]byte, error) {
	if frame.Width <= 0 || frame.Height <= 0 || frame.Width%2 != 0 || frame.Height%2 != 0 {
		return nil, ErrInvalidFrame
	}
	if frame.YRowStride < frame.Width {
		return nil, ErrInvalidFrame
	}
	if frame.UVPixelStride <= 0 {
		return nil, ErrInvalidFrame
	}

	width := frame.Width
	height := frame.Height
	chromaWidth := width / 2
	chromaHeight := height / 2

	out := make([]byte, width*height+2*chromaWidth*chromaHeight)

	// Luma rows, dropping any row padding.
	for row := 0; row < height; row++ {
		src := row * frame.YRowStride
		if src+width > len(frame.Y) {
			return nil, ErrInvalidFrame
		}
		copy(out[row*width:(row+1)*width], frame.Y[src:src+width])
	}

	// Chroma rows interleaved V then U, honoring the pixel stride.
	base := width * height
	for row := 0; row < chromaHeight; row++ {
		for col := 0; col < chromaWidth; col++ {
			src := row*frame.UVRowStride + col*frame.UVPixelStride
			if src >= len(frame.V) || src >= len(frame.U) {
				return nil, ErrInvalidFrame
			}
			dst := base + row*width + col*2
			out[dst] = frame.V[src]
			out[dst+1] = frame.U[src]
		}
	}

	return out, nil
}

// NV21ToYCbCr deinterleaves an NV21 buffer into a stdlib 4:2:0 image ready
// for JPEG encoding.
func NV21ToYCbCr(data []byte, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, ErrInvalidFrame
	}
	chromaWidth := width / 2
	chromaHeight := height / 2
	if len(data) < width*height+2*chromaWidth*chromaHeight {
		return nil, ErrInvalidFrame
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	copy(img.Y, data[:width*height])

	base := width * height
	for row := 0; row < chromaHeight; row++ {
		for col := 0; col < chromaWidth; col++ {
			src := base + row*width + col*2
			dst := row*img.CStride + col
			img.Cr[dst] = data[src]
			img.Cb[dst] = data[src+1]
		}
	}
	return img, nil
}

// scaleYCbCr resizes a 4:2:0 image to the target dimensions with nearest
// neighbor sampling per plane. Returns the input unchanged when the size
// already matches.
func scaleYCbCr(src *image.YCbCr, targetWidth, targetHeight int) *image.YCbCr {
	bounds := src.Bounds()
	srcWidth := bounds.Dx()
	srcHeight := bounds.Dy()
	if srcWidth == targetWidth && srcHeight == targetHeight {
		return src
	}

	dst := image.NewYCbCr(image.Rect(0, 0, targetWidth, targetHeight), image.YCbCrSubsampleRatio420)

	scalePlane(src.Y, srcWidth, srcHeight, src.YStride,
		dst.Y, targetWidth, targetHeight, dst.YStride)
	scalePlane(src.Cb, srcWidth/2, srcHeight/2, src.CStride,
		dst.Cb, targetWidth/2, targetHeight/2, dst.CStride)
	scalePlane(src.Cr, srcWidth/2, srcHeight/2, src.CStride,
		dst.Cr, targetWidth/2, targetHeight/2, dst.CStride)

	return dst
}

// scalePlane resamples a single plane with nearest neighbor mapping.
func scalePlane(src []byte, srcWidth, srcHeight, srcStride int,
	dst []byte, dstWidth, dstHeight, dstStride int) {
	if dstWidth <= 0 || dstHeight <= 0 {
		return
	}
	for y := 0; y < dstHeight; y++ {
		srcY := y * srcHeight / dstHeight
		for x := 0; x < dstWidth; x++ {
			srcX := x * srcWidth / dstWidth
			dst[y*dstStride+x] = src[srcY*srcStride+srcX]
		}
	}
}
