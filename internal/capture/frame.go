package capture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// downscale decodes a frame and shrinks it so neither side exceeds maxSize.
// Frames already small enough are returned unchanged. width and height are
// those of the original frame; factor maps output pixels back onto it.
func downscale(data []byte, maxSize int) (out []byte, width, height int, factor float64, err error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("failed to decode frame: %w", err)
	}

	bounds := img.Bounds()
	width = bounds.Dx()
	height = bounds.Dy()

	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		return data, width, height, 1, nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = int(float64(height) * float64(maxSize) / float64(width))
		factor = float64(width) / float64(newWidth)
	} else {
		newHeight = maxSize
		newWidth = int(float64(width) * float64(maxSize) / float64(height))
		factor = float64(height) / float64(newHeight)
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, 0, 0, 0, fmt.Errorf("failed to encode resized frame: %w", err)
	}

	return buf.Bytes(), width, height, factor, nil
}
