package compose

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"
)

// prepareWatermark decodes a PNG or JPEG watermark, scales it to ratio of the
// clip width and writes it as a PNG in dir.
func prepareWatermark(data []byte, clipWidth int, ratio float64, dir string) (string, func(), error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", nil, fmt.Errorf("decode watermark: %w", err)
	}

	bounds := src.Bounds()
	targetW := bounds.Dx()
	if clipWidth > 0 && ratio > 0 {
		targetW = max(1, int(float64(clipWidth)*ratio))
	}
	targetH := max(1, bounds.Dy()*targetW/bounds.Dx())

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	f, err := os.CreateTemp(dir, "confession-watermark-*.png")
	if err != nil {
		return "", nil, fmt.Errorf("create watermark file: %w", err)
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }
	if err := png.Encode(f, dst); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("encode watermark (source %s): %w", format, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}
