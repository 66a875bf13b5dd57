package visual

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// WriteGrid lays a batch of NCHW images out row-major on a cols-wide
// grid with padding pixels between cells, normalizes each channel to
// [0, 1] by its min/max over the whole batch, and writes a PNG. The
// target directory is created on demand.
func WriteGrid(path string, images *tensor.Dense, cols, padding int) error {
	shape := images.Shape()
	if len(shape) != 4 {
		return fmt.Errorf("grid: want an NCHW tensor, got shape %v", shape)
	}
	b, c, h, w := shape[0], shape[1], shape[2], shape[3]
	if c != 1 && c != 3 {
		return fmt.Errorf("grid: want 1 or 3 channels, got %d", c)
	}
	if cols <= 0 {
		return fmt.Errorf("grid: cols must be > 0 (got %d)", cols)
	}
	data := images.Data().([]float64)
	plane := h * w

	lo := make([]float64, c)
	hi := make([]float64, c)
	chanBuf := make([]float64, b*plane)
	for ch := 0; ch < c; ch++ {
		for i := 0; i < b; i++ {
			copy(chanBuf[i*plane:(i+1)*plane], data[(i*c+ch)*plane:(i*c+ch+1)*plane])
		}
		lo[ch] = floats.Min(chanBuf)
		hi[ch] = floats.Max(chanBuf)
	}

	rows := (b + cols - 1) / cols
	width := padding + cols*(w+padding)
	height := padding + rows*(h+padding)
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			canvas.SetRGBA(x, y, color.RGBA{A: 255})
		}
	}

	norm := func(ch int, v float64) uint8 {
		span := hi[ch] - lo[ch]
		if span == 0 {
			return 0
		}
		return uint8(255 * (v - lo[ch]) / span)
	}

	for i := 0; i < b; i++ {
		y0 := padding + (i/cols)*(h+padding)
		x0 := padding + (i%cols)*(w+padding)
		base := i * c * plane
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var px color.RGBA
				px.A = 255
				if c == 1 {
					v := norm(0, data[base+y*w+x])
					px.R, px.G, px.B = v, v, v
				} else {
					px.R = norm(0, data[base+0*plane+y*w+x])
					px.G = norm(1, data[base+1*plane+y*w+x])
					px.B = norm(2, data[base+2*plane+y*w+x])
				}
				canvas.SetRGBA(x0+x, y0+y, px)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, canvas); err != nil {
		return fmt.Errorf("grid: encode %s: %w", path, err)
	}
	return nil
}
