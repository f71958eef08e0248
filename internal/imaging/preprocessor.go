// Package imaging shrinks post attachments and tiles several of them into a
// single JPEG before they are sent to the model.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"trainer-bot/internal/core/ports"
)

const (
	DefaultCellWidth  = 512
	DefaultCellHeight = 512
	jpegQuality       = 85
	maxGridImages     = 4
)

var ErrNoImages = errors.New("no images to composite")

// Preprocessor implements ports.ImagePreprocessor.
type Preprocessor struct {
	CellWidth  int
	CellHeight int
}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{CellWidth: DefaultCellWidth, CellHeight: DefaultCellHeight}
}

var _ ports.ImagePreprocessor = (*Preprocessor)(nil)

// ResizeWithinBounds re-encodes data as JPEG no larger than maxW x maxH.
func (p *Preprocessor) ResizeWithinBounds(data []byte, maxW, maxH int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), maxW, maxH)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}
	return encode(dst)
}

// CompositeGrid tiles up to four images: two side by side, three or four in
// a 2x2 grid. Each image is letterboxed into its cell on white.
func (p *Preprocessor) CompositeGrid(images [][]byte) ([]byte, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	if len(images) > maxGridImages {
		images = images[:maxGridImages]
	}

	cols, rows := 2, 2
	if len(images) <= 2 {
		rows = 1
	}
	if len(images) == 1 {
		cols = 1
	}
	cw, ch := p.cell()
	canvas := image.NewRGBA(image.Rect(0, 0, cols*cw, rows*ch))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	for i, data := range images {
		src, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode image %d: %w", i, err)
		}
		sb := src.Bounds()
		w, h := scaleInto(sb.Dx(), sb.Dy(), cw, ch)
		x0 := (i%cols)*cw + (cw-w)/2
		y0 := (i/cols)*ch + (ch-h)/2
		draw.CatmullRom.Scale(canvas, image.Rect(x0, y0, x0+w, y0+h), src, sb, draw.Over, nil)
	}
	return encode(canvas)
}

func (p *Preprocessor) cell() (int, int) {
	w, h := p.CellWidth, p.CellHeight
	if w <= 0 {
		w = DefaultCellWidth
	}
	if h <= 0 {
		h = DefaultCellHeight
	}
	return w, h
}

// fit shrinks (w,h) to fit inside (maxW,maxH) and never enlarges.
func fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	return scaleInto(w, h, maxW, maxH)
}

// scaleInto scales (w,h) up or down to the largest size inside (maxW,maxH)
// with the same aspect ratio.
func scaleInto(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if w*maxH > h*maxW {
		nh := h * maxW / w
		return maxW, max(nh, 1)
	}
	nw := w * maxH / h
	return max(nw, 1), maxH
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
