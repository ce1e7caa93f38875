// Package match scores a template against video frames.
//
// A Matcher is stateless: the same frame and template always produce the same
// Result. Thresholding is left to the caller.
package match

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/gift"
)

// ErrInvalidTemplate is returned when a template cannot be scored against a frame.
var ErrInvalidTemplate = errors.New("invalid template")

// Result is the best-scoring window for one frame.
type Result struct {
	Location   image.Point // top-left pixel of the best window
	Confidence float64     // normalized cross-correlation in [-1, 1]
}

// Matcher locates a template inside a frame.
type Matcher interface {
	Match(frame image.Image, tmpl *Template) (Result, error)
}

// channels is the number of colour channels scored. Alpha is ignored.
const channels = 3

// Template is an immutable pixel patch cut out of a reference frame.
type Template struct {
	patch *image.RGBA

	// zero-mean values per colour channel, row-major, and their joint L2 norm
	zm   [channels][]float64
	norm float64
}

// NewTemplate copies rect out of frame. The rectangle must lie inside the frame.
func NewTemplate(frame image.Image, rect image.Rectangle) (*Template, error) {
	if rect.Empty() {
		return nil, fmt.Errorf("%w: empty region %v", ErrInvalidTemplate, rect)
	}
	if !rect.In(frame.Bounds()) {
		return nil, fmt.Errorf("%w: region %v outside frame %v", ErrInvalidTemplate, rect, frame.Bounds())
	}

	crop := gift.New(gift.Crop(rect))
	patch := image.NewRGBA(crop.Bounds(frame.Bounds()))
	crop.Draw(patch, frame)

	t := &Template{patch: patch}
	w, h := rect.Dx(), rect.Dy()
	var ss float64
	for c := 0; c < channels; c++ {
		zm := make([]float64, w*h)
		var sum float64
		for y := 0; y < h; y++ {
			row := patch.Pix[y*patch.Stride : y*patch.Stride+4*w]
			for x := 0; x < w; x++ {
				v := float64(row[4*x+c])
				zm[y*w+x] = v
				sum += v
			}
		}
		mean := sum / float64(len(zm))
		for i := range zm {
			zm[i] -= mean
			ss += zm[i] * zm[i]
		}
		t.zm[c] = zm
	}
	t.norm = math.Sqrt(ss)
	return t, nil
}

// Size returns the template width and height.
func (t *Template) Size() image.Point {
	return t.patch.Bounds().Size()
}

// Image returns the template pixels, anchored at the origin. Callers must not modify it.
func (t *Template) Image() *image.RGBA {
	return t.patch
}

// CheckFits returns ErrInvalidTemplate if the template cannot slide over a frame of the given bounds.
func CheckFits(tmpl *Template, frame image.Rectangle) error {
	if tmpl == nil {
		return fmt.Errorf("%w: nil template", ErrInvalidTemplate)
	}
	size := tmpl.Size()
	if size.X > frame.Dx() || size.Y > frame.Dy() {
		return fmt.Errorf("%w: template %dx%d larger than frame %dx%d",
			ErrInvalidTemplate, size.X, size.Y, frame.Dx(), frame.Dy())
	}
	return nil
}

// toRGBA returns img as RGBA anchored at the origin, copying only when needed.
func toRGBA(img image.Image) *image.RGBA {
	if m, ok := img.(*image.RGBA); ok && m.Bounds().Min == (image.Point{}) {
		return m
	}
	g := gift.New()
	dst := image.NewRGBA(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}
