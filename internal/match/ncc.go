package match

import (
	"image"
	"math"
)

// NCC is a pure-Go zero-mean normalized cross-correlation matcher over the
// three colour channels. It scores the same quantity as OpenCV's
// TM_CCOEFF_NORMED on a 3-channel image and scans windows in row-major order,
// so ties resolve to the top-most, then left-most window.
type NCC struct{}

// Match implements Matcher.
func (NCC) Match(frame image.Image, tmpl *Template) (Result, error) {
	if err := CheckFits(tmpl, frame.Bounds()); err != nil {
		return Result{}, err
	}

	img := toRGBA(frame)
	fw, fh := img.Bounds().Dx(), img.Bounds().Dy()
	size := tmpl.Size()
	tw, th := size.X, size.Y
	n := float64(tw * th)

	var sum, sq [channels][]float64
	for c := 0; c < channels; c++ {
		sum[c], sq[c] = integral(img, c)
	}
	stride := fw + 1
	window := func(tab []float64, x, y int) float64 {
		return tab[(y+th)*stride+x+tw] - tab[y*stride+x+tw] - tab[(y+th)*stride+x] + tab[y*stride+x]
	}

	best := Result{Confidence: math.Inf(-1)}
	for y := 0; y <= fh-th; y++ {
		for x := 0; x <= fw-tw; x++ {
			// each zm channel sums to zero, so the window means drop out of the numerator
			var num float64
			for j := 0; j < th; j++ {
				off := (y+j)*img.Stride + 4*x
				row := img.Pix[off : off+4*tw]
				for c := 0; c < channels; c++ {
					tz := tmpl.zm[c][j*tw : (j+1)*tw]
					for i, t := range tz {
						num += t * float64(row[4*i+c])
					}
				}
			}

			var variance float64
			for c := 0; c < channels; c++ {
				s := window(sum[c], x, y)
				variance += math.Max(window(sq[c], x, y)-s*s/n, 0)
			}
			score := 0.0
			if den := tmpl.norm * math.Sqrt(variance); den > 1e-9 {
				score = clamp(num / den)
			}
			if score > best.Confidence {
				best = Result{Location: image.Pt(x, y).Add(frame.Bounds().Min), Confidence: score}
			}
		}
	}
	return best, nil
}

// integral builds summed-area tables of one channel's values and squared
// values, (w+1)*(h+1) entries each with a zero first row and column.
func integral(img *image.RGBA, c int) (sum, sq []float64) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	stride := w + 1
	sum = make([]float64, stride*(h+1))
	sq = make([]float64, stride*(h+1))
	for y := 0; y < h; y++ {
		var rs, rq float64
		for x := 0; x < w; x++ {
			v := float64(img.Pix[y*img.Stride+4*x+c])
			rs += v
			rq += v * v
			sum[(y+1)*stride+x+1] = sum[y*stride+x+1] + rs
			sq[(y+1)*stride+x+1] = sq[y*stride+x+1] + rq
		}
	}
	return sum, sq
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
