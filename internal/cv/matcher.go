package cv

import (
	"fmt"
	"image"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/barpath/internal/match"
)

// Matcher scores templates with OpenCV's TM_CCOEFF_NORMED on 3-channel frames.
// It produces the same score as match.NCC. The template Mat is built on first
// use and reused until a different template is passed.
type Matcher struct {
	mu   sync.Mutex
	tmpl *match.Template
	tmat gocv.Mat
	mask gocv.Mat
}

// NewMatcher returns a Matcher. Call Close to release its Mats.
func NewMatcher() *Matcher {
	return &Matcher{tmat: gocv.NewMat(), mask: gocv.NewMat()}
}

// Match implements match.Matcher.
func (m *Matcher) Match(frame image.Image, tmpl *match.Template) (match.Result, error) {
	if err := match.CheckFits(tmpl, frame.Bounds()); err != nil {
		return match.Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tmpl != tmpl {
		tmat, err := gocv.ImageToMatRGB(tmpl.Image())
		if err != nil {
			return match.Result{}, fmt.Errorf("%w: %w", match.ErrInvalidTemplate, err)
		}
		m.tmat.Close()
		m.tmat = tmat
		m.tmpl = tmpl
	}

	img, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return match.Result{}, fmt.Errorf("convert frame: %w", err)
	}
	defer img.Close()

	result := gocv.NewMat()
	defer result.Close()
	gocv.MatchTemplate(img, m.tmat, &result, gocv.TmCcoeffNormed, m.mask)
	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)

	conf := float64(maxVal)
	switch {
	case math.IsNaN(conf) || math.IsInf(conf, 0):
		conf = 0
	case conf > 1:
		conf = 1
	case conf < -1:
		conf = -1
	}
	return match.Result{Location: maxLoc.Add(frame.Bounds().Min), Confidence: conf}, nil
}

// Close releases the cached template.
func (m *Matcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tmpl = nil
	if err := m.tmat.Close(); err != nil {
		return err
	}
	return m.mask.Close()
}
