package kinematics

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Filter is a Savitzky–Golay smoother: each output sample is the value of a
// least-squares polynomial fitted to the window around it. The first and last
// half-windows are evaluated on the polynomial fitted to the first and last
// full window, so the output has the input's length and polynomials up to the
// filter order pass through unchanged.
type Filter struct {
	window int
	order  int
}

// NewFilter validates the window and order.
func NewFilter(window, order int) (*Filter, error) {
	if err := validateFilter(window, order); err != nil {
		return nil, err
	}
	return &Filter{window: window, order: order}, nil
}

// WindowFor returns the window used for a series of n samples: the configured
// window, or the largest odd length <= n when the series is shorter.
func (f *Filter) WindowFor(n int) (int, error) {
	w := f.window
	if n < w {
		w = n
		if w%2 == 0 {
			w--
		}
	}
	if w <= f.order {
		return 0, fmt.Errorf("%w: %d samples cannot fit a window longer than polynomial order %d",
			ErrInsufficientData, n, f.order)
	}
	return w, nil
}

// Apply returns the smoothed copy of x.
func (f *Filter) Apply(x []float64) ([]float64, error) {
	n := len(x)
	w, err := f.WindowFor(n)
	if err != nil {
		return nil, err
	}
	h := projection(w, f.order)
	half := w / 2

	out := make([]float64, n)
	for i := range out {
		var row, start int
		switch {
		case i < half:
			row, start = i, 0
		case i >= n-half:
			row, start = w-(n-i), n-w
		default:
			row, start = half, i-half
		}
		out[i] = mat.Dot(h.RowView(row), mat.NewVecDense(w, x[start:start+w]))
	}
	return out, nil
}

// projection returns the window×window hat matrix of the Vandermonde matrix A
// over the window positions. It is built as Q₁Q₁ᵀ from the thin QR factor of A,
// which stays accurate at high orders where AᵀA is numerically singular. Row k
// evaluates the fitted polynomial at position k.
func projection(window, order int) *mat.Dense {
	half := window / 2
	scale := float64(half)
	if scale == 0 {
		scale = 1
	}

	cols := order + 1
	a := mat.NewDense(window, cols, nil)
	for i := 0; i < window; i++ {
		z := float64(i-half) / scale
		p := 1.0
		for j := 0; j < cols; j++ {
			a.Set(i, j, p)
			p *= z
		}
	}

	var qr mat.QR
	qr.Factorize(a)
	var q mat.Dense
	qr.QTo(&q)
	q1 := q.Slice(0, window, 0, cols)

	var h mat.Dense
	h.Mul(q1, q1.T())
	return &h
}
