package kinematics

import "fmt"

// Gradient differentiates f with respect to t. Interior samples use the
// second-order central difference for non-uniform spacing; the two ends use
// one-sided first differences, so the result has the input's length. A single
// sample has zero gradient.
func Gradient(f, t []float64) ([]float64, error) {
	n := len(f)
	if len(t) != n {
		return nil, fmt.Errorf("%w: %d values but %d timestamps", ErrInvalidSeries, n, len(t))
	}
	if err := checkIncreasing(t); err != nil {
		return nil, err
	}

	out := make([]float64, n)
	if n < 2 {
		return out, nil
	}

	out[0] = (f[1] - f[0]) / (t[1] - t[0])
	out[n-1] = (f[n-1] - f[n-2]) / (t[n-1] - t[n-2])
	for i := 1; i < n-1; i++ {
		hs := t[i] - t[i-1]
		hd := t[i+1] - t[i]
		out[i] = (hs*hs*f[i+1] + (hd*hd-hs*hs)*f[i] - hd*hd*f[i-1]) / (hs * hd * (hd + hs))
	}
	return out, nil
}

func checkIncreasing(t []float64) error {
	for i := 1; i < len(t); i++ {
		if !(t[i] > t[i-1]) {
			return fmt.Errorf("%w: timestamp %d (%v) does not follow %v", ErrInvalidSeries, i, t[i], t[i-1])
		}
	}
	return nil
}
