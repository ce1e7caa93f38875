// Package kinematics turns tracked template positions into displacement,
// velocity and acceleration series and summarizes them.
package kinematics

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is returned when a series is too short for the
	// configured smoothing filter even after the window has been shrunk.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvalidSeries is returned for mismatched lengths, non-increasing
	// timestamps or an unusable calibration scale.
	ErrInvalidSeries = errors.New("invalid series")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid kinematics config")
)

const (
	DefaultWindowLength    = 15
	DefaultPolynomialOrder = 3
)

// Config selects which series are smoothed and the Savitzky–Golay parameters
// shared by all of them.
type Config struct {
	SmoothDisplacement bool `toml:"smooth_displacement"`
	SmoothVelocity     bool `toml:"smooth_velocity"`
	SmoothAcceleration bool `toml:"smooth_acceleration"`
	WindowLength       int  `toml:"window_length"`
	PolynomialOrder    int  `toml:"polynomial_order"`
}

// DefaultConfig smooths every series with a 15-sample cubic filter.
func DefaultConfig() Config {
	return Config{
		SmoothDisplacement: true,
		SmoothVelocity:     true,
		SmoothAcceleration: true,
		WindowLength:       DefaultWindowLength,
		PolynomialOrder:    DefaultPolynomialOrder,
	}
}

// Smoothing reports whether any series is smoothed.
func (c Config) Smoothing() bool {
	return c.SmoothDisplacement || c.SmoothVelocity || c.SmoothAcceleration
}

// Validate checks the filter parameters. They are ignored, and not checked,
// when smoothing is disabled for every series.
func (c Config) Validate() error {
	if !c.Smoothing() {
		return nil
	}
	return validateFilter(c.WindowLength, c.PolynomialOrder)
}

func validateFilter(window, order int) error {
	switch {
	case order < 0:
		return fmt.Errorf("%w: polynomial order must be >= 0, got %d", ErrInvalidConfig, order)
	case window < 1:
		return fmt.Errorf("%w: window length must be >= 1, got %d", ErrInvalidConfig, window)
	case window%2 == 0:
		return fmt.Errorf("%w: window length must be odd, got %d", ErrInvalidConfig, window)
	case window <= order:
		return fmt.Errorf("%w: window length %d must exceed polynomial order %d", ErrInvalidConfig, window, order)
	}
	return nil
}
