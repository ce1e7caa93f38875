package types

import (
	"fmt"
	"image"
)

// Frame is one decoded video frame. Sources hand it to the tracker for a single
// matching pass; the image must not be modified after it is returned.
type Frame struct {
	Index     int     // zero-based position in the source
	Timestamp float64 // capture time in seconds
	Image     image.Image
}

// TemplateRegion is the user-selected rectangle around the tracked object, in pixels.
type TemplateRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect returns the region as an image.Rectangle.
func (r TemplateRegion) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Empty reports whether the region has no area.
func (r TemplateRegion) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Within reports whether the region lies fully inside bounds.
func (r TemplateRegion) Within(bounds image.Rectangle) bool {
	return !r.Empty() && r.Rect().In(bounds)
}

func (r TemplateRegion) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.Width, r.Height)
}

// Observation is one accepted match: the template centre in pixels at a frame's timestamp.
type Observation struct {
	Position   image.Point `json:"position"`
	Timestamp  float64     `json:"timestamp"`
	Frame      int         `json:"frame"`
	Confidence float64     `json:"confidence"`
}

// DisplacementSample is an observation in physical units, re-based so the first
// vertical value is zero, with the vertical axis pointing up.
type DisplacementSample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// KinematicSeries holds aligned displacement, vertical velocity and vertical
// acceleration series. All four slices have the same length.
type KinematicSeries struct {
	Timestamps   []float64            `json:"timestamps"`
	Displacement []DisplacementSample `json:"displacement"`
	Velocity     []float64            `json:"velocity"`
	Acceleration []float64            `json:"acceleration"`
}

// Len returns the number of samples in the series.
func (s KinematicSeries) Len() int {
	return len(s.Timestamps)
}

// ResultSummary describes the velocity series of one finished run.
type ResultSummary struct {
	PeakVelocity float64 `json:"peak_velocity"`
	AvgVelocity  float64 `json:"avg_velocity"`
	MinVelocity  float64 `json:"min_velocity"`
	StdVelocity  float64 `json:"std_velocity"`
	TotalPoints  int     `json:"total_points"`
	SuccessRate  float64 `json:"success_rate"` // fraction in [0, 1]
}

// ExportRow is one line of the flat tabular export.
type ExportRow struct {
	Index     int
	Timestamp float64
	X         float64
	Y         float64
}
