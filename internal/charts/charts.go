// Package charts renders kinematic series to PNG files.
package charts

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/andresmejia3/barpath/internal/types"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("no samples to plot")

// File names written by Write.
const (
	DisplacementFile = "displacement.png"
	VelocityFile     = "velocity.png"
	AccelerationFile = "acceleration.png"
	BarPathFile      = "bar_path.png"
)

var (
	lineColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	pathColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

type chart struct {
	file   string
	title  string
	xLabel string
	yLabel string
	pts    plotter.XYs
	path   bool
}

// Write renders displacement, velocity and acceleration against time plus the
// bar path (horizontal against vertical displacement) into dir, creating it if
// needed. It returns the written file paths.
func Write(dir string, s types.KinematicSeries) ([]string, error) {
	n := s.Len()
	if n == 0 {
		return nil, ErrNoData
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}

	disp := make(plotter.XYs, n)
	vel := make(plotter.XYs, n)
	acc := make(plotter.XYs, n)
	path := make(plotter.XYs, n)
	for i, t := range s.Timestamps {
		disp[i] = plotter.XY{X: t, Y: s.Displacement[i].Y}
		vel[i] = plotter.XY{X: t, Y: s.Velocity[i]}
		acc[i] = plotter.XY{X: t, Y: s.Acceleration[i]}
		path[i] = plotter.XY{X: s.Displacement[i].X, Y: s.Displacement[i].Y}
	}

	charts := []chart{
		{DisplacementFile, "Vertical Displacement", "Time (s)", "Displacement (m)", disp, false},
		{VelocityFile, "Vertical Velocity", "Time (s)", "Velocity (m/s)", vel, false},
		{AccelerationFile, "Vertical Acceleration", "Time (s)", "Acceleration (m/s²)", acc, false},
		{BarPathFile, "Bar Path", "Horizontal (m)", "Vertical (m)", path, true},
	}

	written := make([]string, 0, len(charts))
	for _, c := range charts {
		file := filepath.Join(dir, c.file)
		if err := c.save(file); err != nil {
			return written, fmt.Errorf("plot %s: %w", c.file, err)
		}
		written = append(written, file)
	}
	return written, nil
}

func (c chart) save(file string) error {
	p := plot.New()
	p.Title.Text = c.title
	p.X.Label.Text = c.xLabel
	p.Y.Label.Text = c.yLabel
	p.Add(plotter.NewGrid())

	if c.path {
		line, points, err := plotter.NewLinePoints(c.pts)
		if err != nil {
			return err
		}
		line.Color = pathColor
		line.Width = vg.Points(1.5)
		points.Color = pathColor
		points.Radius = vg.Points(2)
		p.Add(line, points)
		return p.Save(6*vg.Inch, 8*vg.Inch, file)
	}

	line, err := plotter.NewLine(c.pts)
	if err != nil {
		return err
	}
	line.Color = lineColor
	line.Width = vg.Points(1.5)
	p.Add(line)
	return p.Save(10*vg.Inch, 4*vg.Inch, file)
}
