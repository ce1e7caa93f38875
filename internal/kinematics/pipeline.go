package kinematics

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/andresmejia3/barpath/internal/types"
)

// Pipeline runs normalize → smooth → differentiate → summarize with a fixed
// configuration. It holds no per-run state and may be reused.
type Pipeline struct {
	cfg    Config
	filter *Filter
	logger *slog.Logger
}

// Analysis is the pipeline output for one run.
type Analysis struct {
	Series  types.KinematicSeries `json:"series"`
	Summary types.ResultSummary   `json:"summary"`
}

// NewPipeline validates cfg once. A nil logger discards output.
func NewPipeline(cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Pipeline{cfg: cfg, logger: logger}
	if cfg.Smoothing() {
		p.filter = &Filter{window: cfg.WindowLength, order: cfg.PolynomialOrder}
	}
	return p, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// ToPhysical converts observation centres from pixels to metres in image
// orientation (y grows downward) and returns them with their timestamps.
func ToPhysical(obs []types.Observation, scale float64) ([]types.DisplacementSample, []float64, error) {
	if math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 {
		return nil, nil, fmt.Errorf("%w: calibration scale must be > 0, got %v", ErrInvalidSeries, scale)
	}
	pos := make([]types.DisplacementSample, len(obs))
	ts := make([]float64, len(obs))
	for i, o := range obs {
		pos[i] = types.DisplacementSample{
			X: float64(o.Position.X) / scale,
			Y: float64(o.Position.Y) / scale,
		}
		ts[i] = o.Timestamp
	}
	return pos, ts, nil
}

// Normalize flips the vertical axis of physical positions so that it grows
// upward and re-bases it on the first sample. Horizontal values are kept.
func Normalize(pos []types.DisplacementSample) []types.DisplacementSample {
	out := make([]types.DisplacementSample, len(pos))
	if len(pos) == 0 {
		return out
	}
	y0 := pos[0].Y
	for i, p := range pos {
		out[i] = types.DisplacementSample{X: p.X, Y: -(p.Y - y0)}
	}
	return out
}

// Analyze converts tracker observations with the calibration scale and runs
// the pipeline. framesSeen is the number of frames the tracker read.
func (p *Pipeline) Analyze(obs []types.Observation, scale float64, framesSeen int) (*Analysis, error) {
	if len(obs) == 0 {
		return p.Process(nil, nil, framesSeen)
	}
	pos, ts, err := ToPhysical(obs, scale)
	if err != nil {
		return nil, err
	}
	return p.Process(ts, pos, framesSeen)
}

// Process runs the pipeline on positions already converted to metres, in
// image orientation. An empty input short-circuits to an all-zero summary.
func (p *Pipeline) Process(ts []float64, pos []types.DisplacementSample, framesSeen int) (*Analysis, error) {
	if len(ts) != len(pos) {
		return nil, fmt.Errorf("%w: %d positions but %d timestamps", ErrInvalidSeries, len(pos), len(ts))
	}
	if len(pos) == 0 {
		return &Analysis{Series: types.KinematicSeries{
			Timestamps:   []float64{},
			Displacement: []types.DisplacementSample{},
			Velocity:     []float64{},
			Acceleration: []float64{},
		}}, nil
	}
	if err := checkIncreasing(ts); err != nil {
		return nil, err
	}

	disp := Normalize(pos)
	xs := make([]float64, len(disp))
	ys := make([]float64, len(disp))
	for i, d := range disp {
		xs[i], ys[i] = d.X, d.Y
	}

	var err error
	if p.cfg.SmoothDisplacement {
		if xs, err = p.smooth("displacement x", xs); err != nil {
			return nil, err
		}
		if ys, err = p.smooth("displacement y", ys); err != nil {
			return nil, err
		}
		// Smoothing moves the first sample; keep the vertical reference at zero.
		y0 := ys[0]
		for i := range ys {
			ys[i] -= y0
		}
		for i := range disp {
			disp[i] = types.DisplacementSample{X: xs[i], Y: ys[i]}
		}
	}

	vel, err := Gradient(ys, ts)
	if err != nil {
		return nil, err
	}
	if p.cfg.SmoothVelocity {
		if vel, err = p.smooth("velocity", vel); err != nil {
			return nil, err
		}
	}

	acc, err := Gradient(vel, ts)
	if err != nil {
		return nil, err
	}
	if p.cfg.SmoothAcceleration {
		if acc, err = p.smooth("acceleration", acc); err != nil {
			return nil, err
		}
	}

	tsCopy := make([]float64, len(ts))
	copy(tsCopy, ts)
	a := &Analysis{
		Series: types.KinematicSeries{
			Timestamps:   tsCopy,
			Displacement: disp,
			Velocity:     vel,
			Acceleration: acc,
		},
		Summary: Summarize(vel, framesSeen),
	}
	p.logger.Debug("kinematics computed",
		slog.Int("points", a.Summary.TotalPoints),
		slog.Float64("peak_velocity", a.Summary.PeakVelocity),
		slog.Float64("success_rate", a.Summary.SuccessRate))
	return a, nil
}

func (p *Pipeline) smooth(series string, x []float64) ([]float64, error) {
	w, err := p.filter.WindowFor(len(x))
	if err != nil {
		return nil, fmt.Errorf("smoothing %s: %w", series, err)
	}
	if w != p.cfg.WindowLength {
		p.logger.Debug("smoothing window shrunk",
			slog.String("series", series),
			slog.Int("configured", p.cfg.WindowLength),
			slog.Int("used", w))
	}
	out, err := p.filter.Apply(x)
	if err != nil {
		return nil, fmt.Errorf("smoothing %s: %w", series, err)
	}
	return out, nil
}

// Rows flattens the displacement series for tabular export.
func (a *Analysis) Rows() []types.ExportRow {
	rows := make([]types.ExportRow, a.Series.Len())
	for i := range rows {
		rows[i] = types.ExportRow{
			Index:     i,
			Timestamp: a.Series.Timestamps[i],
			X:         a.Series.Displacement[i].X,
			Y:         a.Series.Displacement[i].Y,
		}
	}
	return rows
}
