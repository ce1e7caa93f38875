// Package tracker follows a single template through a video.
//
// A Tracker moves through UNINITIALIZED → CALIBRATING → TRACKING and ends in
// COMPLETED or FAILED. Calibration cuts the template out of the first frame and
// derives the pixels-per-metre scale; tracking scores every Nth frame and keeps
// the matches that clear the confidence threshold. Frames below the threshold
// are skipped, never zero-filled. A failed run still returns the observations
// collected before the failure.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/andresmejia3/barpath/internal/match"
	"github.com/andresmejia3/barpath/internal/types"
	"github.com/andresmejia3/barpath/internal/video"
)

var (
	// ErrCalibration reports a degenerate or out-of-bounds template region,
	// a non-positive physical height, or an unusable configuration.
	ErrCalibration = errors.New("calibration failed")
	// ErrCancelled reports that the run was stopped by its context.
	ErrCancelled = errors.New("tracking cancelled")
)

// Defaults for a barbell plate filmed side on.
const (
	DefaultPhysicalHeight = 0.45
	DefaultMatchThreshold = 0.3
	DefaultSampleInterval = 1
)

// State is the tracker lifecycle state.
type State int32

const (
	Uninitialized State = iota
	Calibrating
	Tracking
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Calibrating:
		return "CALIBRATING"
	case Tracking:
		return "TRACKING"
	case Completed:
		return "COMPLETED"
	case Failed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// FrameFunc observes every scored frame after the accept/drop decision.
type FrameFunc func(frame types.Frame, m match.Result, accepted bool)

// Config holds the tracking parameters.
type Config struct {
	PhysicalHeight float64 // real height of the template region in metres
	MatchThreshold float64 // minimum confidence for an observation
	SampleInterval int     // score every Nth frame

	Matcher match.Matcher // defaults to match.NCC
	Logger  *slog.Logger
	OnFrame FrameFunc
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		PhysicalHeight: DefaultPhysicalHeight,
		MatchThreshold: DefaultMatchThreshold,
		SampleInterval: DefaultSampleInterval,
	}
}

// Progress is the read-only view polled by progress reporters.
type Progress interface {
	FramesProcessed() int
	TotalFrames() int
}

// Result is the outcome of one tracking run.
type Result struct {
	State           State
	Region          types.TemplateRegion
	Scale           float64 // pixels per metre
	Observations    []types.Observation
	FramesProcessed int // frames read from the source, scored or not
	FramesScored    int
	TotalFrames     int
	Err             error
}

// Positions returns the observed template centres in pixels.
func (r *Result) Positions() []image.Point {
	out := make([]image.Point, len(r.Observations))
	for i, o := range r.Observations {
		out[i] = o.Position
	}
	return out
}

// Timestamps returns the observation times in seconds, parallel to Positions.
func (r *Result) Timestamps() []float64 {
	out := make([]float64, len(r.Observations))
	for i, o := range r.Observations {
		out[i] = o.Timestamp
	}
	return out
}

// Tracker runs one tracking pass. It is not reusable.
type Tracker struct {
	cfg    Config
	logger *slog.Logger

	state     atomic.Int32
	processed atomic.Int64
	total     atomic.Int64

	region   types.TemplateRegion
	template *match.Template
	scale    float64
}

// New returns an uninitialized tracker.
func New(cfg Config) *Tracker {
	if cfg.Matcher == nil {
		cfg.Matcher = match.NCC{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{cfg: cfg, logger: logger}
}

// State returns the current lifecycle state. Safe for concurrent use.
func (t *Tracker) State() State {
	return State(t.state.Load())
}

// FramesProcessed returns how many frames have been read so far. Safe for concurrent use.
func (t *Tracker) FramesProcessed() int {
	return int(t.processed.Load())
}

// TotalFrames returns the source's frame count estimate, 0 if unknown. Safe for concurrent use.
func (t *Tracker) TotalFrames() int {
	return int(t.total.Load())
}

// Scale returns the calibrated pixels-per-metre factor, 0 before calibration.
func (t *Tracker) Scale() float64 {
	return t.scale
}

// Template returns the calibrated template, nil before calibration.
func (t *Tracker) Template() *match.Template {
	return t.template
}

// Run calibrates on the first frame of src, rewinds it, and tracks until the
// source is exhausted, fails, or ctx is cancelled. The returned Result is never
// nil; on failure it carries the partial observations and the error is also
// returned.
func (t *Tracker) Run(ctx context.Context, src video.Source, region types.TemplateRegion) (*Result, error) {
	res := &Result{Region: region, TotalFrames: src.FrameCount()}

	first, err := video.FirstFrame(ctx, src)
	if err != nil {
		return t.fail(res, err)
	}
	if err := t.Calibrate(first, region); err != nil {
		return t.fail(res, err)
	}
	res.Scale = t.scale

	return t.track(ctx, src, res)
}

// Calibrate validates the configuration, cuts the template out of first and
// computes the calibration scale.
func (t *Tracker) Calibrate(first types.Frame, region types.TemplateRegion) error {
	if !t.state.CompareAndSwap(int32(Uninitialized), int32(Calibrating)) {
		return fmt.Errorf("%w: tracker is %s, want %s", ErrCalibration, t.State(), Uninitialized)
	}
	if err := t.validate(); err != nil {
		t.state.Store(int32(Failed))
		return err
	}

	if region.Empty() {
		t.state.Store(int32(Failed))
		return fmt.Errorf("%w: template region %s has zero width or height", ErrCalibration, region)
	}
	bounds := first.Image.Bounds()
	if !region.Within(bounds.Sub(bounds.Min)) {
		t.state.Store(int32(Failed))
		return fmt.Errorf("%w: template region %s exceeds frame bounds %dx%d",
			ErrCalibration, region, bounds.Dx(), bounds.Dy())
	}

	tmpl, err := match.NewTemplate(first.Image, region.Rect().Add(bounds.Min))
	if err != nil {
		t.state.Store(int32(Failed))
		return fmt.Errorf("%w: %w", ErrCalibration, err)
	}

	t.region = region
	t.template = tmpl
	t.scale = float64(region.Height) / t.cfg.PhysicalHeight

	t.logger.Info("calibrated",
		slog.String("region", region.String()),
		slog.Int("template_width", region.Width),
		slog.Int("template_height", region.Height),
		slog.Float64("physical_height_m", t.cfg.PhysicalHeight),
		slog.Float64("pixels_per_metre", t.scale))
	return nil
}

func (t *Tracker) validate() error {
	c := t.cfg
	if math.IsNaN(c.PhysicalHeight) || math.IsInf(c.PhysicalHeight, 0) || c.PhysicalHeight <= 0 {
		return fmt.Errorf("%w: physical height must be > 0, got %v", ErrCalibration, c.PhysicalHeight)
	}
	if c.SampleInterval < 1 {
		return fmt.Errorf("%w: sample interval must be >= 1, got %d", ErrCalibration, c.SampleInterval)
	}
	if math.IsNaN(c.MatchThreshold) {
		return fmt.Errorf("%w: match threshold is NaN", ErrCalibration)
	}
	switch {
	case c.MatchThreshold > 1:
		t.logger.Warn("match threshold above 1, no frame can match", slog.Float64("threshold", c.MatchThreshold))
	case c.MatchThreshold < 0:
		t.logger.Warn("match threshold below 0, every frame will match", slog.Float64("threshold", c.MatchThreshold))
	}
	return nil
}

func (t *Tracker) track(ctx context.Context, src video.Source, res *Result) (*Result, error) {
	t.state.Store(int32(Tracking))
	t.total.Store(int64(res.TotalFrames))

	size := t.template.Size()
	half := image.Pt(size.X/2, size.Y/2)

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return t.fail(res, fmt.Errorf("%w: %w", ErrCancelled, err))
		}

		frame, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return t.fail(res, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
			}
			if !errors.Is(err, video.ErrSource) {
				err = fmt.Errorf("%w: %w", video.ErrSource, err)
			}
			return t.fail(res, err)
		}

		if n%t.cfg.SampleInterval != 0 {
			t.advance(res)
			continue
		}

		m, err := t.cfg.Matcher.Match(frame.Image, t.template)
		if err != nil {
			t.advance(res)
			return t.fail(res, err)
		}
		res.FramesScored++

		accepted := m.Confidence >= t.cfg.MatchThreshold
		if accepted {
			obs := types.Observation{
				Position:   m.Location.Sub(frame.Image.Bounds().Min).Add(half),
				Timestamp:  frame.Timestamp,
				Frame:      frame.Index,
				Confidence: m.Confidence,
			}
			if k := len(res.Observations); k > 0 && obs.Timestamp <= res.Observations[k-1].Timestamp {
				t.logger.Warn("dropping match with non-increasing timestamp",
					slog.Int("frame", frame.Index), slog.Float64("timestamp", frame.Timestamp))
				accepted = false
			} else {
				res.Observations = append(res.Observations, obs)
			}
		} else {
			t.logger.Debug("below threshold",
				slog.Int("frame", frame.Index), slog.Float64("confidence", m.Confidence))
		}
		t.advance(res)

		if t.cfg.OnFrame != nil {
			t.cfg.OnFrame(frame, m, accepted)
		}
	}

	if res.FramesProcessed > res.TotalFrames {
		res.TotalFrames = res.FramesProcessed
		t.total.Store(int64(res.TotalFrames))
	}
	res.State = Completed
	t.state.Store(int32(Completed))
	t.logger.Info("tracking complete",
		slog.Int("frames", res.FramesProcessed),
		slog.Int("scored", res.FramesScored),
		slog.Int("observations", len(res.Observations)))
	return res, nil
}

func (t *Tracker) advance(res *Result) {
	res.FramesProcessed = int(t.processed.Add(1))
}

func (t *Tracker) fail(res *Result, err error) (*Result, error) {
	res.State = Failed
	res.Err = err
	t.state.Store(int32(Failed))
	t.logger.Info("tracking failed",
		slog.Int("frames", res.FramesProcessed),
		slog.Int("observations", len(res.Observations)),
		slog.Any("error", err))
	return res, err
}
