package tracker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/barpath/internal/kinematics"
	"github.com/andresmejia3/barpath/internal/match"
	"github.com/andresmejia3/barpath/internal/types"
	"github.com/andresmejia3/barpath/internal/video"
)

func noise(w, h int, seed uint64) *image.RGBA {
	r := rand.New(rand.NewPCG(seed, seed+1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(r.IntN(256))
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

// plateFrames returns 60x80 frames with the same 20x20 patch pasted at (10, y)
// for each y, over a fixed noisy background.
func plateFrames(ys ...int) []image.Image {
	bg := noise(60, 80, 1)
	plate := noise(20, 20, 2)
	frames := make([]image.Image, len(ys))
	for i, y := range ys {
		f := image.NewRGBA(bg.Bounds())
		draw.Draw(f, f.Bounds(), bg, image.Point{}, draw.Src)
		draw.Draw(f, image.Rect(10, y, 30, y+20), plate, image.Point{}, draw.Src)
		frames[i] = f
	}
	return frames
}

func descending(n int) []int {
	ys := make([]int, n)
	for i := range ys {
		ys[i] = 10 + 4*i
	}
	return ys
}

var plateRegion = types.TemplateRegion{X: 10, Y: 10, Width: 20, Height: 20}

func TestCalibrateAndTrack(t *testing.T) {
	src := video.FromImages(10, plateFrames(10, 20, 30)...)
	tr := New(Config{PhysicalHeight: 0.45, MatchThreshold: 0.3, SampleInterval: 1})

	res, err := tr.Run(context.Background(), src, plateRegion)
	require.NoError(t, err)

	assert.Equal(t, Completed, res.State)
	assert.Equal(t, Completed, tr.State())
	assert.InDelta(t, 20/0.45, res.Scale, 1e-9)
	assert.InDelta(t, 44.44, res.Scale, 0.01)
	assert.Equal(t, plateRegion, res.Region)
	assert.Equal(t, 3, res.FramesProcessed)
	assert.Equal(t, 3, res.FramesScored)
	assert.Equal(t, 3, res.TotalFrames)
	assert.NoError(t, res.Err)

	// Centres are the template location plus half its size.
	assert.Equal(t, []image.Point{{20, 20}, {20, 30}, {20, 40}}, res.Positions())
	assert.InDeltaSlice(t, []float64{0, 0.1, 0.2}, res.Timestamps(), 1e-12)
	for _, o := range res.Observations {
		assert.InDelta(t, 1.0, o.Confidence, 1e-9)
	}

	p, err := kinematics.NewPipeline(kinematics.Config{WindowLength: 15, PolynomialOrder: 3}, nil)
	require.NoError(t, err)
	a, err := p.Analyze(res.Observations, res.Scale, res.FramesProcessed)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, -0.225, -0.45},
		[]float64{a.Series.Displacement[0].Y, a.Series.Displacement[1].Y, a.Series.Displacement[2].Y}, 1e-9)
	assert.InDeltaSlice(t, []float64{-2.25, -2.25, -2.25}, a.Series.Velocity, 1e-9)
}

func TestThresholdAboveOneMatchesNothing(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	src := video.FromImages(10, plateFrames(10, 20, 30)...)
	tr := New(Config{PhysicalHeight: 0.45, MatchThreshold: 1.1, SampleInterval: 1, Logger: logger})

	res, err := tr.Run(context.Background(), src, plateRegion)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Empty(t, res.Observations)
	assert.Equal(t, 3, res.FramesScored)
	assert.Contains(t, logs.String(), "match threshold above 1")

	p, err := kinematics.NewPipeline(kinematics.DefaultConfig(), nil)
	require.NoError(t, err)
	a, err := p.Analyze(res.Observations, res.Scale, res.FramesProcessed)
	require.NoError(t, err)
	assert.Equal(t, types.ResultSummary{}, a.Summary)
}

func TestNegativeThresholdAcceptsEverything(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	// Only the first frame contains the patch.
	frames := plateFrames(10)
	frames = append(frames, noise(60, 80, 5), noise(60, 80, 6))
	tr := New(Config{PhysicalHeight: 0.45, MatchThreshold: -1, SampleInterval: 1, Logger: logger})

	res, err := tr.Run(context.Background(), video.FromImages(30, frames...), plateRegion)
	require.NoError(t, err)
	assert.Len(t, res.Observations, 3)
	assert.Contains(t, logs.String(), "every frame will match")
}

func TestNonIncreasingTimestampsAreDropped(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	imgs := plateFrames(descending(5)...)
	stamps := []float64{0, 0.1, 0.1, 0.05, 0.2}
	frames := make([]types.Frame, len(imgs))
	for i, img := range imgs {
		frames[i] = types.Frame{Index: i, Timestamp: stamps[i], Image: img}
	}

	var accepted []bool
	tr := New(Config{
		PhysicalHeight: 0.45,
		MatchThreshold: 0.3,
		SampleInterval: 1,
		Logger:         logger,
		OnFrame: func(_ types.Frame, _ match.Result, ok bool) {
			accepted = append(accepted, ok)
		},
	})

	res, err := tr.Run(context.Background(), video.NewSliceSource(10, frames), plateRegion)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, 5, res.FramesProcessed)
	assert.Equal(t, 5, res.FramesScored)

	// The duplicated and the backwards stamp are dropped even though both frames match.
	assert.Equal(t, []bool{true, true, false, false, true}, accepted)
	assert.InDeltaSlice(t, []float64{0, 0.1, 0.2}, res.Timestamps(), 1e-12)
	assert.Equal(t, []image.Point{{20, 20}, {20, 24}, {20, 36}}, res.Positions())
	ts := res.Timestamps()
	for i := 1; i < len(ts); i++ {
		assert.Greater(t, ts[i], ts[i-1])
	}
	assert.Contains(t, logs.String(), "non-increasing timestamp")
}

func TestSampleInterval(t *testing.T) {
	src := video.FromImages(10, plateFrames(descending(10)...)...)
	var scored []int
	tr := New(Config{
		PhysicalHeight: 0.45,
		MatchThreshold: 0.3,
		SampleInterval: 2,
		OnFrame: func(f types.Frame, _ match.Result, accepted bool) {
			assert.True(t, accepted)
			scored = append(scored, f.Index)
		},
	})

	res, err := tr.Run(context.Background(), src, plateRegion)
	require.NoError(t, err)

	assert.Equal(t, 10, res.FramesProcessed)
	assert.Equal(t, 5, res.FramesScored)
	require.Len(t, res.Observations, 5)
	assert.Equal(t, []int{0, 2, 4, 6, 8}, scored)
	for i, o := range res.Observations {
		assert.Equal(t, 2*i, o.Frame)
		// Skipped frames still advance time.
		assert.InDelta(t, 0.2*float64(i), o.Timestamp, 1e-12)
		assert.Equal(t, 20+8*i, o.Position.Y)
	}
}

// cancelAfter cancels the run once n frames have been read after the last rewind.
type cancelAfter struct {
	video.Source
	n      int
	reads  int
	cancel context.CancelFunc
}

func (c *cancelAfter) Read(ctx context.Context) (types.Frame, error) {
	f, err := c.Source.Read(ctx)
	if err == nil {
		c.reads++
		if c.reads == c.n {
			c.cancel()
		}
	}
	return f, err
}

func (c *cancelAfter) Rewind(ctx context.Context) error {
	c.reads = 0
	return c.Source.Rewind(ctx)
}

func TestCancellationKeepsPartialObservations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &cancelAfter{Source: video.FromImages(10, plateFrames(descending(10)...)...), n: 3, cancel: cancel}
	tr := New(Config{PhysicalHeight: 0.45, MatchThreshold: 0.3, SampleInterval: 1})

	res, err := tr.Run(ctx, src, plateRegion)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, Failed, res.State)
	assert.Equal(t, Failed, tr.State())
	assert.Equal(t, err, res.Err)
	assert.Equal(t, 3, res.FramesProcessed)
	require.Len(t, res.Observations, 3)
	for i, o := range res.Observations {
		assert.Equal(t, i, o.Frame)
	}
}

type failingSource struct {
	*video.SliceSource
	failAt int
	reads  int
}

func (f *failingSource) Read(ctx context.Context) (types.Frame, error) {
	if f.reads == f.failAt {
		return types.Frame{}, errors.New("corrupt packet")
	}
	f.reads++
	return f.SliceSource.Read(ctx)
}

func (f *failingSource) Rewind(ctx context.Context) error {
	f.reads = 0
	return f.SliceSource.Rewind(ctx)
}

func TestSourceErrorKeepsPartialObservations(t *testing.T) {
	src := &failingSource{SliceSource: video.FromImages(10, plateFrames(descending(10)...)...), failAt: 4}
	tr := New(Config{PhysicalHeight: 0.45, MatchThreshold: 0.3, SampleInterval: 1})

	res, err := tr.Run(context.Background(), src, plateRegion)
	assert.ErrorIs(t, err, video.ErrSource)
	assert.Equal(t, Failed, res.State)
	assert.Len(t, res.Observations, 4)
	assert.Equal(t, 4, res.FramesProcessed)
}

func TestEmptySourceFails(t *testing.T) {
	tr := New(DefaultConfig())
	res, err := tr.Run(context.Background(), video.FromImages(30), plateRegion)
	assert.ErrorIs(t, err, video.ErrSource)
	assert.Equal(t, Failed, res.State)
}

func TestCalibrationErrors(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		region types.TemplateRegion
	}{
		{"zero width", DefaultConfig(), types.TemplateRegion{X: 10, Y: 10, Width: 0, Height: 20}},
		{"zero height", DefaultConfig(), types.TemplateRegion{X: 10, Y: 10, Width: 20, Height: 0}},
		{"negative origin", DefaultConfig(), types.TemplateRegion{X: -1, Y: 10, Width: 20, Height: 20}},
		{"past right edge", DefaultConfig(), types.TemplateRegion{X: 50, Y: 10, Width: 20, Height: 20}},
		{"past bottom edge", DefaultConfig(), types.TemplateRegion{X: 10, Y: 70, Width: 20, Height: 20}},
		{"zero height metres", Config{PhysicalHeight: 0, MatchThreshold: 0.3, SampleInterval: 1}, plateRegion},
		{"negative height metres", Config{PhysicalHeight: -0.45, MatchThreshold: 0.3, SampleInterval: 1}, plateRegion},
		{"NaN height metres", Config{PhysicalHeight: math.NaN(), MatchThreshold: 0.3, SampleInterval: 1}, plateRegion},
		{"zero interval", Config{PhysicalHeight: 0.45, MatchThreshold: 0.3, SampleInterval: 0}, plateRegion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracked := false
			cfg := tt.cfg
			cfg.OnFrame = func(types.Frame, match.Result, bool) { tracked = true }

			tr := New(cfg)
			res, err := tr.Run(context.Background(), video.FromImages(10, plateFrames(10, 20)...), tt.region)
			assert.ErrorIs(t, err, ErrCalibration)
			assert.Equal(t, Failed, res.State)
			assert.Equal(t, Failed, tr.State())
			assert.Empty(t, res.Observations)
			assert.Zero(t, res.FramesProcessed)
			assert.False(t, tracked, "tracking must not start")
		})
	}
}

func TestTrackerIsSingleUse(t *testing.T) {
	frames := plateFrames(10, 20)
	tr := New(DefaultConfig())

	_, err := tr.Run(context.Background(), video.FromImages(10, frames...), plateRegion)
	require.NoError(t, err)

	_, err = tr.Run(context.Background(), video.FromImages(10, frames...), plateRegion)
	assert.ErrorIs(t, err, ErrCalibration)
}

func TestProgressIsMonotonic(t *testing.T) {
	const n = 12
	src := video.FromImages(30, plateFrames(descending(n)...)...)

	var seen []int
	tr := New(Config{PhysicalHeight: 0.45, MatchThreshold: 0.3, SampleInterval: 3})
	tr.cfg.OnFrame = func(f types.Frame, _ match.Result, _ bool) {
		seen = append(seen, tr.FramesProcessed())
	}

	var p Progress = tr
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		last := 0
		for {
			select {
			case <-done:
				return
			default:
			}
			cur := p.FramesProcessed()
			if cur < last {
				t.Errorf("progress went backwards: %d after %d", cur, last)
				return
			}
			last = cur
		}
	}()

	res, err := tr.Run(context.Background(), src, plateRegion)
	close(done)
	wg.Wait()
	require.NoError(t, err)

	assert.Equal(t, []int{1, 4, 7, 10}, seen)
	assert.Equal(t, n, p.FramesProcessed())
	assert.Equal(t, n, p.TotalFrames())
	assert.Equal(t, n, res.FramesProcessed)
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Uninitialized: "UNINITIALIZED",
		Calibrating:   "CALIBRATING",
		Tracking:      "TRACKING",
		Completed:     "COMPLETED",
		Failed:        "FAILED",
		State(42):     "State(42)",
	}
	for s, want := range tests {
		assert.Equal(t, want, s.String())
	}
}
