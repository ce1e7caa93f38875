package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/andresmejia3/barpath/internal/charts"
	"github.com/andresmejia3/barpath/internal/config"
	"github.com/andresmejia3/barpath/internal/cv"
	"github.com/andresmejia3/barpath/internal/export"
	"github.com/andresmejia3/barpath/internal/kinematics"
	"github.com/andresmejia3/barpath/internal/match"
	"github.com/andresmejia3/barpath/internal/store"
	"github.com/andresmejia3/barpath/internal/tracker"
	"github.com/andresmejia3/barpath/internal/types"
	"github.com/andresmejia3/barpath/internal/utils"
	"github.com/andresmejia3/barpath/internal/video"
)

// AnalyzeOptions holds the analyze command flags. Unset flags fall back to the config file.
type AnalyzeOptions struct {
	InputPath string
	Region    string

	Height    float64
	Threshold float64
	Interval  int
	Matcher   string
	Decoder   string
	Prefetch  int

	NoSmoothDisplacement bool
	NoSmoothVelocity     bool
	NoSmoothAcceleration bool
	Window               int
	Order                int

	CSVPath      string
	PlotDir      string
	AnnotatePath string
	Save         bool
	Label        string
	JSON         bool
}

var analyzeOpts AnalyzeOptions

const progressInterval = 100 * time.Millisecond

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Track a barbell plate through a video and report its kinematics",
	Long: `Track the template region through every sampled frame, then derive vertical
displacement, velocity and acceleration. Use 'barpath snapshot' to grab the
first frame when picking the region.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runAnalyze(cmd.Context(), analyzeOpts, cmd.Flags())
	},
}

func init() {
	def := config.Default()
	f := analyzeCmd.Flags()
	f.StringVarP(&analyzeOpts.InputPath, "input", "i", "", "Path to video")
	f.StringVarP(&analyzeOpts.Region, "region", "r", "", "Template region in pixels as x,y,w,h")
	f.Float64Var(&analyzeOpts.Height, "height", def.Tracker.PhysicalHeight, "Real height of the template region in metres")
	f.Float64VarP(&analyzeOpts.Threshold, "threshold", "t", def.Tracker.MatchThreshold, "Minimum match confidence (0-1)")
	f.IntVarP(&analyzeOpts.Interval, "interval", "n", def.Tracker.SampleInterval, "Score every Nth frame")
	f.StringVar(&analyzeOpts.Matcher, "matcher", def.Tracker.Matcher, "Template matcher: opencv or ncc")
	f.StringVar(&analyzeOpts.Decoder, "decoder", def.Tracker.Decoder, "Frame decoder: ffmpeg or opencv")
	f.IntVar(&analyzeOpts.Prefetch, "prefetch", def.Tracker.Prefetch, "Frames decoded ahead of the tracker (0 disables)")
	f.BoolVar(&analyzeOpts.NoSmoothDisplacement, "no-smooth-displacement", false, "Do not smooth displacement")
	f.BoolVar(&analyzeOpts.NoSmoothVelocity, "no-smooth-velocity", false, "Do not smooth velocity")
	f.BoolVar(&analyzeOpts.NoSmoothAcceleration, "no-smooth-acceleration", false, "Do not smooth acceleration")
	f.IntVar(&analyzeOpts.Window, "window", def.Analysis.WindowLength, "Savitzky-Golay window length (odd)")
	f.IntVar(&analyzeOpts.Order, "order", def.Analysis.PolynomialOrder, "Savitzky-Golay polynomial order")
	f.StringVar(&analyzeOpts.CSVPath, "csv", "", "Write index,timestamp,x,y rows to this CSV file")
	f.StringVar(&analyzeOpts.PlotDir, "plots", "", "Write displacement, velocity, acceleration and bar path PNGs to this directory")
	f.StringVar(&analyzeOpts.AnnotatePath, "annotate", "", "Write an annotated preview video to this path")
	f.BoolVar(&analyzeOpts.Save, "save", false, "Archive the run in PostgreSQL")
	f.StringVar(&analyzeOpts.Label, "label", "", "Label stored with an archived run")
	f.BoolVar(&analyzeOpts.JSON, "json", false, "Print the result as JSON instead of a table")

	analyzeCmd.MarkFlagRequired("input")
	analyzeCmd.MarkFlagRequired("region")
	rootCmd.AddCommand(analyzeCmd)
}

// parseRegion parses "x,y,w,h".
func parseRegion(s string) (types.TemplateRegion, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return types.TemplateRegion{}, fmt.Errorf("region must be x,y,w,h, got %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return types.TemplateRegion{}, fmt.Errorf("region component %d: %w", i+1, err)
		}
		v[i] = n
	}
	r := types.TemplateRegion{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	if r.X < 0 || r.Y < 0 {
		return r, fmt.Errorf("region origin must be non-negative, got %d,%d", r.X, r.Y)
	}
	if r.Empty() {
		return r, fmt.Errorf("region width and height must be positive, got %dx%d", r.Width, r.Height)
	}
	return r, nil
}

// resolveSettings applies explicitly set flags over the file configuration.
func resolveSettings(base config.Config, opts AnalyzeOptions, flags *pflag.FlagSet) (config.Config, error) {
	cfg := base
	if flags.Changed("height") {
		cfg.Tracker.PhysicalHeight = opts.Height
	}
	if flags.Changed("threshold") {
		cfg.Tracker.MatchThreshold = opts.Threshold
	}
	if flags.Changed("interval") {
		cfg.Tracker.SampleInterval = opts.Interval
	}
	if flags.Changed("matcher") {
		cfg.Tracker.Matcher = strings.ToLower(opts.Matcher)
	}
	if flags.Changed("decoder") {
		cfg.Tracker.Decoder = strings.ToLower(opts.Decoder)
	}
	if flags.Changed("prefetch") {
		cfg.Tracker.Prefetch = opts.Prefetch
	}
	if opts.NoSmoothDisplacement {
		cfg.Analysis.SmoothDisplacement = false
	}
	if opts.NoSmoothVelocity {
		cfg.Analysis.SmoothVelocity = false
	}
	if opts.NoSmoothAcceleration {
		cfg.Analysis.SmoothAcceleration = false
	}
	if flags.Changed("window") {
		cfg.Analysis.WindowLength = opts.Window
	}
	if flags.Changed("order") {
		cfg.Analysis.PolynomialOrder = opts.Order
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// validateInput ensures the input path is a readable file before any decoder starts.
func validateInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %w", err)
		}
		return fmt.Errorf("unable to access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path %s is a directory, expected a video file", path)
	}
	return nil
}

func openSource(ctx context.Context, cfg config.Tracker, path string) (video.Source, error) {
	var src video.Source
	switch cfg.Decoder {
	case config.DecoderOpenCV:
		s, err := cv.OpenCapture(path)
		if err != nil {
			return nil, err
		}
		src = s
	default:
		s, err := video.OpenFFmpeg(ctx, path, Logger)
		if err != nil {
			return nil, err
		}
		src = s
	}
	return video.Prefetch(src, cfg.Prefetch), nil
}

type closingMatcher interface {
	match.Matcher
	io.Closer
}

func newMatcher(name string) match.Matcher {
	if name == config.MatcherNCC {
		return match.NCC{}
	}
	return cv.NewMatcher()
}

// preview creates the annotator on the first scored frame, once the frame size is known.
type preview struct {
	path     string
	fps      float64
	tmplSize image.Point
	total    int

	once sync.Once
	ann  *cv.Annotator
	err  error
}

func (p *preview) OnFrame(frame types.Frame, m match.Result, accepted bool) {
	p.once.Do(func() {
		p.ann, p.err = cv.NewAnnotator(p.path, p.fps, frame.Image.Bounds().Size(), p.tmplSize, p.total)
	})
	if p.ann != nil {
		p.ann.OnFrame(frame, m, accepted)
	}
}

func (p *preview) Close() error {
	if p.ann == nil {
		return p.err
	}
	if err := p.ann.Close(); err != nil {
		return err
	}
	return p.err
}

// analyzeReport is the --json output.
type analyzeReport struct {
	RunID           string                `json:"run_id,omitempty"`
	Video           string                `json:"video"`
	State           string                `json:"state"`
	Error           string                `json:"error,omitempty"`
	Region          types.TemplateRegion  `json:"region"`
	Scale           float64               `json:"pixels_per_metre"`
	FramesProcessed int                   `json:"frames_processed"`
	FramesScored    int                   `json:"frames_scored"`
	TotalFrames     int                   `json:"total_frames"`
	Smoothed        bool                  `json:"smoothed"`
	Summary         types.ResultSummary   `json:"summary"`
	Series          types.KinematicSeries `json:"series"`
}

func runAnalyze(ctx context.Context, opts AnalyzeOptions, flags *pflag.FlagSet) error {
	if err := validateInput(opts.InputPath); err != nil {
		utils.ShowError("Invalid input", err, nil)
		return err
	}
	region, err := parseRegion(opts.Region)
	if err != nil {
		utils.ShowError("Invalid template region", err, nil)
		return err
	}
	settings, err := resolveSettings(*Cfg, opts, flags)
	if err != nil {
		utils.ShowError("Invalid settings", err, nil)
		return err
	}
	pipeline, err := kinematics.NewPipeline(settings.Analysis, Logger)
	if err != nil {
		utils.ShowError("Invalid smoothing settings", err, nil)
		return err
	}

	src, err := openSource(ctx, settings.Tracker, opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to open video", err, nil)
		return err
	}
	defer src.Close()

	matcher := newMatcher(settings.Tracker.Matcher)
	if c, ok := matcher.(closingMatcher); ok {
		defer c.Close()
	}

	trCfg := tracker.Config{
		PhysicalHeight: settings.Tracker.PhysicalHeight,
		MatchThreshold: settings.Tracker.MatchThreshold,
		SampleInterval: settings.Tracker.SampleInterval,
		Matcher:        matcher,
		Logger:         Logger,
	}
	var pv *preview
	if opts.AnnotatePath != "" {
		pv = &preview{
			path:     opts.AnnotatePath,
			fps:      src.FPS() / float64(settings.Tracker.SampleInterval),
			tmplSize: image.Pt(region.Width, region.Height),
			total:    src.FrameCount(),
		}
		trCfg.OnFrame = pv.OnFrame
	}

	fmt.Fprintf(os.Stderr, "📼 Tracking %s (region %s, %.3f m, threshold %.2f, every %d frame(s))\n",
		opts.InputPath, region, settings.Tracker.PhysicalHeight, settings.Tracker.MatchThreshold, settings.Tracker.SampleInterval)

	tr := tracker.New(trCfg)
	res := trackWithProgress(ctx, tr, src, region)

	if pv != nil {
		if err := pv.Close(); err != nil {
			utils.ShowError("Failed to write annotated preview", err, nil)
		} else if pv.ann != nil {
			fmt.Fprintf(os.Stderr, "🎞️  Preview written to %s\n", opts.AnnotatePath)
		}
	}

	if errors.Is(res.Err, tracker.ErrCalibration) {
		utils.ShowError("Calibration failed", res.Err, nil)
		return res.Err
	}
	if res.State == tracker.Failed {
		utils.ShowError("Tracking failed; analysing partial results", res.Err, nil)
	}

	analysis, smoothed, err := analyzeResult(pipeline, res)
	if err != nil {
		utils.ShowError("Kinematics failed", err, nil)
		return err
	}

	var runID string
	if opts.Save {
		id, err := saveRun(ctx, opts, settings, res, analysis)
		if err != nil {
			utils.ShowError("Failed to archive run", err, nil)
			return err
		}
		runID = id
	}

	if opts.JSON {
		report := analyzeReport{
			RunID:           runID,
			Video:           opts.InputPath,
			State:           res.State.String(),
			Region:          res.Region,
			Scale:           res.Scale,
			FramesProcessed: res.FramesProcessed,
			FramesScored:    res.FramesScored,
			TotalFrames:     res.TotalFrames,
			Smoothed:        smoothed,
			Summary:         analysis.Summary,
			Series:          analysis.Series,
		}
		if res.Err != nil {
			report.Error = res.Err.Error()
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Println(renderSummary(res, analysis.Summary))
		if runID != "" {
			fmt.Printf("💾 Archived as run %s\n", runID)
		}
	}

	if opts.CSVPath != "" {
		if err := export.WriteCSVFile(opts.CSVPath, analysis.Rows()); err != nil {
			utils.ShowError("Failed to write CSV", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "📄 CSV written to %s\n", opts.CSVPath)
	}
	if opts.PlotDir != "" {
		files, err := charts.Write(opts.PlotDir, analysis.Series)
		switch {
		case errors.Is(err, charts.ErrNoData):
			fmt.Fprintln(os.Stderr, "⚠️  No accepted matches, skipping plots")
		case err != nil:
			utils.ShowError("Failed to write plots", err, nil)
			return err
		default:
			fmt.Fprintf(os.Stderr, "📈 %d plots written to %s\n", len(files), opts.PlotDir)
		}
	}

	if res.State == tracker.Failed {
		return res.Err
	}
	return nil
}

// trackWithProgress runs the tracker on its own goroutine and polls its
// progress counter into a bar while it runs.
func trackWithProgress(ctx context.Context, tr *tracker.Tracker, src video.Source, region types.TemplateRegion) *tracker.Result {
	done := make(chan *tracker.Result, 1)
	go func() {
		res, _ := tr.Run(ctx, src, region)
		done <- res
	}()

	if !isTerminal(os.Stderr) {
		return <-done
	}

	total := src.FrameCount()
	if total <= 0 {
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🏋️ Tracking"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionShowIts(),
	)

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case res := <-done:
			bar.Set(tr.FramesProcessed())
			bar.Finish()
			fmt.Fprintln(os.Stderr)
			return res
		case <-ticker.C:
			bar.Set(tr.FramesProcessed())
		}
	}
}

// analyzeResult runs the pipeline. When the run is too short for the
// configured filter it falls back to unsmoothed series.
func analyzeResult(p *kinematics.Pipeline, res *tracker.Result) (*kinematics.Analysis, bool, error) {
	smoothed := p.Config().Smoothing()
	a, err := p.Analyze(res.Observations, res.Scale, res.FramesProcessed)
	if !errors.Is(err, kinematics.ErrInsufficientData) {
		return a, smoothed && err == nil && len(res.Observations) > 0, err
	}

	Logger.Warn("too few points to smooth, reporting raw series",
		slog.Int("points", len(res.Observations)), slog.Any("error", err))
	raw := p.Config()
	raw.SmoothDisplacement, raw.SmoothVelocity, raw.SmoothAcceleration = false, false, false
	rp, err := kinematics.NewPipeline(raw, Logger)
	if err != nil {
		return nil, false, err
	}
	a, err = rp.Analyze(res.Observations, res.Scale, res.FramesProcessed)
	return a, false, err
}

func renderSummary(res *tracker.Result, s types.ResultSummary) string {
	rows := [][]string{
		{"State", res.State.String()},
		{"Scale", fmt.Sprintf("%.2f px/m", res.Scale)},
		{"Frames processed", fmt.Sprintf("%d / %d", res.FramesProcessed, res.TotalFrames)},
		{"Frames scored", strconv.Itoa(res.FramesScored)},
		{"Points tracked", strconv.Itoa(s.TotalPoints)},
		{"Success rate", fmt.Sprintf("%.1f%%", s.SuccessRate*100)},
		{"Peak velocity", fmt.Sprintf("%.3f m/s", s.PeakVelocity)},
		{"Average velocity", fmt.Sprintf("%.3f m/s", s.AvgVelocity)},
		{"Min velocity", fmt.Sprintf("%.3f m/s", s.MinVelocity)},
		{"Velocity std dev", fmt.Sprintf("%.3f m/s", s.StdVelocity)},
	}
	return renderTable([]string{"Metric", "Value"}, rows, 1)
}

func saveRun(ctx context.Context, opts AnalyzeOptions, settings config.Config, res *tracker.Result, a *kinematics.Analysis) (string, error) {
	// The archive write must finish even after Ctrl+C stopped tracking.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := connectDB(saveCtx); err != nil {
		return "", err
	}
	videoID, err := utils.GenerateVideoID(opts.InputPath)
	if err != nil {
		return "", fmt.Errorf("failed to generate video ID: %w", err)
	}

	run := &store.Run{
		VideoID:         videoID,
		VideoPath:       opts.InputPath,
		Label:           opts.Label,
		Region:          res.Region,
		PhysicalHeight:  settings.Tracker.PhysicalHeight,
		MatchThreshold:  settings.Tracker.MatchThreshold,
		SampleInterval:  settings.Tracker.SampleInterval,
		Scale:           res.Scale,
		State:           res.State.String(),
		FramesProcessed: res.FramesProcessed,
		FramesScored:    res.FramesScored,
		TotalFrames:     res.TotalFrames,
		Summary:         a.Summary,
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}

	id, err := DB.SaveRun(saveCtx, run, a.Series)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
