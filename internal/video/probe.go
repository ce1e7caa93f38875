package video

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/andresmejia3/barpath/internal/utils"
)

// Metadata describes the first video stream of a file.
type Metadata struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int
	// Timestamps are presentation times in seconds, ascending and re-based to
	// start at zero. Empty when the container does not expose packet times.
	Timestamps []float64
}

// TimestampAt returns the capture time of frame i. Frames beyond the probed
// packet list are extrapolated at the nominal rate.
func (m Metadata) TimestampAt(i int) float64 {
	if i < len(m.Timestamps) {
		return m.Timestamps[i]
	}
	if m.FPS <= 0 {
		return 0
	}
	if n := len(m.Timestamps); n > 0 {
		return m.Timestamps[n-1] + float64(i-n+1)/m.FPS
	}
	return float64(i) / m.FPS
}

// Helper struct for structured JSON parsing
type ffprobeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// Probe reads stream metadata with ffprobe.
func Probe(ctx context.Context, path string, logger *slog.Logger) (Metadata, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return Metadata{}, fmt.Errorf("%w: ffprobe not found in PATH", ErrSource)
	}

	// 1. Fast Path: Check Container Metadata
	// This is instant but might return "N/A" or be inaccurate for VFR.
	res, err := runProbe(ctx, "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames", "-of", "json", path)
	if err != nil {
		return Metadata{}, err
	}
	if len(res.Streams) == 0 {
		return Metadata{}, fmt.Errorf("%w: %s has no video stream", ErrSource, path)
	}
	st := res.Streams[0]

	meta := Metadata{Width: st.Width, Height: st.Height}
	if meta.Width <= 0 || meta.Height <= 0 {
		return Metadata{}, fmt.Errorf("%w: invalid dimensions %dx%d", ErrSource, meta.Width, meta.Height)
	}
	meta.FPS = parseRate(st.AvgFrameRate)
	if meta.FPS <= 0 {
		meta.FPS = parseRate(st.RFrameRate)
	}
	if meta.FPS <= 0 {
		return Metadata{}, fmt.Errorf("%w: unknown frame rate for %s", ErrSource, path)
	}

	if count, err := strconv.Atoi(st.NbFrames); err == nil && count > 0 {
		meta.FrameCount = count
	} else {
		// 2. Slow Path: Count Packets (Fallback)
		logger.Info("frame count missing from container, counting packets", slog.String("path", path))
		res, err := runProbe(ctx, "-v", "error", "-select_streams", "v:0", "-count_packets",
			"-show_entries", "stream=nb_read_packets", "-of", "json", path)
		if err == nil && len(res.Streams) > 0 {
			meta.FrameCount, _ = strconv.Atoi(res.Streams[0].NbReadPackets)
		}
	}

	ts, err := probeTimestamps(ctx, path)
	if err != nil {
		logger.Warn("packet timestamps unavailable, assuming constant frame rate",
			slog.String("path", path), slog.Any("error", err))
	}
	meta.Timestamps = ts
	return meta, nil
}

func runProbe(ctx context.Context, args ...string) (ffprobeOutput, error) {
	cmd := utils.NewSafeCommandContext(ctx, "ffprobe", args...)
	out, err := cmd.Output()
	if err != nil {
		return ffprobeOutput{}, fmt.Errorf("%w: ffprobe failed: %v: %s", ErrSource, err, cmd.Logs())
	}
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return ffprobeOutput{}, fmt.Errorf("%w: ffprobe JSON parse error: %v", ErrSource, err)
	}
	return res, nil
}

// probeTimestamps lists packet presentation times. Packets arrive in decode
// order, so they are sorted into presentation order and re-based to zero.
func probeTimestamps(ctx context.Context, path string) ([]float64, error) {
	cmd := utils.NewSafeCommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "packet=pts_time", "-of", "csv=p=0", path)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe packets: %v: %s", err, cmd.Logs())
	}
	return parseTimestamps(out), nil
}

func parseTimestamps(out []byte) []float64 {
	var ts []float64
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		field := strings.TrimSuffix(strings.TrimSpace(sc.Text()), ",")
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			continue // "N/A" and blank lines
		}
		ts = append(ts, v)
	}
	if len(ts) == 0 {
		return nil
	}
	sort.Float64s(ts)
	base := ts[0]
	for i := range ts {
		ts[i] -= base
	}
	return ts
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
