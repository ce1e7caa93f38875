package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"

	"github.com/andresmejia3/barpath/internal/types"
	"github.com/andresmejia3/barpath/internal/utils"
)

// NewFFmpegRawDecoder creates a decoder pipe that writes raw RGBA frames to stdout.
// Passthrough frame timing keeps one output frame per decoded frame so the
// probed packet timestamps line up with frame indices.
func NewFFmpegRawDecoder(ctx context.Context, inputPath string) *utils.SafeCommand {
	return utils.NewSafeCommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", inputPath, "-fps_mode", "passthrough", "-f", "rawvideo", "-pix_fmt", "rgba", "-")
}

// FFmpegSource decodes a video file through an ffmpeg subprocess.
type FFmpegSource struct {
	path   string
	meta   Metadata
	logger *slog.Logger

	cmd    *utils.SafeCommand
	out    io.ReadCloser
	cancel context.CancelFunc
	next   int
	done   bool
}

// OpenFFmpeg probes path and starts decoding from the first frame.
func OpenFFmpeg(ctx context.Context, path string, logger *slog.Logger) (*FFmpegSource, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found in PATH", ErrSource)
	}
	meta, err := Probe(ctx, path, logger)
	if err != nil {
		return nil, err
	}
	s := &FFmpegSource{path: path, meta: meta, logger: logger}
	if err := s.start(); err != nil {
		return nil, err
	}
	logger.Debug("ffmpeg source opened",
		slog.String("path", path),
		slog.Int("width", meta.Width),
		slog.Int("height", meta.Height),
		slog.Float64("fps", meta.FPS),
		slog.Int("frames", meta.FrameCount),
		slog.Int("timestamps", len(meta.Timestamps)))
	return s, nil
}

// The decoder outlives the context passed to OpenFFmpeg; Close and Rewind stop it.
func (s *FFmpegSource) start() error {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := NewFFmpegRawDecoder(ctx, s.path)
	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: create decoder pipe: %v", ErrSource, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: start decoder: %v", ErrSource, err)
	}
	s.cmd, s.out, s.cancel = cmd, out, cancel
	s.next, s.done = 0, false
	return nil
}

func (s *FFmpegSource) stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	_ = s.cmd.Wait() // killed on purpose, exit status is meaningless
	s.cancel = nil
}

// Metadata returns the probed stream description.
func (s *FFmpegSource) Metadata() Metadata { return s.meta }

// Read implements Source.
func (s *FFmpegSource) Read(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	if s.done || s.cancel == nil {
		return types.Frame{}, io.EOF
	}

	img := image.NewRGBA(image.Rect(0, 0, s.meta.Width, s.meta.Height))
	_, err := io.ReadFull(s.out, img.Pix)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		s.done = true
		if werr := s.cmd.Wait(); werr != nil {
			s.cancel()
			s.cancel = nil
			return types.Frame{}, fmt.Errorf("%w: decoder exited: %v: %s", ErrSource, werr, s.cmd.Logs())
		}
		s.cancel()
		s.cancel = nil
		return types.Frame{}, io.EOF
	default:
		s.done = true
		return types.Frame{}, fmt.Errorf("%w: frame %d truncated: %v: %s", ErrSource, s.next, err, s.cmd.Logs())
	}

	f := types.Frame{Index: s.next, Timestamp: s.meta.TimestampAt(s.next), Image: img}
	s.next++
	return f, nil
}

// FPS implements Source.
func (s *FFmpegSource) FPS() float64 { return s.meta.FPS }

// FrameCount implements Source.
func (s *FFmpegSource) FrameCount() int { return s.meta.FrameCount }

// Rewind restarts the decoder at the first frame.
func (s *FFmpegSource) Rewind(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.stop()
	return s.start()
}

// Close stops the decoder.
func (s *FFmpegSource) Close() error {
	s.stop()
	return nil
}
