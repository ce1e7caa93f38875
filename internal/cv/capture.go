package cv

import (
	"context"
	"fmt"
	"io"
	"sync"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/barpath/internal/types"
	"github.com/andresmejia3/barpath/internal/video"
)

// CaptureSource reads frames through OpenCV's VideoCapture. Timestamps come
// from the capture position; when the backend reports none, or one that does
// not advance, the frame index over the nominal rate is used instead.
type CaptureSource struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	fps    float64
	count  int
	next   int
	lastTS float64
	end    error
}

// countSlack is how far short of the container's frame count a capture may
// stop and still count as finished. VideoCapture estimates the count from
// duration and rate, so it is often off by a frame.
const countSlack = 2

// endOfStream classifies a failed read after next frames. Stopping well short
// of a known frame count is a decode failure, not the end of the video.
func endOfStream(next, count int) error {
	if count > 0 && count-next > countSlack {
		return fmt.Errorf("%w: capture stopped at frame %d of %d", video.ErrSource, next, count)
	}
	return io.EOF
}

// OpenCapture opens path with VideoCapture.
func OpenCapture(path string) (*CaptureSource, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", video.ErrSource, path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: cannot open %s", video.ErrSource, path)
	}
	fps := vc.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		vc.Close()
		return nil, fmt.Errorf("%w: %s reports no frame rate", video.ErrSource, path)
	}
	return &CaptureSource{
		cap:    vc,
		mat:    gocv.NewMat(),
		fps:    fps,
		count:  int(vc.Get(gocv.VideoCaptureFrameCount)),
		lastTS: -1,
	}, nil
}

// Read returns the next frame, or io.EOF when the capture is exhausted. A
// capture that stops well before its reported frame count fails with
// video.ErrSource instead.
func (s *CaptureSource) Read(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.end != nil {
		return types.Frame{}, s.end
	}
	if !s.cap.Read(&s.mat) || s.mat.Empty() {
		s.end = endOfStream(s.next, s.count)
		return types.Frame{}, s.end
	}
	img, err := s.mat.ToImage()
	if err != nil {
		return types.Frame{}, fmt.Errorf("%w: frame %d: %w", video.ErrSource, s.next, err)
	}

	ts := s.cap.Get(gocv.VideoCapturePosMsec) / 1000
	if !(ts > s.lastTS) {
		ts = float64(s.next) / s.fps
		if !(ts > s.lastTS) {
			ts = s.lastTS + 1/s.fps
		}
	}
	f := types.Frame{Index: s.next, Timestamp: ts, Image: img}
	s.next++
	s.lastTS = ts
	return f, nil
}

// FPS returns the nominal frame rate.
func (s *CaptureSource) FPS() float64 { return s.fps }

// FrameCount returns the container's frame count estimate.
func (s *CaptureSource) FrameCount() int { return s.count }

// Rewind seeks back to the first frame.
func (s *CaptureSource) Rewind(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cap.Set(gocv.VideoCapturePosFrames, 0)
	s.next = 0
	s.lastTS = -1
	s.end = nil
	return nil
}

// Close releases the capture.
func (s *CaptureSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mat.Close()
	return s.cap.Close()
}
