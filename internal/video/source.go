// Package video provides frame sources for the tracker.
//
// A Source yields frames in order until io.EOF. Decoding failures are wrapped
// in ErrSource and end the run; they are never retried.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/andresmejia3/barpath/internal/types"
)

// ErrSource reports that a video could not be opened or a read failed mid-stream.
var ErrSource = errors.New("frame source error")

// Source is a sequential reader over decoded frames.
type Source interface {
	// Read returns the next frame, or io.EOF once the video is exhausted.
	Read(ctx context.Context) (types.Frame, error)
	// FPS is the nominal frame rate.
	FPS() float64
	// FrameCount is the container's frame count estimate, 0 if unknown.
	FrameCount() int
	// Rewind moves the read cursor back to the first frame.
	Rewind(ctx context.Context) error
	Close() error
}

// SliceSource serves frames from memory.
type SliceSource struct {
	frames []types.Frame
	fps    float64
	next   int
}

// NewSliceSource returns a source over frames, which are served as given.
func NewSliceSource(fps float64, frames []types.Frame) *SliceSource {
	return &SliceSource{frames: frames, fps: fps}
}

// FromImages builds a SliceSource whose frame i is stamped i/fps seconds.
func FromImages(fps float64, imgs ...image.Image) *SliceSource {
	frames := make([]types.Frame, len(imgs))
	for i, img := range imgs {
		frames[i] = types.Frame{Index: i, Timestamp: float64(i) / fps, Image: img}
	}
	return NewSliceSource(fps, frames)
}

// Read implements Source.
func (s *SliceSource) Read(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	if s.next >= len(s.frames) {
		return types.Frame{}, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

// FPS implements Source.
func (s *SliceSource) FPS() float64 { return s.fps }

// FrameCount implements Source.
func (s *SliceSource) FrameCount() int { return len(s.frames) }

// Rewind implements Source.
func (s *SliceSource) Rewind(context.Context) error {
	s.next = 0
	return nil
}

// Close implements Source.
func (s *SliceSource) Close() error { return nil }

// FirstFrame reads the first frame of src and rewinds it.
func FirstFrame(ctx context.Context, src Source) (types.Frame, error) {
	f, err := src.Read(ctx)
	if errors.Is(err, io.EOF) {
		return types.Frame{}, fmt.Errorf("%w: video has no frames", ErrSource)
	}
	if err != nil {
		return types.Frame{}, err
	}
	if err := src.Rewind(ctx); err != nil {
		return types.Frame{}, err
	}
	return f, nil
}
