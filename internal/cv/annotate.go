package cv

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/barpath/internal/match"
	"github.com/andresmejia3/barpath/internal/types"
)

var (
	boxColor   = color.RGBA{G: 255, A: 255}
	dotColor   = color.RGBA{R: 255, A: 255}
	pathColor  = color.RGBA{R: 255, B: 255, A: 255}
	labelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Annotator writes every scored frame to a video with the match box, the
// template centre, the bar path so far and frame/match captions drawn on it.
// Its OnFrame method plugs into tracker.Config.OnFrame.
type Annotator struct {
	mu       sync.Mutex
	writer   *gocv.VideoWriter
	tmplSize image.Point
	total    int
	path     []image.Point
	err      error
}

// NewAnnotator creates the output video. fps should be the source rate
// divided by the sample interval; frameSize is the source frame size.
func NewAnnotator(path string, fps float64, frameSize, tmplSize image.Point, totalFrames int) (*Annotator, error) {
	w, err := gocv.VideoWriterFile(path, "mp4v", fps, frameSize.X, frameSize.Y, true)
	if err != nil {
		return nil, fmt.Errorf("open preview writer %s: %w", path, err)
	}
	return &Annotator{writer: w, tmplSize: tmplSize, total: totalFrames}, nil
}

// OnFrame draws and writes one scored frame. The first write error is kept
// and returned by Close; later frames are dropped.
func (a *Annotator) OnFrame(frame types.Frame, m match.Result, accepted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return
	}

	mat, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		a.err = fmt.Errorf("convert frame %d: %w", frame.Index, err)
		return
	}
	defer mat.Close()

	origin := frame.Image.Bounds().Min
	loc := m.Location.Sub(origin)
	caption := "No match found"
	if accepted {
		centre := loc.Add(image.Pt(a.tmplSize.X/2, a.tmplSize.Y/2))
		a.path = append(a.path, centre)
		gocv.Rectangle(&mat, image.Rectangle{Min: loc, Max: loc.Add(a.tmplSize)}, boxColor, 5)
		gocv.Circle(&mat, centre, 10, dotColor, -1)
		caption = fmt.Sprintf("Match: %.2f", m.Confidence)
	}
	for i := 1; i < len(a.path); i++ {
		gocv.Line(&mat, a.path[i-1], a.path[i], pathColor, 2)
	}

	gocv.PutText(&mat, caption, image.Pt(10, 30), gocv.FontHersheySimplex, 0.7, labelColor, 2)
	gocv.PutText(&mat, fmt.Sprintf("Frame: %d/%d", frame.Index+1, a.total), image.Pt(10, 60),
		gocv.FontHersheySimplex, 0.7, labelColor, 2)

	if err := a.writer.Write(mat); err != nil {
		a.err = fmt.Errorf("write frame %d: %w", frame.Index, err)
	}
}

// Path returns the centres drawn so far.
func (a *Annotator) Path() []image.Point {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]image.Point, len(a.path))
	copy(out, a.path)
	return out
}

// Close finalizes the video and reports the first drawing or write error.
func (a *Annotator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.writer.Close(); err != nil && a.err == nil {
		a.err = err
	}
	return a.err
}
