package cv

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/barpath/internal/match"
	"github.com/andresmejia3/barpath/internal/types"
	"github.com/andresmejia3/barpath/internal/video"
)

func noiseFrame(w, h int, seed uint64) *image.RGBA {
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

func TestMatcherAgreesWithNCC(t *testing.T) {
	frame := noiseFrame(80, 60, 11)
	tmpl, err := match.NewTemplate(frame, image.Rect(25, 15, 45, 35))
	if err != nil {
		t.Fatal(err)
	}

	m := NewMatcher()
	defer m.Close()

	got, err := m.Match(frame, tmpl)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	want, err := match.NCC{}.Match(frame, tmpl)
	if err != nil {
		t.Fatalf("NCC: %v", err)
	}
	if got.Location != want.Location || got.Location != image.Pt(25, 15) {
		t.Fatalf("location = %v, NCC = %v", got.Location, want.Location)
	}
	if math.Abs(got.Confidence-1) > 1e-4 {
		t.Fatalf("confidence = %v, want 1", got.Confidence)
	}
}

func TestMatcherAgreesWithNCCOnColour(t *testing.T) {
	r := rand.New(rand.NewPCG(31, 32))
	frame := image.NewRGBA(image.Rect(0, 0, 70, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 70; x++ {
			frame.Set(x, y, color.RGBA{uint8(r.IntN(256)), uint8(r.IntN(256)), uint8(r.IntN(256)), 255})
		}
	}
	ref := image.NewRGBA(frame.Bounds())
	copy(ref.Pix, frame.Pix)
	tmpl, err := match.NewTemplate(ref, image.Rect(30, 12, 46, 28))
	if err != nil {
		t.Fatal(err)
	}
	// Halving the red channel keeps the location but pulls the score below 1.
	for i := 0; i < len(frame.Pix); i += 4 {
		frame.Pix[i] /= 2
	}

	m := NewMatcher()
	defer m.Close()

	got, err := m.Match(frame, tmpl)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	want, err := match.NCC{}.Match(frame, tmpl)
	if err != nil {
		t.Fatalf("NCC: %v", err)
	}
	if got.Location != want.Location || got.Location != image.Pt(30, 12) {
		t.Fatalf("location = %v, NCC = %v", got.Location, want.Location)
	}
	if math.Abs(got.Confidence-want.Confidence) > 1e-3 {
		t.Fatalf("confidence = %v, NCC = %v", got.Confidence, want.Confidence)
	}
}

func TestMatcherTemplateLargerThanFrame(t *testing.T) {
	tmpl, err := match.NewTemplate(noiseFrame(40, 40, 1), image.Rect(0, 0, 40, 40))
	if err != nil {
		t.Fatal(err)
	}
	m := NewMatcher()
	defer m.Close()

	if _, err := m.Match(noiseFrame(30, 50, 2), tmpl); !errors.Is(err, match.ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
}

func TestEndOfStream(t *testing.T) {
	tests := []struct {
		name        string
		next, count int
		wantSource  bool
	}{
		{"Reached count", 90, 90, false},
		{"Count overestimated by one", 89, 90, false},
		{"Within slack", 88, 90, false},
		{"Stopped mid-stream", 40, 90, true},
		{"Nothing decoded", 0, 90, true},
		{"Unknown count", 40, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := endOfStream(tt.next, tt.count)
			if tt.wantSource {
				if !errors.Is(err, video.ErrSource) {
					t.Errorf("endOfStream(%d, %d) = %v, want ErrSource", tt.next, tt.count, err)
				}
				return
			}
			if !errors.Is(err, io.EOF) {
				t.Errorf("endOfStream(%d, %d) = %v, want io.EOF", tt.next, tt.count, err)
			}
		})
	}
}

func TestAnnotatorAndCaptureRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping video encode in short mode")
	}
	path := filepath.Join(t.TempDir(), "preview.avi")

	a, err := NewAnnotator(path, 10, image.Pt(64, 48), image.Pt(10, 10), 3)
	if err != nil {
		t.Skipf("no video writer available: %v", err)
	}
	for i := 0; i < 3; i++ {
		f := types.Frame{Index: i, Timestamp: float64(i) / 10, Image: noiseFrame(64, 48, uint64(i))}
		a.OnFrame(f, match.Result{Location: image.Pt(5, 5+5*i), Confidence: 0.9}, i != 1)
	}
	if got := a.Path(); len(got) != 2 || got[1] != image.Pt(10, 20) {
		t.Fatalf("path = %v", got)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Fatalf("preview not written: %v", err)
	}

	src, err := OpenCapture(path)
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	var last float64 = -1
	n := 0
	for {
		f, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if f.Index != n || !(f.Timestamp > last) {
			t.Fatalf("frame %d: index %d timestamp %v after %v", n, f.Index, f.Timestamp, last)
		}
		last = f.Timestamp
		n++
	}
	if n != 3 {
		t.Fatalf("read %d frames, want 3", n)
	}

	if err := src.Rewind(ctx); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if f, err := src.Read(ctx); err != nil || f.Index != 0 {
		t.Fatalf("after rewind: %v, %v", f.Index, err)
	}
}
