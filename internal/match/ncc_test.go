package match

import (
	"errors"
	"image"
	"image/color"
	"math"
	"math/rand/v2"
	"testing"
)

// noiseFrame returns a w x h frame filled with seeded random gray levels.
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

// colourNoiseFrame returns a w x h frame with independent random channels.
func colourNoiseFrame(w, h int, seed uint64) *image.RGBA {
	r := rand.New(rand.NewPCG(seed, seed+1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(r.IntN(256)), uint8(r.IntN(256)), uint8(r.IntN(256)), 255})
		}
	}
	return img
}

func TestNCCSelfMatch(t *testing.T) {
	frame := noiseFrame(64, 48, 7)
	regions := []image.Rectangle{
		image.Rect(10, 10, 30, 30),
		image.Rect(0, 0, 8, 5),
		image.Rect(40, 30, 64, 48),
	}

	for _, rect := range regions {
		tmpl, err := NewTemplate(frame, rect)
		if err != nil {
			t.Fatalf("NewTemplate(%v): %v", rect, err)
		}
		res, err := NCC{}.Match(frame, tmpl)
		if err != nil {
			t.Fatalf("Match(%v): %v", rect, err)
		}
		if res.Location != rect.Min {
			t.Errorf("region %v: location = %v, want %v", rect, res.Location, rect.Min)
		}
		if math.Abs(res.Confidence-1.0) > 1e-9 {
			t.Errorf("region %v: confidence = %v, want 1.0", rect, res.Confidence)
		}
	}
}

func TestNCCFindsShiftedPatch(t *testing.T) {
	ref := noiseFrame(40, 40, 3)
	tmpl, err := NewTemplate(ref, image.Rect(5, 5, 15, 15))
	if err != nil {
		t.Fatal(err)
	}

	// Paste the patch at a new location in an unrelated frame.
	frame := noiseFrame(60, 50, 99)
	patch := tmpl.Image()
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			frame.Set(33+x, 21+y, patch.At(x, y))
		}
	}

	res, err := NCC{}.Match(frame, tmpl)
	if err != nil {
		t.Fatal(err)
	}
	if res.Location != image.Pt(33, 21) {
		t.Errorf("location = %v, want (33,21)", res.Location)
	}
	if res.Confidence < 0.999 {
		t.Errorf("confidence = %v, want ~1", res.Confidence)
	}
}

func TestNCCDeterministic(t *testing.T) {
	frame := noiseFrame(32, 32, 11)
	other := noiseFrame(32, 32, 12)
	tmpl, err := NewTemplate(other, image.Rect(4, 4, 12, 12))
	if err != nil {
		t.Fatal(err)
	}

	first, err := NCC{}.Match(frame, tmpl)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		again, _ := NCC{}.Match(frame, tmpl)
		if again != first {
			t.Fatalf("run %d: got %+v, want %+v", i, again, first)
		}
	}
	if first.Confidence < -1 || first.Confidence > 1 {
		t.Errorf("confidence %v outside [-1, 1]", first.Confidence)
	}
}

func TestNCCFlatFrameScoresZero(t *testing.T) {
	tmpl, err := NewTemplate(noiseFrame(20, 20, 5), image.Rect(0, 0, 6, 6))
	if err != nil {
		t.Fatal(err)
	}
	flat := image.NewRGBA(image.Rect(0, 0, 20, 20))

	res, err := NCC{}.Match(flat, tmpl)
	if err != nil {
		t.Fatal(err)
	}
	if res.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", res.Confidence)
	}
	if res.Location != (image.Point{}) {
		t.Errorf("location = %v, want first window", res.Location)
	}
}

func TestNCCTemplateLargerThanFrame(t *testing.T) {
	tmpl, err := NewTemplate(noiseFrame(30, 30, 1), image.Rect(0, 0, 25, 10))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		frame image.Rectangle
	}{
		{"too narrow", image.Rect(0, 0, 24, 40)},
		{"too short", image.Rect(0, 0, 40, 9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NCC{}.Match(image.NewRGBA(tt.frame), tmpl)
			if !errors.Is(err, ErrInvalidTemplate) {
				t.Errorf("err = %v, want ErrInvalidTemplate", err)
			}
		})
	}
}

func TestNewTemplateRejectsBadRegions(t *testing.T) {
	frame := noiseFrame(20, 20, 2)
	for _, rect := range []image.Rectangle{
		image.Rect(5, 5, 5, 10),
		image.Rect(15, 15, 25, 25),
		image.Rect(-1, 0, 4, 4),
	} {
		if _, err := NewTemplate(frame, rect); !errors.Is(err, ErrInvalidTemplate) {
			t.Errorf("NewTemplate(%v) err = %v, want ErrInvalidTemplate", rect, err)
		}
	}
}

func TestTemplateIsACopy(t *testing.T) {
	frame := noiseFrame(16, 16, 4)
	tmpl, err := NewTemplate(frame, image.Rect(2, 2, 6, 6))
	if err != nil {
		t.Fatal(err)
	}
	before := tmpl.Image().At(0, 0)
	frame.Set(2, 2, color.RGBA{1, 2, 3, 255})
	if tmpl.Image().At(0, 0) != before {
		t.Error("template changed when the source frame was modified")
	}
	if got := tmpl.Size(); got != image.Pt(4, 4) {
		t.Errorf("Size() = %v, want (4,4)", got)
	}
}

func TestNCCSeparatesEqualLumaColours(t *testing.T) {
	// Red and green of nearly equal luma: a grayscale matcher sees a flat patch.
	red := color.RGBA{200, 0, 0, 255}
	green := color.RGBA{0, 102, 0, 255}

	frame := colourNoiseFrame(50, 40, 21)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			c := red
			if (x/2+y/2)%2 == 1 {
				c = green
			}
			frame.Set(12+x, 7+y, c)
		}
	}
	tmpl, err := NewTemplate(frame, image.Rect(12, 7, 20, 15))
	if err != nil {
		t.Fatal(err)
	}

	res, err := NCC{}.Match(frame, tmpl)
	if err != nil {
		t.Fatal(err)
	}
	if res.Location != image.Pt(12, 7) {
		t.Errorf("location = %v, want (12,7)", res.Location)
	}
	if math.Abs(res.Confidence-1) > 1e-9 {
		t.Errorf("confidence = %v, want 1", res.Confidence)
	}
}

func TestNCCSubImageFrame(t *testing.T) {
	full := colourNoiseFrame(60, 60, 8)
	frame := full.SubImage(image.Rect(10, 10, 50, 50))
	tmpl, err := NewTemplate(frame, image.Rect(20, 25, 30, 35))
	if err != nil {
		t.Fatal(err)
	}

	res, err := NCC{}.Match(frame, tmpl)
	if err != nil {
		t.Fatal(err)
	}
	if res.Location != image.Pt(20, 25) {
		t.Errorf("location = %v, want (20,25) in frame coordinates", res.Location)
	}
}
