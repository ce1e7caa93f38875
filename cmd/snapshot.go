package cmd

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/barpath/internal/config"
	"github.com/andresmejia3/barpath/internal/utils"
	"github.com/andresmejia3/barpath/internal/video"
)

var (
	snapshotInput   string
	snapshotOutput  string
	snapshotRegion  string
	snapshotDecoder string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save the first frame as PNG for picking the template region",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runSnapshot(cmd)
	},
}

func init() {
	snapshotCmd.Flags().StringVarP(&snapshotInput, "input", "i", "", "Path to video")
	snapshotCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "first_frame.png", "Path to output PNG")
	snapshotCmd.Flags().StringVarP(&snapshotRegion, "region", "r", "", "Outline this x,y,w,h region on the snapshot")
	snapshotCmd.Flags().StringVar(&snapshotDecoder, "decoder", "", "Frame decoder: ffmpeg or opencv (default from config)")
	snapshotCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if err := validateInput(snapshotInput); err != nil {
		return err
	}

	tcfg := Cfg.Tracker
	tcfg.Prefetch = 0
	decoder, err := resolveDecoder(tcfg.Decoder, snapshotDecoder)
	if err != nil {
		utils.ShowError("Invalid decoder", err, nil)
		return err
	}
	tcfg.Decoder = decoder
	src, err := openSource(ctx, tcfg, snapshotInput)
	if err != nil {
		return err
	}
	defer src.Close()

	frame, err := video.FirstFrame(ctx, src)
	if err != nil {
		return err
	}

	img := image.NewRGBA(frame.Image.Bounds())
	draw.Draw(img, img.Bounds(), frame.Image, img.Bounds().Min, draw.Src)
	if snapshotRegion != "" {
		region, err := parseRegion(snapshotRegion)
		if err != nil {
			return err
		}
		if !region.Within(img.Bounds().Sub(img.Bounds().Min)) {
			return fmt.Errorf("region %s exceeds frame %dx%d", region, img.Bounds().Dx(), img.Bounds().Dy())
		}
		outline(img, region.Rect().Add(img.Bounds().Min), color.RGBA{G: 255, A: 255}, 2)
	}

	f, err := os.Create(snapshotOutput)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	b := img.Bounds()
	fmt.Fprintf(os.Stderr, "📸 First frame (%dx%d, %.2f fps) written to %s\n", b.Dx(), b.Dy(), src.FPS(), snapshotOutput)
	return nil
}

// resolveDecoder returns the lower-cased flag value, or base when the flag is empty.
func resolveDecoder(base, flag string) (string, error) {
	if flag == "" {
		return base, nil
	}
	d := strings.ToLower(strings.TrimSpace(flag))
	switch d {
	case config.DecoderFFmpeg, config.DecoderOpenCV:
		return d, nil
	}
	return "", fmt.Errorf("decoder must be %q or %q, got %q", config.DecoderFFmpeg, config.DecoderOpenCV, flag)
}

// outline draws a rectangle border of the given thickness inside r.
func outline(img draw.Image, r image.Rectangle, c color.Color, thickness int) {
	u := image.NewUniform(c)
	for _, edge := range []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	} {
		draw.Draw(img, edge.Intersect(r), u, image.Point{}, draw.Src)
	}
}
