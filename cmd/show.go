package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/barpath/internal/export"
	"github.com/andresmejia3/barpath/internal/store"
	"github.com/andresmejia3/barpath/internal/types"
	"github.com/andresmejia3/barpath/internal/utils"
)

var (
	showSamples bool
	showCSV     string
)

var showCmd = &cobra.Command{
	Use:   "show <run_id>",
	Short: "Show an archived run's summary and samples",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := uuid.Parse(args[0])
		if err != nil {
			utils.ShowError("Invalid run ID", err, nil)
			return err
		}
		if err := connectDB(cmd.Context()); err != nil {
			utils.ShowError("Database unavailable", err, nil)
			return err
		}
		run, samples, err := DB.GetRun(cmd.Context(), id)
		if err != nil {
			utils.ShowError("Failed to load run", err, nil)
			return err
		}

		fmt.Println(renderRun(run))
		if showSamples && len(samples) > 0 {
			fmt.Println(renderSamples(samples))
		}
		if showCSV != "" {
			if err := export.WriteCSVFile(showCSV, sampleRows(samples)); err != nil {
				utils.ShowError("Failed to write CSV", err, nil)
				return err
			}
			fmt.Fprintf(os.Stderr, "📄 CSV written to %s\n", showCSV)
		}
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVarP(&showSamples, "samples", "s", false, "Print every sample")
	showCmd.Flags().StringVar(&showCSV, "csv", "", "Write the run's index,timestamp,x,y rows to this CSV file")
	rootCmd.AddCommand(showCmd)
}

func renderRun(r *store.Run) string {
	s := r.Summary
	rows := [][]string{
		{"ID", r.ID.String()},
		{"Label", r.Label},
		{"Video", r.VideoPath},
		{"Created", r.CreatedAt.Local().Format("2006-01-02 15:04:05")},
		{"Region", r.Region.String()},
		{"Physical height", fmt.Sprintf("%.3f m", r.PhysicalHeight)},
		{"Threshold", fmt.Sprintf("%.2f", r.MatchThreshold)},
		{"Sample interval", strconv.Itoa(r.SampleInterval)},
		{"Scale", fmt.Sprintf("%.2f px/m", r.Scale)},
		{"State", r.State},
		{"Frames processed", fmt.Sprintf("%d / %d", r.FramesProcessed, r.TotalFrames)},
		{"Frames scored", strconv.Itoa(r.FramesScored)},
		{"Points tracked", strconv.Itoa(s.TotalPoints)},
		{"Success rate", fmt.Sprintf("%.1f%%", s.SuccessRate*100)},
		{"Peak velocity", fmt.Sprintf("%.3f m/s", s.PeakVelocity)},
		{"Average velocity", fmt.Sprintf("%.3f m/s", s.AvgVelocity)},
		{"Min velocity", fmt.Sprintf("%.3f m/s", s.MinVelocity)},
		{"Velocity std dev", fmt.Sprintf("%.3f m/s", s.StdVelocity)},
	}
	if r.Error != "" {
		rows = append(rows, []string{"Error", r.Error})
	}
	return renderTable([]string{"Field", "Value"}, rows)
}

func renderSamples(samples []store.Sample) string {
	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, []string{
			strconv.Itoa(s.Index),
			utils.FmtTime(s.Timestamp),
			fmt.Sprintf("%.4f", s.X),
			fmt.Sprintf("%.4f", s.Y),
			fmt.Sprintf("%.3f", s.Velocity),
			fmt.Sprintf("%.3f", s.Acceleration),
		})
	}
	return renderTable([]string{"#", "TIME", "X (m)", "Y (m)", "V (m/s)", "A (m/s²)"}, rows, 0, 2, 3, 4, 5)
}

func sampleRows(samples []store.Sample) []types.ExportRow {
	rows := make([]types.ExportRow, len(samples))
	for i, s := range samples {
		rows[i] = types.ExportRow{Index: s.Index, Timestamp: s.Timestamp, X: s.X, Y: s.Y}
	}
	return rows
}
