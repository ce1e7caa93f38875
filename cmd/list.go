package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/barpath/internal/store"
	"github.com/andresmejia3/barpath/internal/utils"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := connectDB(cmd.Context()); err != nil {
			utils.ShowError("Database unavailable", err, nil)
			return err
		}
		runs, err := DB.ListRuns(cmd.Context(), listLimit)
		if err != nil {
			utils.ShowError("Failed to list runs", err, nil)
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs found in database.")
			return nil
		}
		fmt.Println(renderRuns(runs))
		return nil
	},
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "l", 20, "Maximum number of runs to show (0 for all)")
	rootCmd.AddCommand(listCmd)
}

func renderRuns(runs []store.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID.String(),
			r.Label,
			filepath.Base(r.VideoPath),
			r.State,
			strconv.Itoa(r.Summary.TotalPoints),
			fmt.Sprintf("%.3f", r.Summary.PeakVelocity),
			fmt.Sprintf("%.1f%%", r.Summary.SuccessRate*100),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return renderTable(
		[]string{"ID", "LABEL", "VIDEO", "STATE", "POINTS", "PEAK V (m/s)", "SUCCESS", "CREATED"},
		rows, 4, 5, 6)
}
