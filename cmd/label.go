package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/barpath/internal/utils"
)

var labelCmd = &cobra.Command{
	Use:   "label <run_id> <name>",
	Short: "Assign a name to an archived run",
	Args:  cobra.ExactArgs(2),
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
		if err := DB.LabelRun(cmd.Context(), id, args[1]); err != nil {
			utils.ShowError("Failed to label run", err, nil)
			return err
		}
		fmt.Printf("✅ Run %s labeled as '%s'\n", id, args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}
