package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent upload attempts and totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(verbose)
		if err != nil {
			return err
		}

		repo, db, err := app.openHistory(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := repo.GetStats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Uploads: %d total, %d succeeded, %d failed\n\n",
			stats.Total, stats.Success, stats.Failed)

		records, err := repo.List(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		for _, r := range records {
			mark := "ok"
			if !r.Success {
				mark = "failed"
			}
			title := r.Title
			if title == "" {
				title = "-"
			}
			fmt.Printf("%s  %-6s  %s  %s\n",
				r.UploadedAt.Format("2006-01-02 15:04"), mark, title, r.URL)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of records to show")
	rootCmd.AddCommand(historyCmd)
}
