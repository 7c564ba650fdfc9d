package cli

import (
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "threadauto",
	Short: "Batch-post Coupang Partners products to Threads",
	Long: `threadauto drains a queue of Coupang Partners links, generates a hook
line for each product, publishes a multi-paragraph post to Threads through a
real browser, and debits the metered upload quota on the backend.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
