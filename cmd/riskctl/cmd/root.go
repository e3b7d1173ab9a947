package cmd

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

var (
	role   string
	asJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "riskctl",
	Short: "Inspect and exercise the position and risk engine",
	Long: `riskctl works against the same stores as riskengine.

It can:
  - preview the order an intent translates to, from a positions file
  - list fills from the SQLite journal
  - print or follow the aggregates published to Redis

Figures are scaled for --role exactly as the API scales them.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&role, "role", "admin", "role to scale figures for")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of text")

	rootCmd.AddCommand(
		newSizeCmd(),
		newKindsCmd(),
		newFillsCmd(),
		newLatestCmd(),
		newWatchCmd(),
	)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
