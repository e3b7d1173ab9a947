package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"trading-riskv1/internal/display"
	sqlitestore "trading-riskv1/internal/store/sqlite"
)

func newFillsCmd() *cobra.Command {
	var (
		dbPath     string
		token      string
		limit      int
		multiplier float64
	)

	cmd := &cobra.Command{
		Use:   "fills",
		Short: "List journaled fills, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := sqlitestore.New(sqlitestore.Config{DBPath: dbPath})
			if err != nil {
				return err
			}
			defer journal.Close()

			records, err := journal.GetFills(cmd.Context(), token, limit)
			if err != nil {
				return err
			}
			scaler := display.NewScaler(multiplier)
			views := make([]display.FillView, 0, len(records))
			for _, rec := range records {
				views = append(views, scaler.Fill(rec.Fill, role))
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), views)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILLED\tKIND\tSYMBOL\tSIDE\tQTY\tPRICE\tRISK\tORDER")
			for _, v := range views {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					v.FilledAt.In(time.Local).Format("2006-01-02 15:04:05"),
					v.Kind, v.Symbol, v.Side, v.Qty, v.Price, v.RiskAmount, v.OrderID)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "data/risk.db", "SQLite journal path")
	cmd.Flags().StringVar(&token, "token", "", "only fills for this token")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum fills to list")
	cmd.Flags().Float64Var(&multiplier, "display-multiplier", display.DefaultFactor, "multiplier for non-admin roles")
	return cmd
}
