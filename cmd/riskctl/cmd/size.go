package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"trading-riskv1/config"
	"trading-riskv1/internal/display"
	"trading-riskv1/internal/sizing"
)

func newSizeCmd() *cobra.Command {
	var (
		seedPath   string
		stopPct    float64
		multiplier float64
	)

	cmd := &cobra.Command{
		Use:   "size TOKEN KIND [VALUE]",
		Short: "Translate an intent into a concrete order without executing it",
		Example: `  riskctl size --positions positions.yaml 2885 INCREASE_RISK_PERCENT 10
  riskctl size --positions positions.yaml 2885 exit`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if seedPath == "" {
				return fmt.Errorf("--positions is required")
			}
			seed, err := config.LoadSeed(seedPath)
			if err != nil {
				return err
			}
			positions, err := seed.ModelPositions()
			if err != nil {
				return err
			}

			value := ""
			if len(args) == 3 {
				value = args[2]
			}
			intent, err := sizing.ParseIntent(args[0], args[1], value)
			if err != nil {
				return err
			}

			for i := range positions {
				if positions[i].Token != intent.Token {
					continue
				}
				order, err := sizing.NewTranslator(stopPct).Translate(intent, &positions[i], seed.Pool())
				if err != nil {
					return err
				}
				view := display.NewScaler(multiplier).Order(order, role)
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"order": view, "query": order.Query()})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s %s qty=%d price=%s risk=%s\n",
					view.Intent, view.Symbol, view.Side, view.Qty, view.Price, view.RiskAmount)
				fmt.Fprintf(out, "%s?%s\n", order.Action(), order.Query())
				return nil
			}
			return fmt.Errorf("%w: %s", sizing.ErrMissingPosition, intent.Token)
		},
	}

	cmd.Flags().StringVar(&seedPath, "positions", "", "YAML positions file")
	cmd.Flags().Float64Var(&stopPct, "stop-pct", sizing.DefaultStopDistancePct, "stop distance as a fraction of LTP when a position has no stop loss")
	cmd.Flags().Float64Var(&multiplier, "display-multiplier", display.DefaultFactor, "multiplier for non-admin roles")
	return cmd
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List intent kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sizing.Kinds)
			}
			for _, k := range sizing.Kinds {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}
