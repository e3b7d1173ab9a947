package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"trading-riskv1/internal/display"
	"trading-riskv1/internal/engine"
	redisstore "trading-riskv1/internal/store/redis"
)

type redisFlags struct {
	addr       string
	password   string
	multiplier float64
}

func (f *redisFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "Redis address")
	cmd.Flags().StringVar(&f.password, "redis-password", os.Getenv("REDIS_PASSWORD"), "Redis password")
	cmd.Flags().Float64Var(&f.multiplier, "display-multiplier", display.DefaultFactor, "multiplier for non-admin roles")
}

func (f *redisFlags) reader() (*redisstore.Reader, error) {
	return redisstore.NewReader(redisstore.Config{Addr: f.addr, Password: f.password})
}

func newLatestCmd() *cobra.Command {
	var rf redisFlags
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Print the last aggregates published to Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rf.reader()
			if err != nil {
				return err
			}
			defer r.Close()

			u, err := r.Latest(cmd.Context())
			if errors.Is(err, redisstore.ErrNoSnapshot) {
				return fmt.Errorf("nothing published yet at %s", rf.addr)
			}
			if err != nil {
				return err
			}
			return printUpdate(cmd.OutOrStdout(), display.NewScaler(rf.multiplier), u)
		},
	}
	rf.register(cmd)
	return cmd
}

func newWatchCmd() *cobra.Command {
	var rf redisFlags
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow aggregates as they are published",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rf.reader()
			if err != nil {
				return err
			}
			defer r.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			scaler := display.NewScaler(rf.multiplier)
			var last uint64
			err = r.Watch(ctx, func(u engine.Update) {
				// buffered replays can arrive after newer updates
				if u.Seq <= last {
					return
				}
				last = u.Seq
				printUpdate(cmd.OutOrStdout(), scaler, u)
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	rf.register(cmd)
	return cmd
}

func printUpdate(w io.Writer, scaler display.Scaler, u engine.Update) error {
	view := scaler.Aggregates(u.Aggregates, role)
	if asJSON {
		return writeJSON(w, map[string]any{"seq": u.Seq, "reason": u.Reason, "at": u.At, "aggregates": view})
	}
	_, err := fmt.Fprintf(w, "seq=%d %s %s pnl=%s (%s%%) capital=%s risk used=%s avail=%s open=%d\n",
		u.Seq, u.At.Format("15:04:05.000"), u.Reason,
		view.TotalPnL.StringFixed(2), view.PnLPercent.StringFixed(2), view.CapitalUsed.StringFixed(2),
		view.UsedRisk.StringFixed(2), view.AvailableRisk.StringFixed(2), view.OpenPositions)
	return err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
