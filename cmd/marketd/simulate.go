package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvemarket/internal/app"
	"github.com/rovshanmuradov/curvemarket/internal/curve"
	"github.com/rovshanmuradov/curvemarket/internal/scenario"
)

func newSimulateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a scenario against a fresh market stack",
		Long: `Run a scenario file against a fresh in-memory chain. Trades are indexed
into the configured storage, the price cache when redis.addr is set, and the
metrics registry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSimulate(cmd, args[0])
		},
	}
}

func (c *cli) runSimulate(cmd *cobra.Command, path string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := c.logger.WithOperation("simulate")
	defer c.logger.TrackPerformance("simulate")()

	sc, err := scenario.NewManager(log).LoadFile(path)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, c.cfg, c.logger.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			log.Warn("Shutdown finished with errors", zap.Error(err))
		}
	}()

	runner := scenario.NewRunner(a.Factory, a.Bank, log, c.cfg.Workers)
	report, err := runner.Run(ctx, sc)
	if err != nil {
		c.logger.LogError("Scenario failed", err, zap.String("scenario", sc.Name))
		return err
	}
	if err := a.Drain(ctx); err != nil {
		return err
	}

	for _, mr := range report.Markets {
		if mr.Deployed {
			c.logger.WithMarket(mr.Token, mr.ContentID).Debug("Final market state",
				zap.String("market_type", mr.Snapshot.MarketType.String()),
				zap.String("supply", mr.Snapshot.TotalSupply.Dec()))
		}
	}

	printReport(cmd, report, a)
	return nil
}

func printReport(cmd *cobra.Command, report *scenario.Report, a *app.App) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "scenario %q finished in %s\n\n", report.Name, report.Duration)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "content\ttoken\ttype\tsupply\treserve (eth)\ttrades\tvolume (eth)\tfees (eth)")
	for _, mr := range report.Markets {
		if !mr.Deployed {
			fmt.Fprintf(w, "%s\t%s\tnot deployed\t\t\t\t\t\n", mr.ContentID, mr.Token.Hex())
			continue
		}
		state, _ := a.Indexer.State(mr.Token)
		volume := curve.ToEther(state.BuyVolume).Add(curve.ToEther(state.SellVolume))
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			mr.ContentID,
			mr.Token.Hex(),
			mr.Snapshot.MarketType,
			curve.ToEther(mr.Snapshot.TotalSupply).StringFixed(2),
			curve.ToEther(mr.Snapshot.Reserve).StringFixed(6),
			state.TradeCount,
			volume.StringFixed(6),
			curve.ToEther(state.FeeVolume).StringFixed(6))
	}
	_ = w.Flush()

	failed := 0
	for _, steps := range report.Steps {
		for _, s := range steps {
			if s.Err != nil {
				failed++
			}
		}
	}
	fmt.Fprintf(out, "\n%d expected failures\n", failed)

	st := a.Bus.Stats()
	fmt.Fprintf(out, "%d events delivered, %d handler errors\n", st.Delivered, st.Failed)
}
