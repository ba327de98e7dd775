package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/curvemarket/internal/app"
	"github.com/rovshanmuradov/curvemarket/internal/export"
	"github.com/rovshanmuradov/curvemarket/internal/storage"
	"github.com/rovshanmuradov/curvemarket/internal/storage/models"
)

const exportPageSize = 500

type exportFlags struct {
	format string
	out    string
	token  string
	side   string
	since  time.Duration
}

func newExportCmd(c *cli) *cobra.Command {
	var ef exportFlags

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export indexed trades to CSV or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runExport(cmd, ef)
		},
	}
	cmd.Flags().StringVarP(&ef.format, "format", "f", "csv", "csv or json")
	cmd.Flags().StringVarP(&ef.out, "out", "o", "exports", "output directory")
	cmd.Flags().StringVar(&ef.token, "token", "", "only this token address")
	cmd.Flags().StringVar(&ef.side, "side", "", "only buy or sell")
	cmd.Flags().DurationVar(&ef.since, "since", 0, "only trades younger than this")
	return cmd
}

func (c *cli) runExport(cmd *cobra.Command, ef exportFlags) error {
	store, err := app.OpenStorage(c.cfg.Storage, c.logger.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.RunMigrations(); err != nil {
		return err
	}
	trades, err := loadTrades(cmd, store, ef.token)
	if err != nil {
		return err
	}

	opts := export.ExportOptions{
		Format:      export.ExportFormat(ef.format),
		TokenFilter: ef.token,
		SideFilter:  ef.side,
		OutputDir:   ef.out,
	}
	if ef.since > 0 {
		opts.StartTime = time.Now().Add(-ef.since)
	}

	path, err := export.NewTradeExporter(c.logger.WithComponent("export")).ExportTrades(trades, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func loadTrades(cmd *cobra.Command, store storage.Storage, token string) ([]*models.Trade, error) {
	ctx := cmd.Context()

	tokens := []string{token}
	if token == "" {
		markets, err := store.ListMarkets(ctx)
		if err != nil {
			return nil, err
		}
		tokens = tokens[:0]
		for _, m := range markets {
			tokens = append(tokens, m.Token)
		}
	}

	var all []*models.Trade
	for _, tok := range tokens {
		for offset := 0; ; offset += exportPageSize {
			page, err := store.ListTrades(ctx, tok, exportPageSize, offset)
			if err != nil {
				return nil, fmt.Errorf("failed to list trades of %s: %w", tok, err)
			}
			all = append(all, page...)
			if len(page) < exportPageSize {
				break
			}
		}
	}
	return all, nil
}
