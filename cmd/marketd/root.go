package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvemarket/internal/config"
	"github.com/rovshanmuradov/curvemarket/internal/utils/logger"
)

// GlobalFlags are shared by every command.
type GlobalFlags struct {
	ConfigPath string
	Debug      bool
	NoLogFile  bool
}

// cli carries what PersistentPreRunE loaded into the subcommands.
type cli struct {
	flags  GlobalFlags
	cfg    *config.Config
	logger *logger.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "marketd",
		Short: "Bonding curve token markets",
		Long: `marketd prices and simulates bonding curve token markets.

A market sells its token on an exponential curve until the primary supply is
gone, then moves its reserve into a constant product pool and keeps trading
there.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.flags.ConfigPath, "config", "c", "", "config file (yaml, json or toml)")
	root.PersistentFlags().BoolVar(&c.flags.Debug, "debug", false, "debug logging")
	root.PersistentFlags().BoolVar(&c.flags.NoLogFile, "no-log-file", false, "log to the console only")

	root.AddCommand(newQuoteCmd(c))
	root.AddCommand(newCurveCmd(c))
	root.AddCommand(newSimulateCmd(c))
	root.AddCommand(newExportCmd(c))
	return root
}

func (c *cli) init() error {
	cfg, err := config.LoadConfig(c.flags.ConfigPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	logFile := cfg.Log.File
	if c.flags.NoLogFile {
		logFile = ""
	}
	c.logger, err = logger.New(&logger.Config{
		LogFile:     logFile,
		MaxSize:     cfg.Log.MaxSize,
		MaxAge:      cfg.Log.MaxAge,
		MaxBackups:  cfg.Log.MaxBackups,
		Compress:    cfg.Log.Compress,
		Development: cfg.DebugLogging || c.flags.Debug,
		Pretty:      !(cfg.DebugLogging || c.flags.Debug),
		Console:     os.Stderr,
	})
	if err != nil {
		return err
	}

	c.logger.Debug("Configuration loaded",
		zap.String("path", c.flags.ConfigPath),
		zap.String("storage", cfg.Storage.Driver))
	return nil
}
