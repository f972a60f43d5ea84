// Command astros runs the Astros Kulture checkout backend.
//
//	astros serve              HTTP API plus the reconciliation loop
//	astros reconcile          run one reconciliation batch and exit
//	astros token --sub ops    issue an admin token for operators
//
// Configuration comes from --config (YAML) and ASTROS_* environment
// variables, e.g. ASTROS_DB_PATH, ASTROS_AUTH_JWT_SECRET,
// ASTROS_GATEWAY_KEY_ID and ASTROS_GATEWAY_KEY_SECRET.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/astroskulture/checkout/config"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "astros",
		Short:         "Astros Kulture checkout backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	load := func() (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
		}
		return cfg, newLogger(cfg.Log), nil
	}

	root.AddCommand(serveCmd(load))
	root.AddCommand(reconcileCmd(load))
	root.AddCommand(tokenCmd(load))
	return root
}

type loader func() (*config.Config, *slog.Logger, error)

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
