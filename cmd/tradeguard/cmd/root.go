package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tradeguard/internal/infrastructure/config"
	"tradeguard/internal/infrastructure/logger"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tradeguard",
	Short: "Safety and state layer for an automated futures trading loop",
	Long: `tradeguard runs a polling trading loop behind a durable ledger, an exchange
reconciler, a sticky circuit breaker and a risk-based position sizer.

Subcommands:
  run      start the trading loop
  status   print the ledger and, when reachable, the live status
  stop     ask a running loop to stop after its current cycle
  reset    clear the ledger (requires --confirm)
  history  list journaled trades from the sqlite audit db`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config %s: %w", configPath, err)
		}
		cfg = c
		logger.Setup(cfg.Log.Level, cfg.Log.Format)
		log.Debug().Str("config", configPath).Msg("config loaded")
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.toml", "path to config file (toml or yaml)")
}
