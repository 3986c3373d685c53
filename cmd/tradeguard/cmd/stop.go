package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tradeguard/internal/interfaces/control"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running loop to stop after its current cycle",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	if dir := filepath.Dir(cfg.App.StopFile); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(cfg.App.StopFile, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("write stop file: %w", err)
	}
	log.Info().Str("file", cfg.App.StopFile).Msg("stop file written")

	if cfg.Control.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := control.NewClient(cfg.Control.Addr).Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("control server not reachable, relying on stop file")
		} else {
			log.Info().Str("addr", cfg.Control.Addr).Msg("stop sent to control server")
		}
	}
	return nil
}
