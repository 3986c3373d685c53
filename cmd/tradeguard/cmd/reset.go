package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tradeguard/internal/infrastructure/storage/ledgerfile"
	"tradeguard/internal/interfaces/control"
)

var resetConfirm bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear positions, history and metadata from the ledger",
	Long: `Reset replaces the ledger with an empty one. The previous file is kept as
the newest backup. Refuses to run without --confirm or while a loop answers
on the control address.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVar(&resetConfirm, "confirm", false, "really reset the ledger")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetConfirm {
		return errors.New("reset refused: pass --confirm")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.Control.Addr != "" {
		pctx, pcancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := control.NewClient(cfg.Control.Addr).Status(pctx)
		pcancel()
		if err == nil {
			return errors.New("reset refused: a trading loop is running, stop it first")
		}
	}

	store, err := ledgerfile.Open(ctx, ledgerfile.Options{
		Path:        cfg.State.Path,
		Backups:     cfg.State.Backups,
		LockTimeout: time.Duration(cfg.State.LockTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	if err := store.Reset(ctx, true); err != nil {
		return err
	}
	log.Warn().Str("path", store.Path()).Msg("ledger reset")
	return nil
}
