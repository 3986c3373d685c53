package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tradeguard/internal/infrastructure/storage/ledgerfile"
	"tradeguard/internal/interfaces/console"
	"tradeguard/internal/interfaces/control"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the ledger summary and the live status of a running loop",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print ledger stats as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	l, err := ledgerfile.ReadSnapshot(cfg.State.Path, cfg.State.Backups)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ledgerfile.StatsOf(l))
	}

	if err := console.RenderLedger(os.Stdout, l, time.Now().UTC()); err != nil {
		return err
	}

	if cfg.Control.Addr == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	st, err := control.NewClient(cfg.Control.Addr).Status(ctx)
	if err != nil {
		fmt.Println("\nlive: not reachable")
		return nil
	}
	fmt.Println("\nlive:", console.StatusLine(st))
	return nil
}
