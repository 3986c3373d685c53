package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	sqliterepo "tradeguard/internal/infrastructure/storage/sqlite"
	"tradeguard/internal/interfaces/console"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List journaled trades from the sqlite audit db",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of trades to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	path := cfg.Storage.SQLite.Path
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no audit db at %s (enable storage.sqlite)", path)
	}
	repo, err := sqliterepo.New(path)
	if err != nil {
		return err
	}
	defer repo.Close()

	rows, err := repo.ListTrades(context.Background(), historyLimit)
	if err != nil {
		return err
	}
	return console.RenderTrades(os.Stdout, rows)
}
