package cmd

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeguard/internal/infrastructure/config"
)

func TestCheckLive(t *testing.T) {
	c := config.Default()
	assert.NoError(t, checkLive(c, false), "testnet needs no confirmation")

	c.App.Network = config.NetworkLive
	c.Exchange.Kind = "binance"
	assert.ErrorIs(t, checkLive(c, false), errLiveNotConfirmed)
	assert.NoError(t, checkLive(c, true))
}

func TestRunRefusesUnconfirmedLive(t *testing.T) {
	t.Setenv("TRADEGUARD_NETWORK", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "live.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[app]
network = "live"

[state]
path = "`+filepath.ToSlash(filepath.Join(dir, "state.json"))+`"

[exchange]
kind = "binance"
api_key = "k"
api_secret = "s"
`), 0o644))

	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"run", "-c", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	assert.ErrorIs(t, err, errLiveNotConfirmed)
	assert.NoFileExists(t, filepath.Join(dir, "state.json"))
}
