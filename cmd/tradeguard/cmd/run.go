package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	appcontainer "tradeguard/internal/application/container"
	"tradeguard/internal/infrastructure/config"
	"tradeguard/internal/infrastructure/container"
	"tradeguard/internal/infrastructure/storage/composite"
	"tradeguard/internal/interfaces/console"
	"tradeguard/internal/interfaces/control"
)

var (
	runPrint       bool
	runConfirmLive bool
)

// errLiveNotConfirmed 实盘未确认
var errLiveNotConfirmed = errors.New("network is live with a binance account: real funds at risk, rerun with --confirm-live")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the trading loop",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runPrint, "print", false, "print a status line after every cycle")
	runCmd.Flags().BoolVar(&runConfirmLive, "confirm-live", false, "acknowledge trading real funds on the live network")
}

// checkLive 实盘必须显式确认，在连接交易所之前检查
func checkLive(c *config.Config, confirmed bool) error {
	if !c.RealFunds() {
		return nil
	}
	if !confirmed {
		return errLiveNotConfirmed
	}
	log.Warn().
		Float64("base_risk_pct", c.Risk.BaseRiskPct).
		Int("max_open_positions", c.Risk.MaxOpenPositions).
		Msg("LIVE TRADING: real funds at risk")
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := checkLive(cfg, runConfirmLive); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := container.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return err
	}
	defer infra.Close()

	deps := infra.TradingDeps()
	if runPrint {
		deps.Sink = composite.Sinks{deps.Sink, console.NewSink(os.Stdout)}
	}
	app := appcontainer.New(infra.TradingOptions(), deps)
	svc := app.TradingService()

	if cfg.Control.Addr != "" {
		srv := control.NewServer(cfg.Control.Addr, svc)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if err := infra.StartPriceFeed(ctx); err != nil {
		log.Warn().Err(err).Msg("price feed unavailable, stop-loss monitoring disabled")
	}

	log.Info().
		Str("config", configPath).
		Str("gateway", infra.Gateway().Name()).
		Bool("simulation", infra.Simulation()).
		Int("symbols", len(cfg.Symbols.List)).
		Int("max_daily_trades", cfg.Risk.MaxDailyTrades).
		Float64("max_drawdown", cfg.Risk.MaxDrawdownPct).
		Msg("tradeguard started")

	err = svc.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	st := svc.Status()
	log.Info().Str("state", st.State).Int("open_positions", st.OpenPositions).Int("trades", st.TradeCount).Msg("tradeguard exited")
	return err
}
