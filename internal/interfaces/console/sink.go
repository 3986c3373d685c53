package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"tradeguard/internal/application/port"
	"tradeguard/internal/domain/model"
	domain "tradeguard/internal/domain/service"
)

// Sink prints one status line per cycle.
type Sink struct {
	w io.Writer
}

func NewSink(w io.Writer) *Sink {
	if w == nil {
		w = os.Stdout
	}
	return &Sink{w: w}
}

func (s *Sink) PublishStatus(_ context.Context, st port.Status) error {
	_, err := fmt.Fprintln(s.w, StatusLine(st))
	return err
}

// StatusLine 单行状态，例如：
// 2026-01-02 03:04:05 running open=1 trades=3 equity=10012.50 dd=0.10%
func StatusLine(st port.Status) string {
	ts := time.UnixMilli(st.UpdatedAt).UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("%s %s open=%d trades=%d equity=%.2f peak=%.2f dd=%.2f%%",
		ts, st.State, st.OpenPositions, st.TradeCount, st.Equity, st.PeakEquity, st.Drawdown*100)
	if st.HaltReason != "" {
		line += " halt=" + st.HaltReason
	}
	if st.Degraded {
		line += " DEGRADED"
	}
	if st.Simulation {
		line += " [sim]"
	}
	return line
}

// RenderLedger 打印账本摘要与当前持仓
func RenderLedger(w io.Writer, l *model.Ledger, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "session start\t%s\n", l.SessionStart.Format(time.RFC3339))
	fmt.Fprintf(tw, "last updated\t%s\n", l.LastUpdated.Format(time.RFC3339))
	fmt.Fprintf(tw, "starting balance\t%.2f\n", l.StartingEquity)
	fmt.Fprintf(tw, "trades (all)\t%d\n", len(l.History))
	fmt.Fprintf(tw, "trades today\t%d\n", domain.ConfirmedTradeCount(l.History, now))
	if err := tw.Flush(); err != nil {
		return err
	}

	open := l.OpenPositions()
	if len(open) == 0 {
		_, err := fmt.Fprintln(w, "\nno open positions")
		return err
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSIDE\tQTY\tENTRY\tSTOP\tTARGET\tSTATUS\tOPENED")
	for _, p := range open {
		fmt.Fprintf(tw, "%s\t%s\t%g\t%g\t%g\t%g\t%s\t%s\n",
			p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.StopPrice, p.TargetPrice, p.Status,
			p.OpenTime.Format(time.RFC3339))
	}
	return tw.Flush()
}

// RenderTrades 打印审计库中的成交记录
func RenderTrades(w io.Writer, rows []port.TradeRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSYMBOL\tSIDE\tQTY\tENTRY\tEXIT\tPNL\tSTATUS\tSOURCE\tREASON")
	for _, r := range rows {
		exit, pnl := "-", "-"
		if r.ExitPrice.Valid {
			exit = fmt.Sprintf("%g", r.ExitPrice.Float64)
		}
		if r.RealizedPnl.Valid {
			pnl = fmt.Sprintf("%.2f", r.RealizedPnl.Float64)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%g\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Symbol, r.Side, r.Quantity, r.EntryPrice, exit, pnl, r.Status, r.Source, r.CloseReason)
	}
	return tw.Flush()
}

var _ port.Sink = (*Sink)(nil)
