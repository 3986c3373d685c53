package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"tradeguard/internal/application/port"
	"tradeguard/internal/domain/model"
	domain "tradeguard/internal/domain/service"
	"tradeguard/internal/infrastructure/idgen"
	"tradeguard/internal/infrastructure/metrics"
)

// errLedgerUnchanged 让 Update 放弃写入
var errLedgerUnchanged = errors.New("ledger unchanged")

// Options 交易循环参数
type Options struct {
	PollInterval      time.Duration
	ReconcileInterval time.Duration // 0 表示只在启动时对账
	StopFile          string
	Sizing            domain.SizingParams
	Breaker           domain.BreakerParams
	Retry             domain.RetryPolicy
	MaxOpenPositions  int
	LimitPriceOffset  float64
	SymbolCooldown    time.Duration // 同一交易对两次开仓的最小间隔，0 表示不限制
	Simulation        bool
	Now               func() time.Time
}

// Deps 交易循环依赖；Prices、Volatility、Journal、Sink 可为空
type Deps struct {
	Store      port.LedgerStore
	Gateway    port.Gateway
	Signals    port.SignalSource
	Prices     port.PriceBook
	Volatility *domain.VolatilityTracker
	Journal    port.Repository
	Sink       port.Sink
}

// TradingService 单协程的轮询交易循环：对账、熔断检查、止盈止损、处理信号
type TradingService struct {
	opts Options
	deps Deps

	breaker    *domain.CircuitBreaker
	reconciler *domain.Reconciler
	dedup      *domain.SignalDeduplicator

	stop       atomic.Bool
	reconciled bool
	lastRecon  time.Time
	haltLogged bool

	mu          sync.RWMutex
	status      port.Status
	divergences int
	cycles      int64
}

// NewTradingService 创建交易循环
func NewTradingService(opts Options, deps Deps) *TradingService {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.MaxOpenPositions <= 0 {
		opts.MaxOpenPositions = 3
	}
	opts.Retry.OnRetry = chainRetryHook(opts.Retry.OnRetry)

	r := domain.NewReconciler(idgen.TradeID)
	r.Now = opts.Now

	s := &TradingService{
		opts:       opts,
		deps:       deps,
		breaker:    domain.NewCircuitBreaker(opts.Breaker, opts.Now),
		reconciler: r,
		dedup:      domain.NewSignalDeduplicator(opts.SymbolCooldown, opts.Now),
	}
	s.status = port.Status{State: port.StateRunning, Simulation: opts.Simulation}
	return s
}

func chainRetryHook(next func(op string, attempt int, err error)) func(op string, attempt int, err error) {
	return func(op string, attempt int, err error) {
		metrics.Retries.WithLabelValues(op).Inc()
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("transient failure, retrying")
		if next != nil {
			next(op, attempt, err)
		}
	}
}

// Stop 设置协作式停止标志，在当前周期结束后生效
func (s *TradingService) Stop() {
	s.stop.Store(true)
}

// Status 返回最近一次周期的状态快照，可在周期中途安全调用
func (s *TradingService) Status() port.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Halted 熔断是否已触发
func (s *TradingService) Halted() bool {
	_, ok := s.breaker.Tripped()
	return ok
}

func (s *TradingService) stopRequested() bool {
	if s.stop.Load() {
		return true
	}
	if s.opts.StopFile == "" {
		return false
	}
	if _, err := os.Stat(s.opts.StopFile); err == nil {
		log.Info().Str("file", s.opts.StopFile).Msg("stop requested via stop file")
		_ = os.Remove(s.opts.StopFile)
		s.stop.Store(true)
		return true
	}
	return false
}

// Run 启动交易循环，直到 Stop、停止文件或 ctx 取消。
// 熔断触发后循环继续运行，只提供状态和对账，不再下单
func (s *TradingService) Run(ctx context.Context) error {
	if s.opts.StopFile != "" {
		_ = os.Remove(s.opts.StopFile)
	}

	s.Startup(ctx)

	for {
		if s.stopRequested() {
			s.setState(port.StateStopped)
			log.Info().Msg("trading loop stopped")
			return nil
		}

		s.RunCycle(ctx)

		t := time.NewTimer(s.opts.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			s.setState(port.StateStopped)
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Startup 记录初始权益并完成首次对账。对账失败时后续周期会重试，成功前不处理信号
func (s *TradingService) Startup(ctx context.Context) {
	l := s.deps.Store.Snapshot()
	if l.StartingEquity <= 0 {
		eq, err := domain.Retry(ctx, s.opts.Retry, "query_equity", s.deps.Gateway.QueryEquity)
		if err != nil {
			log.Warn().Err(err).Msg("starting equity unavailable")
		} else if eq > 0 {
			if err := s.deps.Store.SetStartingBalance(ctx, eq); err != nil {
				log.Error().Err(err).Msg("record starting equity failed")
			}
			log.Info().Float64("equity", eq).Msg("starting equity recorded")
		}
	}
	s.reconcile(ctx)
}

// RunCycle 执行一个完整周期
func (s *TradingService) RunCycle(ctx context.Context) {
	s.mu.Lock()
	s.cycles++
	s.mu.Unlock()

	s.deps.Store.RetryPending(ctx)

	if !s.reconciled || s.reconcileDue() {
		s.reconcile(ctx)
	}

	equity, err := domain.Retry(ctx, s.opts.Retry, "query_equity", s.deps.Gateway.QueryEquity)
	if err != nil {
		log.Warn().Err(err).Msg("equity query failed, skipping cycle")
		s.publish(ctx, s.Status().Equity)
		return
	}
	metrics.Equity.Set(equity)

	if d := s.evaluate(ctx, equity); d.Halted {
		s.publish(ctx, equity)
		return
	}
	if !s.reconciled {
		log.Warn().Msg("ledger not reconciled yet, signals deferred")
		s.publish(ctx, equity)
		return
	}

	s.monitorExits(ctx)

	signals, err := domain.Retry(ctx, s.opts.Retry, "poll_signals", s.deps.Signals.Poll)
	if err != nil {
		log.Warn().Err(err).Msg("signal poll failed")
	}
	for _, sig := range signals {
		if s.HandleSignal(ctx, sig, equity) {
			if d := s.evaluate(ctx, equity); d.Halted {
				break
			}
		}
	}

	s.publish(ctx, equity)
}

func (s *TradingService) reconcileDue() bool {
	if s.opts.ReconcileInterval <= 0 {
		return false
	}
	return s.opts.Now().Sub(s.lastRecon) >= s.opts.ReconcileInterval
}

// reconcile 以交易所持仓校正账本。不与下单并发：两者都只在循环协程中执行
func (s *TradingService) reconcile(ctx context.Context) {
	positions, err := domain.Retry(ctx, s.opts.Retry, "query_positions", s.deps.Gateway.QueryPositions)
	if err != nil {
		log.Warn().Err(err).Msg("position query failed, reconciliation postponed")
		return
	}

	var prices map[string]float64
	if s.deps.Prices != nil {
		prices = s.deps.Prices.Snapshot()
	}

	var before, next *model.Ledger
	var divs []model.Divergence
	err = s.deps.Store.Update(ctx, func(l *model.Ledger) error {
		synced, d := s.reconciler.Sync(l, positions, prices)
		if len(d) == 0 {
			return errLedgerUnchanged
		}
		before, next, divs = l.Clone(), synced, d
		*l = *synced.Clone()
		return nil
	})
	s.lastRecon = s.opts.Now()
	s.reconciled = true

	switch {
	case errors.Is(err, errLedgerUnchanged):
		log.Debug().Int("exchange_positions", len(positions)).Msg("ledger in sync with exchange")
		return
	case err != nil:
		log.Error().Err(err).Msg("apply reconciliation failed")
		return
	}

	for _, d := range divs {
		ev := log.Warn().
			Str("symbol", d.Symbol).
			Str("kind", string(d.Kind))
		if d.Before != nil {
			ev = ev.Str("before_side", string(d.Before.Side)).
				Float64("before_qty", d.Before.Quantity).
				Str("before_status", string(d.Before.Status))
		}
		if d.After != nil {
			ev = ev.Str("after_side", string(d.After.Side)).
				Float64("after_qty", d.After.Quantity).
				Str("after_status", string(d.After.Status))
		}
		ev.Msg("reconciliation divergence, exchange state adopted")
		metrics.Divergences.WithLabelValues(string(d.Kind)).Inc()
		if s.deps.Journal != nil {
			if err := s.deps.Journal.InsertDivergence(ctx, d); err != nil {
				log.Warn().Err(err).Msg("journal divergence failed")
			}
		}
	}
	s.journalReconciled(ctx, before, next)

	s.mu.Lock()
	s.divergences += len(divs)
	s.mu.Unlock()
}

// journalReconciled 流水同步对账结果：新增的合成记录写入，被关闭的成交记录更新
func (s *TradingService) journalReconciled(ctx context.Context, before, next *model.Ledger) {
	if s.deps.Journal == nil {
		return
	}
	for _, t := range next.History {
		i := before.TradeIndex(t.ID)
		switch {
		case i < 0:
			if err := s.deps.Journal.InsertTrade(ctx, t); err != nil {
				log.Warn().Err(err).Str("trade", t.ID).Msg("journal trade failed")
			}
		case before.History[i].ExitTime == nil && t.ExitTime != nil:
			if err := s.deps.Journal.UpdateTrade(ctx, t); err != nil {
				log.Warn().Err(err).Str("trade", t.ID).Msg("journal trade update failed")
			}
		}
	}
}

// evaluate 检查熔断；首次触发时记录日志、指标和流水
func (s *TradingService) evaluate(ctx context.Context, equity float64) domain.Decision {
	d := s.breaker.Evaluate(s.deps.Store.Snapshot(), equity)
	metrics.Drawdown.Set(d.Drawdown)
	if !d.Halted || s.haltLogged {
		return d
	}
	s.haltLogged = true

	err := domain.HaltError(d)
	log.Error().
		Err(err).
		Str("reason", string(d.Reason)).
		Int("trade_count", d.TradeCount).
		Float64("equity", equity).
		Float64("peak_equity", d.PeakEquity).
		Float64("drawdown", d.Drawdown).
		Msg("circuit breaker tripped, trading halted until restart")
	metrics.Halts.WithLabelValues(string(d.Reason)).Inc()
	metrics.Halted.Set(1)

	if s.deps.Journal != nil {
		var sh *model.SafetyHalt
		detail := ""
		if errors.As(err, &sh) {
			detail = sh.Detail
		}
		ev := port.HaltEvent{
			Reason:     d.Reason,
			Detail:     detail,
			Equity:     equity,
			PeakEquity: d.PeakEquity,
			Drawdown:   d.Drawdown,
			TradeCount: d.TradeCount,
			At:         s.opts.Now(),
		}
		if err := s.deps.Journal.InsertHalt(ctx, ev); err != nil {
			log.Warn().Err(err).Msg("journal halt failed")
		}
	}
	return d
}

func (s *TradingService) skip(sig model.Signal, reason string) {
	metrics.SignalsSkipped.WithLabelValues(reason).Inc()
	log.Debug().Str("symbol", sig.Symbol).Str("reason", reason).Msg("signal skipped")
}

// HandleSignal 处理单个信号，返回是否产生了交易所确认的成交
func (s *TradingService) HandleSignal(ctx context.Context, sig model.Signal, equity float64) bool {
	if s.Halted() {
		s.skip(sig, "halted")
		return false
	}
	if sig.Symbol == "" || !sig.Direction.Valid() || sig.Confidence < 0 || sig.Confidence > 100 {
		s.skip(sig, "invalid")
		return false
	}
	if ok, why := s.dedup.Admit(sig); !ok {
		log.Debug().Str("signal", sig.ID).Str("detail", why).Msg("signal deduplicated")
		s.skip(sig, "deduplicated")
		return false
	}

	l := s.deps.Store.Snapshot()
	if l.HasOpen(sig.Symbol) {
		s.skip(sig, "already_open")
		return false
	}
	if len(l.OpenPositions()) >= s.opts.MaxOpenPositions {
		s.skip(sig, "max_open_positions")
		return false
	}

	wins, losses := domain.Streaks(l.History)
	sc := domain.SizingContext{Equity: equity, WinStreak: wins, LossStreak: losses}
	if s.deps.Volatility != nil {
		sc.CurrentVol, sc.BaselineVol = s.deps.Volatility.Volatility(sig.Symbol)
	}
	qty := domain.Size(sig, sc, s.opts.Sizing)
	if qty <= 0 {
		s.skip(sig, "zero_quantity")
		return false
	}

	req := port.OrderRequest{
		Symbol:        sig.Symbol,
		Side:          sig.Direction,
		Quantity:      qty,
		Price:         sig.EntryPrice * (1 + sig.Direction.Sign()*s.opts.LimitPriceOffset),
		ClientOrderID: idgen.ClientOrderID("tg"),
	}
	s.dedup.RegisterOrder(sig.Symbol)
	res, err := s.place(ctx, req)
	if err != nil {
		return false
	}

	now := s.opts.Now()
	filled := qty
	if res.FilledQty > 0 {
		filled = res.FilledQty
	}
	entry := sig.EntryPrice
	if res.AvgPrice > 0 {
		entry = res.AvgPrice
	}
	pos := model.Position{
		Symbol:      sig.Symbol,
		Side:        sig.Direction,
		Quantity:    filled,
		EntryPrice:  entry,
		StopPrice:   sig.StopPrice,
		TargetPrice: sig.TargetPrice,
		OpenTime:    now,
		Status:      model.StatusOpen,
	}
	trade := model.TradeRecord{
		ID:         idgen.TradeID(now),
		Symbol:     sig.Symbol,
		Side:       sig.Direction,
		Quantity:   filled,
		EntryPrice: entry,
		EntryTime:  now,
		Confidence: sig.Confidence,
		Status:     model.StatusOpen,
		Source:     model.SourceFill,
		OrderID:    res.OrderID,
	}
	if err := s.deps.Store.Update(ctx, func(l *model.Ledger) error {
		l.Positions[pos.Symbol] = pos
		l.History = append(l.History, trade)
		return nil
	}); err != nil {
		log.Error().Err(err).Str("symbol", sig.Symbol).Msg("record fill failed")
	}
	if s.deps.Journal != nil {
		if err := s.deps.Journal.InsertTrade(ctx, trade); err != nil {
			log.Warn().Err(err).Msg("journal trade failed")
		}
	}

	log.Info().
		Str("symbol", sig.Symbol).
		Str("side", string(sig.Direction)).
		Float64("qty", filled).
		Float64("entry", entry).
		Float64("confidence", sig.Confidence).
		Str("order_id", res.OrderID).
		Msg("position opened")
	return true
}

// place 下单并分类错误。拒单只记录，不创建持仓也不计入熔断
func (s *TradingService) place(ctx context.Context, req port.OrderRequest) (port.OrderResult, error) {
	res, err := domain.Retry(ctx, s.opts.Retry, "place_order", func(ctx context.Context) (port.OrderResult, error) {
		return s.deps.Gateway.PlaceOrder(ctx, req)
	})
	if err == nil && res.Status != port.OrderOK {
		err = &model.RejectedOrderError{Symbol: req.Symbol, Reason: "order status " + string(res.Status)}
	}
	side := string(req.Side)
	switch {
	case err == nil:
		metrics.Orders.WithLabelValues("ok", side).Inc()
	case model.IsRejected(err):
		metrics.Orders.WithLabelValues("rejected", side).Inc()
		log.Warn().Err(err).Str("symbol", req.Symbol).Float64("qty", req.Quantity).Msg("order rejected, signal discarded")
	default:
		metrics.Orders.WithLabelValues("error", side).Inc()
		log.Warn().Err(err).Str("symbol", req.Symbol).Msg("order placement failed")
	}
	return res, err
}

// monitorExits 按最新价格检查止损/止盈并平仓
func (s *TradingService) monitorExits(ctx context.Context) {
	if s.deps.Prices == nil {
		return
	}
	for _, p := range s.deps.Store.Snapshot().OpenPositions() {
		price, ok := s.deps.Prices.LastPrice(p.Symbol)
		if !ok {
			continue
		}
		if reason := exitReason(p, price); reason != "" {
			s.closePosition(ctx, p, price, reason)
		}
	}
}

func exitReason(p model.Position, price float64) string {
	if p.Side == model.SideLong {
		switch {
		case p.StopPrice > 0 && price <= p.StopPrice:
			return "stop_loss"
		case p.TargetPrice > 0 && price >= p.TargetPrice:
			return "take_profit"
		}
		return ""
	}
	switch {
	case p.StopPrice > 0 && price >= p.StopPrice:
		return "stop_loss"
	case p.TargetPrice > 0 && price <= p.TargetPrice:
		return "take_profit"
	}
	return ""
}

func (s *TradingService) closePosition(ctx context.Context, p model.Position, price float64, reason string) {
	res, err := s.place(ctx, port.OrderRequest{
		Symbol:        p.Symbol,
		Side:          p.Side.Opposite(),
		Quantity:      p.Quantity,
		Price:         price,
		ClientOrderID: idgen.ClientOrderID("tgx"),
		ReduceOnly:    true,
	})
	if err != nil {
		return
	}

	exit := price
	if res.AvgPrice > 0 {
		exit = res.AvgPrice
	}
	now := s.opts.Now()
	pnl := p.PnlAt(exit)
	var closed *model.TradeRecord
	if err := s.deps.Store.Update(ctx, func(l *model.Ledger) error {
		cur := l.Positions[p.Symbol]
		cur.Status = model.StatusClosed
		l.Positions[p.Symbol] = cur
		i := l.OpenTradeIndex(p.Symbol)
		if i < 0 {
			return nil
		}
		if err := l.SetTradeStatus(l.History[i].ID, model.StatusClosed, &exit, &now, &pnl); err != nil {
			return err
		}
		l.History[i].CloseReason = reason
		t := l.History[i]
		closed = &t
		return nil
	}); err != nil {
		log.Error().Err(err).Str("symbol", p.Symbol).Msg("record close failed")
		return
	}
	if closed != nil && s.deps.Journal != nil {
		if err := s.deps.Journal.UpdateTrade(ctx, *closed); err != nil {
			log.Warn().Err(err).Msg("journal trade update failed")
		}
	}
	log.Info().
		Str("symbol", p.Symbol).
		Str("reason", reason).
		Float64("exit", exit).
		Float64("pnl", pnl).
		Msg("position closed")
}

func (s *TradingService) setState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
}

// publish 刷新状态快照、指标，并推送给 Sink
func (s *TradingService) publish(ctx context.Context, equity float64) {
	l := s.deps.Store.Snapshot()
	d, halted := s.breaker.Tripped()
	if !halted {
		peak := s.breaker.Peak()
		d = domain.Decision{
			TradeCount: domain.ConfirmedTradeCount(l.History, s.opts.Now()),
			PeakEquity: peak,
			Drawdown:   domain.Drawdown(peak, equity),
		}
	}
	open := len(l.OpenPositions())
	degraded := s.deps.Store.Degraded()

	s.mu.Lock()
	st := s.status
	switch {
	case st.State == port.StateStopped:
	case halted:
		st.State = port.StateHalted
		st.HaltReason = string(d.Reason)
	default:
		st.State = port.StateRunning
	}
	st.OpenPositions = open
	st.TradeCount = d.TradeCount
	st.Equity = equity
	st.PeakEquity = d.PeakEquity
	st.Drawdown = d.Drawdown
	st.Degraded = degraded
	st.Divergences = s.divergences
	st.Cycles = s.cycles
	st.UpdatedAt = s.opts.Now().UnixMilli()
	s.status = st
	s.mu.Unlock()

	metrics.OpenPositions.Set(float64(open))
	metrics.BoolGauge(metrics.Degraded, degraded)

	if s.deps.Sink != nil {
		if err := s.deps.Sink.PublishStatus(ctx, st); err != nil {
			log.Debug().Err(err).Msg("publish status failed")
		}
	}
}
