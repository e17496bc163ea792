package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"simtrader/internal/catalog"
	"simtrader/internal/config"
	"simtrader/internal/domain"
	"simtrader/internal/risk"
	"simtrader/internal/source"
	"simtrader/internal/strategy"
)

// Recorder 接收引擎产生的回测产物。实现必须自行消化失败
// （记录日志即可），不允许反向影响模拟循环。
type Recorder interface {
	RecordSession(session *domain.Session)
	RecordOrder(order *domain.Order)
	RecordTrade(trade *domain.Trade)
	RecordSnapshot(snapshot domain.PortfolioSnapshot)
	RecordMetrics(metrics domain.PerformanceMetrics)
}

// NopRecorder 丢弃全部产物，用于无持久化场景与测试。
type NopRecorder struct{}

func (NopRecorder) RecordSession(*domain.Session)           {}
func (NopRecorder) RecordOrder(*domain.Order)               {}
func (NopRecorder) RecordTrade(*domain.Trade)               {}
func (NopRecorder) RecordSnapshot(domain.PortfolioSnapshot) {}
func (NopRecorder) RecordMetrics(domain.PerformanceMetrics) {}

// Result 为一次回测会话的完整输出。
type Result struct {
	Session   *domain.Session
	Metrics   domain.PerformanceMetrics
	Snapshots []domain.PortfolioSnapshot
	Orders    []*domain.Order
	Trades    []*domain.Trade
}

// Engine 驱动单个会话的模拟循环。
//
// 每根K线的处理顺序固定：
//  1. 校验时间序（乱序致命）与缺口（按 gap_policy 处理）；
//  2. 跨日且开启 flatten_daily 时，以新K线开盘价强制平仓；
//  3. 以收盘价重估持仓，刷新当日风控状态，将账户状态交给策略处理本根K线；
//  4. 校验信号、执行风控约束并转为订单提交；
//  5. 清理过期的 day 订单；
//  6. 按提交顺序对全部未终态订单尝试撮合，成交入账并刷新保护性订单；
//  7. 再次以收盘价重估，生成并记录本根K线的账户快照。
type Engine struct {
	cfg        config.SessionConfig
	metricsCfg config.MetricsConfig
	gapPolicy  string
	instrument catalog.Instrument
	factory    source.Factory
	strategy   strategy.Strategy
	risk       *risk.Policy
	recorder   Recorder
	logger     *zap.Logger

	// 当前在订单簿中挂着的保护性订单ID。
	protective []string
}

// NewEngine 装配引擎。recorder 或 logger 传 nil 时使用空实现。
func NewEngine(cfg config.SessionConfig, metricsCfg config.MetricsConfig, gapPolicy string, instrument catalog.Instrument, factory source.Factory, strat strategy.Strategy, recorder Recorder, logger *zap.Logger) *Engine {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := &Engine{
		cfg:        cfg,
		metricsCfg: metricsCfg,
		gapPolicy:  gapPolicy,
		instrument: instrument,
		factory:    factory,
		strategy:   strat,
		recorder:   recorder,
		logger:     logger,
	}
	if cfg.Risk.Enabled {
		engine.risk = risk.NewPolicy(cfg.Risk, instrument, logger)
	}
	return engine
}

// Run 执行回测直到数据源耗尽或发生致命错误。
// 失败的会话同样返回 Result，其中包含失败前累计的产物。
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	session := domain.NewSession(e.strategy.Name(), e.cfg.Instrument, e.cfg.Timeframe,
		e.cfg.StartDate, e.cfg.EndDate, e.cfg.InitialCash, e.cfg.Parameters)
	e.recorder.RecordSession(session)

	result := &Result{Session: session}

	if err := e.strategy.Initialize(e.cfg.Parameters); err != nil {
		return e.fail(result, &StrategyError{Strategy: e.strategy.Name(), Err: err})
	}

	bars, err := e.factory.Open(ctx, e.cfg.Instrument, e.cfg.Timeframe, e.cfg.StartDate, e.cfg.EndDate)
	if err != nil {
		return e.fail(result, &ConfigurationError{Reason: fmt.Sprintf("打开数据源失败: %v", err)})
	}

	var (
		book      = NewOrderBook()
		ledger    = NewLedger(session.ID, e.cfg.InitialCash)
		fillModel = NewFillModel(e.cfg.Commission, e.cfg.Slippage, e.cfg.Liquidity, e.instrument)
		interval  = domain.TimeframeDuration(e.cfg.Timeframe)
		prevBar   domain.Bar
		barCount  int
	)

	for {
		bar, ok, err := bars.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return e.fail(result, fmt.Errorf("回测被取消: %w", err))
			}
			return e.fail(result, fmt.Errorf("读取K线失败: %w", err))
		}
		if !ok {
			break
		}

		if barCount > 0 {
			if !bar.Timestamp.After(prevBar.Timestamp) {
				return e.fail(result, &DataGapError{
					InstrumentID: bar.InstrumentID,
					Expected:     prevBar.Timestamp.Add(interval),
					Actual:       bar.Timestamp,
				})
			}
			if interval > 0 && bar.Timestamp.After(prevBar.Timestamp.Add(interval)) {
				gap := &DataGapError{
					InstrumentID: bar.InstrumentID,
					Expected:     prevBar.Timestamp.Add(interval),
					Actual:       bar.Timestamp,
				}
				if e.gapPolicy == "fail" {
					return e.fail(result, gap)
				}
				e.logger.Warn("跳过数据缺口",
					zap.String("session_id", session.ID),
					zap.String("instrument", bar.InstrumentID),
					zap.Time("expected", gap.Expected),
					zap.Time("actual", gap.Actual))
			}

			if e.cfg.FlattenDaily && !domain.SameDay(prevBar.Timestamp, bar.Timestamp) {
				if err := e.forceClose(ledger, fillModel, result, bar.Open, bar.Timestamp, "flatten_daily"); err != nil {
					return e.fail(result, err)
				}
				if e.risk != nil {
					if err := e.refreshProtection(book, ledger, result, bar.Timestamp); err != nil {
						return e.fail(result, err)
					}
				}
			}
		}

		ledger.MarkToMarket(bar.InstrumentID, bar.Close)

		halted := false
		if e.risk != nil {
			halted = e.risk.UpdateDaily(bar.Timestamp, ledger.Equity())
		}

		state := strategy.State{
			Cash:     ledger.Cash(),
			Equity:   ledger.Equity(),
			Position: ledger.Position(e.cfg.Instrument),
		}
		signals, err := e.strategy.OnBar(ctx, bar, state)
		if err != nil {
			return e.fail(result, &StrategyError{Strategy: e.strategy.Name(), Err: err})
		}

		for _, signal := range signals {
			order, err := e.orderFromSignal(session.ID, signal, bar)
			if err != nil {
				return e.fail(result, err)
			}
			if order == nil {
				continue
			}
			if e.risk != nil && increasesExposure(ledger.Position(order.InstrumentID), order) {
				if halted {
					e.logger.Debug("当日熔断中，忽略开仓信号",
						zap.String("session_id", session.ID),
						zap.String("reason", order.Reason))
					continue
				}
				capped := e.risk.CapQuantity(order.Quantity, ledger.Position(order.InstrumentID).Quantity,
					ledger.Equity(), bar.Close)
				if capped <= 0 {
					e.logger.Debug("敞口已满，忽略开仓信号",
						zap.String("session_id", session.ID),
						zap.String("reason", order.Reason))
					continue
				}
				order.Quantity = capped
			}
			if err := book.Submit(order, bar.Timestamp); err != nil {
				return e.fail(result, err)
			}
			result.Orders = append(result.Orders, order)
			e.recorder.RecordOrder(order)
		}

		for _, expired := range book.ExpireTIF(bar) {
			e.recorder.RecordOrder(expired)
		}

		for _, order := range book.PendingFor(e.cfg.Instrument) {
			trade, err := fillModel.PlanFill(order, bar)
			if err != nil {
				return e.fail(result, err)
			}

			// 入场前现金检查：以实际成交价与手续费预演现金余额。
			if trade != nil && e.cfg.EnforceCash && order.Side == domain.OrderSideBuy &&
				ledger.CashAfter(trade) < 0 {
				order.Status = domain.OrderStatusRejected
				order.CancelledAt = bar.Timestamp
				order.CancelReason = "insufficient_cash"
				e.recorder.RecordOrder(order)
				continue
			}

			if trade != nil {
				order.RecordFill(trade.Price, trade.Quantity, bar.Timestamp)
				ledger.ApplyFill(trade)
				result.Trades = append(result.Trades, trade)
				e.recorder.RecordTrade(trade)
				e.recorder.RecordOrder(order)
				if e.risk != nil && e.risk.Protective() {
					if err := e.refreshProtection(book, ledger, result, bar.Timestamp); err != nil {
						return e.fail(result, err)
					}
				}
			}

			if order.TimeInForce == domain.TimeInForceIOC && !order.Status.Terminal() {
				if err := book.Cancel(order.ID, bar.Timestamp, "ioc_unfilled"); err != nil {
					return e.fail(result, err)
				}
				e.recorder.RecordOrder(order)
			}
		}

		ledger.MarkToMarket(bar.InstrumentID, bar.Close)
		snapshot := ledger.Snapshot(bar.Timestamp)
		result.Snapshots = append(result.Snapshots, snapshot)
		e.recorder.RecordSnapshot(snapshot)

		prevBar = bar
		barCount++
	}

	if barCount == 0 {
		return e.fail(result, &ConfigurationError{Reason: fmt.Sprintf(
			"数据源在 [%s, %s] 区间内没有 %s 的K线",
			e.cfg.StartDate.Format("2006-01-02"), e.cfg.EndDate.Format("2006-01-02"), e.cfg.Instrument)})
	}

	if e.cfg.CloseAtEnd {
		if err := e.forceClose(ledger, fillModel, result, prevBar.Close, prevBar.Timestamp, "close_at_end"); err != nil {
			return e.fail(result, err)
		}
		ledger.MarkToMarket(prevBar.InstrumentID, prevBar.Close)
		snapshot := ledger.Snapshot(prevBar.Timestamp)
		result.Snapshots[len(result.Snapshots)-1] = snapshot
		e.recorder.RecordSnapshot(snapshot)
	}

	for _, order := range book.All() {
		if order.Status.Terminal() {
			continue
		}
		if err := book.Cancel(order.ID, prevBar.Timestamp, "session_end"); err != nil {
			return e.fail(result, err)
		}
		e.recorder.RecordOrder(order)
	}

	metrics := ComputeMetrics(result.Snapshots, result.Trades, e.cfg.InitialCash, e.cfg.Timeframe, e.metricsCfg)
	metrics.SessionID = session.ID
	result.Metrics = metrics
	e.recorder.RecordMetrics(metrics)

	session.Status = domain.SessionStatusCompleted
	session.CompletedAt = time.Now().UTC()
	e.recorder.RecordSession(session)

	e.logger.Info("回测完成",
		zap.String("session_id", session.ID),
		zap.String("strategy", session.StrategyName),
		zap.Int("bars", barCount),
		zap.Int("trades", len(result.Trades)),
		zap.Float64("final_equity", metrics.FinalEquity),
		zap.Float64("total_return", metrics.TotalReturn))

	return result, nil
}

// fail 将会话置为失败态并返回错误，已累计的产物保留在结果中。
func (e *Engine) fail(result *Result, err error) (*Result, error) {
	result.Session.Status = domain.SessionStatusFailed
	result.Session.FailReason = err.Error()
	result.Session.CompletedAt = time.Now().UTC()
	e.recorder.RecordSession(result.Session)

	e.logger.Error("回测失败",
		zap.String("session_id", result.Session.ID),
		zap.String("strategy", result.Session.StrategyName),
		zap.Error(err))

	return result, err
}

// orderFromSignal 校验信号并转为订单。数量为零时使用会话配置
// 的默认下单数量；限价与止损价对齐到最小变动价位。
func (e *Engine) orderFromSignal(sessionID string, signal domain.Signal, bar domain.Bar) (*domain.Order, error) {
	name := e.strategy.Name()

	if signal.Side != domain.OrderSideBuy && signal.Side != domain.OrderSideSell {
		return nil, &StrategyError{Strategy: name, Err: fmt.Errorf("信号方向非法 %q", signal.Side)}
	}
	if signal.Quantity < 0 {
		return nil, &StrategyError{Strategy: name, Err: fmt.Errorf("信号数量不能为负: %f", signal.Quantity)}
	}

	orderType := signal.OrderType
	if orderType == "" {
		orderType = domain.OrderTypeMarket
	}
	switch orderType {
	case domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypeStop:
	default:
		return nil, &StrategyError{Strategy: name, Err: fmt.Errorf("订单类型非法 %q", orderType)}
	}
	if orderType != domain.OrderTypeMarket && signal.Price <= 0 {
		return nil, &StrategyError{Strategy: name, Err: fmt.Errorf("%s 信号必须携带正价格", orderType)}
	}

	quantity := signal.Quantity
	if quantity == 0 {
		quantity = e.cfg.OrderQuantity
	}
	quantity = e.instrument.RoundQuantity(quantity)
	if quantity <= 0 {
		e.logger.Debug("信号数量对齐后为零，忽略",
			zap.String("strategy", name),
			zap.String("reason", signal.Reason))
		return nil, nil
	}

	instrumentID := signal.InstrumentID
	if instrumentID == "" {
		instrumentID = e.cfg.Instrument
	}

	order := domain.NewOrder(sessionID, instrumentID, orderType, signal.Side, quantity, bar.Timestamp)
	order.Reason = signal.Reason
	if tif := domain.TimeInForce(e.cfg.TimeInForce); tif != "" {
		order.TimeInForce = tif
	}
	switch orderType {
	case domain.OrderTypeLimit:
		order.LimitPrice = e.instrument.RoundPrice(signal.Price)
	case domain.OrderTypeStop:
		order.StopPrice = e.instrument.RoundPrice(signal.Price)
	}
	return order, nil
}

// refreshProtection 重建保护性订单：先撤销仍在挂的旧订单，
// 再按当前持仓重新挂出，持仓归零后只撤不挂。
func (e *Engine) refreshProtection(book *OrderBook, ledger *Ledger, result *Result, ts time.Time) error {
	for _, id := range e.protective {
		existing, ok := book.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		if existing.Status.Terminal() {
			continue
		}
		if err := book.Cancel(id, ts, "protection_replaced"); err != nil {
			return err
		}
		e.recorder.RecordOrder(existing)
	}
	e.protective = e.protective[:0]

	position := ledger.Position(e.cfg.Instrument)
	for _, order := range e.risk.ProtectiveOrders(ledger.sessionID, position, ts) {
		if err := book.Submit(order, ts); err != nil {
			return err
		}
		result.Orders = append(result.Orders, order)
		e.recorder.RecordOrder(order)
		e.protective = append(e.protective, order.ID)
	}
	return nil
}

// increasesExposure 判断订单是否扩大持仓规模（开仓或顺向加仓）。
func increasesExposure(position domain.Position, order *domain.Order) bool {
	if position.Flat() {
		return true
	}
	return position.Quantity*order.Side.Sign() > 0
}

// forceClose 以给定基准价强制平掉当前持仓，用于收尾平仓与跨日平仓。
func (e *Engine) forceClose(ledger *Ledger, fillModel *FillModel, result *Result, basePrice float64, ts time.Time, reason string) error {
	position := ledger.Position(e.cfg.Instrument)
	if position.Flat() {
		return nil
	}

	side := domain.OrderSideSell
	if position.Quantity < 0 {
		side = domain.OrderSideBuy
	}

	order, trade, err := fillModel.SyntheticFill(ledger.sessionID, e.cfg.Instrument, side,
		math.Abs(position.Quantity), basePrice, ts, reason)
	if err != nil {
		return err
	}

	ledger.ApplyFill(trade)
	result.Orders = append(result.Orders, order)
	result.Trades = append(result.Trades, trade)
	e.recorder.RecordOrder(order)
	e.recorder.RecordTrade(trade)

	e.logger.Debug("强制平仓",
		zap.String("session_id", ledger.sessionID),
		zap.String("reason", reason),
		zap.Float64("quantity", trade.Quantity),
		zap.Float64("price", trade.Price))
	return nil
}
