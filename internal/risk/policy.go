// Package risk 在信号转为订单前执行会话级风控。
package risk

import (
	"math"
	"time"

	"go.uber.org/zap"

	"simtrader/internal/catalog"
	"simtrader/internal/config"
	"simtrader/internal/domain"
)

// Policy 约束单个回测会话的风险暴露：
//   - 最大敞口：加仓数量不得使持仓市值超过净值的 max_exposure 比例；
//   - 当日亏损熔断：权益自当日起点回撤达到 max_daily_loss 后停止开仓，
//     跨入新交易日自动解除；
//   - 保护性订单：按持仓均价挂出止损（止损单）与止盈（限价单）。
//
// Policy 只读配置，状态仅由单个引擎循环串行访问。
type Policy struct {
	cfg        config.RiskConfig
	instrument catalog.Instrument
	logger     *zap.Logger

	tradingDate string
	startEquity float64
	halted      bool
}

// NewPolicy 创建风控策略。
func NewPolicy(cfg config.RiskConfig, instrument catalog.Instrument, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		cfg:        cfg,
		instrument: instrument,
		logger:     logger,
	}
}

// Protective 返回是否配置了保护性止损/止盈。
func (p *Policy) Protective() bool {
	return p.cfg.StopLossPct > 0 || p.cfg.TakeProfitPct > 0
}

// UpdateDaily 在每根K线开始时刷新当日风控状态，返回是否处于熔断。
// 跨入新交易日时以当前权益为起点重置。
func (p *Policy) UpdateDaily(ts time.Time, equity float64) bool {
	date := ts.UTC().Format("2006-01-02")
	if date != p.tradingDate {
		p.tradingDate = date
		p.startEquity = equity
		p.halted = false
	}

	if p.halted || p.cfg.MaxDailyLoss <= 0 || p.startEquity <= 0 {
		return p.halted
	}

	loss := (p.startEquity - equity) / p.startEquity
	if loss >= p.cfg.MaxDailyLoss {
		p.halted = true
		p.logger.Warn("当日亏损达到上限，停止开仓",
			zap.String("trading_date", p.tradingDate),
			zap.Float64("start_equity", p.startEquity),
			zap.Float64("equity", equity),
			zap.Float64("loss", loss))
	}
	return p.halted
}

// CapQuantity 按最大敞口约束加仓数量。refPrice 为估值基准价。
// 返回 0 表示敞口已满，调用方应放弃该订单。
func (p *Policy) CapQuantity(requested, currentQty, equity, refPrice float64) float64 {
	if p.cfg.MaxExposure <= 0 || equity <= 0 || refPrice <= 0 {
		return requested
	}

	headroom := equity*p.cfg.MaxExposure - math.Abs(currentQty)*refPrice
	if headroom <= 0 {
		return 0
	}

	allowed := p.instrument.RoundQuantity(headroom / refPrice)
	if allowed >= requested {
		return requested
	}

	p.logger.Debug("加仓数量被敞口限制收缩",
		zap.Float64("requested", requested),
		zap.Float64("allowed", allowed),
		zap.Float64("max_exposure", p.cfg.MaxExposure))
	return allowed
}

// ProtectiveOrders 依据持仓方向与均价生成保护性订单，空仓返回 nil。
// 多头挂均价下方的卖出止损与上方的卖出限价，空头对称。
func (p *Policy) ProtectiveOrders(sessionID string, position domain.Position, ts time.Time) []*domain.Order {
	if position.Flat() || position.AvgEntryPrice <= 0 {
		return nil
	}

	quantity := math.Abs(position.Quantity)
	exitSide := domain.OrderSideSell
	direction := 1.0
	if position.Quantity < 0 {
		exitSide = domain.OrderSideBuy
		direction = -1.0
	}

	var orders []*domain.Order
	if p.cfg.StopLossPct > 0 {
		order := domain.NewOrder(sessionID, position.InstrumentID, domain.OrderTypeStop, exitSide, quantity, ts)
		order.StopPrice = p.instrument.RoundPrice(position.AvgEntryPrice * (1 - direction*p.cfg.StopLossPct))
		order.Reason = "risk_stop_loss"
		orders = append(orders, order)
	}
	if p.cfg.TakeProfitPct > 0 {
		order := domain.NewOrder(sessionID, position.InstrumentID, domain.OrderTypeLimit, exitSide, quantity, ts)
		order.LimitPrice = p.instrument.RoundPrice(position.AvgEntryPrice * (1 + direction*p.cfg.TakeProfitPct))
		order.Reason = "risk_take_profit"
		orders = append(orders, order)
	}
	return orders
}
