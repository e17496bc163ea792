package backtest

import (
	"math"
	"time"

	"simtrader/internal/domain"
)

// Ledger 维护单个会话的现金、持仓与损益。
// 采用平均成本法：成交使持仓规模缩小时确认已实现盈亏；
// 方向反转拆成先平后开两条腿。现金允许为负（保证金仅记录
// 不强制），除非会话开启 enforce_cash 策略钩子。
type Ledger struct {
	sessionID   string
	initialCash float64
	cash        float64
	positions   map[string]*domain.Position
	realized    float64
}

// NewLedger 创建账本。
func NewLedger(sessionID string, initialCash float64) *Ledger {
	return &Ledger{
		sessionID:   sessionID,
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*domain.Position),
	}
}

// Cash 返回当前现金。
func (l *Ledger) Cash() float64 {
	return l.cash
}

// Position 返回指定标的的持仓副本，空仓返回零值。
func (l *Ledger) Position(instrumentID string) domain.Position {
	if p, ok := l.positions[instrumentID]; ok {
		return *p
	}
	return domain.Position{InstrumentID: instrumentID}
}

// CashAfter 预演一笔成交后的现金余额，供 enforce_cash 钩子使用。
func (l *Ledger) CashAfter(trade *domain.Trade) float64 {
	return l.cash - trade.SignedQuantity()*trade.Price - trade.Commission
}

// ApplyFill 将一笔成交入账。
// 买入：现金减少 成交额+手续费；卖出对称增加。
// 手续费计入已实现盈亏。
func (l *Ledger) ApplyFill(trade *domain.Trade) {
	position, ok := l.positions[trade.Instrument]
	if !ok {
		position = &domain.Position{InstrumentID: trade.Instrument}
		l.positions[trade.Instrument] = position
	}

	signedQty := trade.SignedQuantity()
	l.cash -= signedQty*trade.Price + trade.Commission

	oldQty := position.Quantity
	newQty := oldQty + signedQty

	switch {
	case oldQty == 0:
		// 新开仓。
		position.AvgEntryPrice = trade.Price

	case sameSign(oldQty, newQty) && math.Abs(newQty) > math.Abs(oldQty):
		// 加仓：重新计算平均成本。
		position.AvgEntryPrice = (oldQty*position.AvgEntryPrice + signedQty*trade.Price) / newQty

	case sameSign(oldQty, newQty) || newQty == 0:
		// 减仓或平仓：按平均成本确认已实现盈亏。
		closedQty := math.Abs(signedQty)
		pnl := closedQty * (trade.Price - position.AvgEntryPrice) * direction(oldQty)
		position.RealizedPnL += pnl
		l.realized += pnl
		if newQty == 0 {
			position.AvgEntryPrice = 0
		}

	default:
		// 反转：先平掉原有头寸，再以剩余数量反向开仓。
		closedQty := math.Abs(oldQty)
		pnl := closedQty * (trade.Price - position.AvgEntryPrice) * direction(oldQty)
		position.RealizedPnL += pnl
		l.realized += pnl
		position.AvgEntryPrice = trade.Price
	}

	position.RealizedPnL -= trade.Commission
	l.realized -= trade.Commission

	position.Quantity = newQty
	position.MarkPrice = trade.Price
	position.UnrealizedPnL = position.Quantity * (position.MarkPrice - position.AvgEntryPrice)
}

// MarkToMarket 按最新价格重估持仓的未实现盈亏。
func (l *Ledger) MarkToMarket(instrumentID string, price float64) {
	position, ok := l.positions[instrumentID]
	if !ok || position.Flat() {
		return
	}
	position.MarkPrice = price
	position.UnrealizedPnL = position.Quantity * (price - position.AvgEntryPrice)
}

// Equity 返回现金加持仓市值。
func (l *Ledger) Equity() float64 {
	equity := l.cash
	for _, position := range l.positions {
		equity += position.MarketValue()
	}
	return equity
}

// Snapshot 生成当前时点的账户快照。
func (l *Ledger) Snapshot(ts time.Time) domain.PortfolioSnapshot {
	var positionValue, marginUsed, unrealized float64
	for _, position := range l.positions {
		positionValue += position.MarketValue()
		marginUsed += math.Abs(position.MarketValue())
		unrealized += position.UnrealizedPnL
	}

	equity := l.cash + positionValue

	return domain.PortfolioSnapshot{
		SessionID:       l.sessionID,
		Timestamp:       ts,
		Cash:            l.cash,
		Equity:          equity,
		PositionValue:   positionValue,
		MarginUsed:      marginUsed,
		MarginAvailable: equity - marginUsed,
		UnrealizedPnL:   unrealized,
		RealizedPnL:     l.realized,
	}
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func direction(quantity float64) float64 {
	if quantity < 0 {
		return -1
	}
	return 1
}
