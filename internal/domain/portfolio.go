package domain

import "time"

// Position 表示某会话内单一标的的持仓。数量带符号，多头为正。
type Position struct {
	InstrumentID  string
	Quantity      float64
	AvgEntryPrice float64
	MarkPrice     float64
	UnrealizedPnL float64
	RealizedPnL   float64
}

// MarketValue 返回按标记价格计算的持仓市值。
func (p Position) MarketValue() float64 {
	return p.Quantity * p.MarkPrice
}

// Flat 判断是否为空仓。
func (p Position) Flat() bool {
	return p.Quantity == 0
}

// PortfolioSnapshot 为每根K线处理完成后的账户快照，只追加不修改。
type PortfolioSnapshot struct {
	SessionID       string
	Timestamp       time.Time
	Cash            float64
	Equity          float64
	PositionValue   float64
	MarginUsed      float64
	MarginAvailable float64
	UnrealizedPnL   float64
	RealizedPnL     float64
}
