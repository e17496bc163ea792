package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus 表示回测会话状态。
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// Session 描述一次回测会话。状态由模拟循环独占推进，
// 外部只读，不允许直接修改。
type Session struct {
	ID           string
	StrategyName string
	Parameters   map[string]any
	InstrumentID string
	Timeframe    string
	StartDate    time.Time
	EndDate      time.Time
	InitialCash  float64
	Status       SessionStatus
	FailReason   string
	CreatedAt    time.Time
	CompletedAt  time.Time
}

// NewSession 创建一个处于 running 状态的会话。
func NewSession(strategyName, instrumentID, timeframe string, start, end time.Time, initialCash float64, params map[string]any) *Session {
	return &Session{
		ID:           uuid.NewString(),
		StrategyName: strategyName,
		Parameters:   params,
		InstrumentID: instrumentID,
		Timeframe:    timeframe,
		StartDate:    start,
		EndDate:      end,
		InitialCash:  initialCash,
		Status:       SessionStatusRunning,
		CreatedAt:    time.Now().UTC(),
	}
}

// PerformanceMetrics 为会话完成后一次性计算的绩效指标。
// 分母为零的指标使用 +Inf 哨兵值而不是报错。
type PerformanceMetrics struct {
	SessionID        string
	TotalReturn      float64
	AnnualizedReturn float64
	SharpeRatio      float64
	SortinoRatio     float64
	Volatility       float64
	MaxDrawdown      float64
	DrawdownBars     int
	WinRate          float64
	ProfitFactor     float64
	AvgWinLossRatio  float64
	AvgHoldingBars   float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	FinalEquity      float64
}
