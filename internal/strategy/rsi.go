package strategy

import (
	"context"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"simtrader/internal/domain"
	"simtrader/internal/indicator"
)

// RSI 为相对强弱指标策略：超卖买入，超买平仓。
type RSI struct {
	period     int
	overbought float64
	oversold   float64
	series     *indicator.Series
}

// NewRSI 创建 RSI 策略。
func NewRSI() *RSI {
	return &RSI{}
}

// Name 实现 Strategy。
func (s *RSI) Name() string {
	return "rsi"
}

// Initialize 实现 Strategy。
func (s *RSI) Initialize(params map[string]any) error {
	s.period = intParam(params, "rsi_period", 14)
	s.overbought = floatParam(params, "overbought_level", 70)
	s.oversold = floatParam(params, "oversold_level", 30)
	if s.period <= 1 {
		return fmt.Errorf("strategy: rsi_period 必须大于1")
	}
	if s.oversold >= s.overbought {
		return fmt.Errorf("strategy: oversold_level(%.1f) 必须小于 overbought_level(%.1f)", s.oversold, s.overbought)
	}
	s.series = indicator.NewSeries(s.period * 8)
	return nil
}

// OnBar 实现 Strategy。
func (s *RSI) OnBar(_ context.Context, bar domain.Bar, state State) ([]domain.Signal, error) {
	if s.series == nil {
		return nil, fmt.Errorf("strategy: rsi 未初始化")
	}

	s.series.Append(bar)
	if s.series.Len() <= s.period {
		return nil, nil
	}

	value := indicator.Last(talib.Rsi(s.series.Close, s.period))
	if math.IsNaN(value) {
		return nil, nil
	}

	switch {
	case value < s.oversold && state.Position.Quantity <= 0:
		return []domain.Signal{{
			InstrumentID: bar.InstrumentID,
			Side:         domain.OrderSideBuy,
			OrderType:    domain.OrderTypeMarket,
			Reason:       "rsi_oversold",
		}}, nil
	case value > s.overbought && state.Position.Quantity > 0:
		return []domain.Signal{{
			InstrumentID: bar.InstrumentID,
			Side:         domain.OrderSideSell,
			Quantity:     state.Position.Quantity,
			OrderType:    domain.OrderTypeMarket,
			Reason:       "rsi_overbought",
		}}, nil
	default:
		return nil, nil
	}
}
