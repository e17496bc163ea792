package strategy

import (
	"context"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"simtrader/internal/domain"
	"simtrader/internal/indicator"
)

// Bollinger 为布林带均值回归策略：跌破下轨买入，突破上轨平仓。
type Bollinger struct {
	window int
	numStd float64
	series *indicator.Series
}

// NewBollinger 创建布林带策略。
func NewBollinger() *Bollinger {
	return &Bollinger{}
}

// Name 实现 Strategy。
func (s *Bollinger) Name() string {
	return "bollinger"
}

// Initialize 实现 Strategy。
func (s *Bollinger) Initialize(params map[string]any) error {
	s.window = intParam(params, "window", 20)
	s.numStd = floatParam(params, "num_std", 2)
	if s.window <= 1 {
		return fmt.Errorf("strategy: window 必须大于1")
	}
	if s.numStd <= 0 {
		return fmt.Errorf("strategy: num_std 必须大于0")
	}
	s.series = indicator.NewSeries(s.window * 4)
	return nil
}

// OnBar 实现 Strategy。
func (s *Bollinger) OnBar(_ context.Context, bar domain.Bar, state State) ([]domain.Signal, error) {
	if s.series == nil {
		return nil, fmt.Errorf("strategy: bollinger 未初始化")
	}

	s.series.Append(bar)
	if s.series.Len() < s.window {
		return nil, nil
	}

	upper, _, lower := talib.BBands(s.series.Close, s.window, s.numStd, s.numStd, talib.SMA)
	u, l := indicator.Last(upper), indicator.Last(lower)
	if math.IsNaN(u) || math.IsNaN(l) {
		return nil, nil
	}

	switch {
	case bar.Close < l && state.Position.Quantity <= 0:
		return []domain.Signal{{
			InstrumentID: bar.InstrumentID,
			Side:         domain.OrderSideBuy,
			OrderType:    domain.OrderTypeMarket,
			Reason:       "bollinger_lower_break",
		}}, nil
	case bar.Close > u && state.Position.Quantity > 0:
		return []domain.Signal{{
			InstrumentID: bar.InstrumentID,
			Side:         domain.OrderSideSell,
			Quantity:     state.Position.Quantity,
			OrderType:    domain.OrderTypeMarket,
			Reason:       "bollinger_upper_break",
		}}, nil
	default:
		return nil, nil
	}
}
