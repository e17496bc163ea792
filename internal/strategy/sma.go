package strategy

import (
	"context"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"simtrader/internal/domain"
	"simtrader/internal/indicator"
)

// SMACross 为双均线交叉策略：短均线上穿做多，下穿平仓。
type SMACross struct {
	shortWindow int
	longWindow  int
	series      *indicator.Series
}

// NewSMACross 创建均线交叉策略。
func NewSMACross() *SMACross {
	return &SMACross{}
}

// Name 实现 Strategy。
func (s *SMACross) Name() string {
	return "sma_cross"
}

// Initialize 实现 Strategy。
func (s *SMACross) Initialize(params map[string]any) error {
	s.shortWindow = intParam(params, "short_window", 10)
	s.longWindow = intParam(params, "long_window", 50)
	if s.shortWindow <= 0 || s.longWindow <= 0 {
		return fmt.Errorf("strategy: 均线窗口必须大于0")
	}
	if s.shortWindow >= s.longWindow {
		return fmt.Errorf("strategy: short_window(%d) 必须小于 long_window(%d)", s.shortWindow, s.longWindow)
	}
	s.series = indicator.NewSeries(s.longWindow * 4)
	return nil
}

// OnBar 实现 Strategy。
func (s *SMACross) OnBar(_ context.Context, bar domain.Bar, state State) ([]domain.Signal, error) {
	if s.series == nil {
		return nil, fmt.Errorf("strategy: sma_cross 未初始化")
	}

	s.series.Append(bar)
	if s.series.Len() <= s.longWindow {
		return nil, nil
	}

	shortMA := talib.Sma(s.series.Close, s.shortWindow)
	longMA := talib.Sma(s.series.Close, s.longWindow)

	currShort, currLong := indicator.Last(shortMA), indicator.Last(longMA)
	prevShort, prevLong := indicator.Prev(shortMA), indicator.Prev(longMA)
	if math.IsNaN(currShort) || math.IsNaN(currLong) || math.IsNaN(prevShort) || math.IsNaN(prevLong) {
		return nil, nil
	}

	crossedUp := prevShort <= prevLong && currShort > currLong
	crossedDown := prevShort >= prevLong && currShort < currLong

	switch {
	case crossedUp && state.Position.Quantity <= 0:
		return []domain.Signal{{
			InstrumentID: bar.InstrumentID,
			Side:         domain.OrderSideBuy,
			OrderType:    domain.OrderTypeMarket,
			Reason:       "sma_cross_up",
		}}, nil
	case crossedDown && state.Position.Quantity > 0:
		return []domain.Signal{{
			InstrumentID: bar.InstrumentID,
			Side:         domain.OrderSideSell,
			Quantity:     state.Position.Quantity,
			OrderType:    domain.OrderTypeMarket,
			Reason:       "sma_cross_down",
		}}, nil
	default:
		return nil, nil
	}
}
