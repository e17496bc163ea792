package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"simtrader/internal/catalog"
	"simtrader/internal/config"
	"simtrader/internal/domain"
)

// FillModel 负责将订单与K线撮合成成交。
//
// 撮合规则（已固化并在测试中覆盖）：
//   - 市价单在当根K线以开盘价加滑点全额成交；
//   - 限价单按方向判断触及：买单要求K线最低价不高于限价，卖单要求
//     最高价不低于限价；成交价为限价，跳空穿越时取开盘价（更优一侧）；
//   - 止损单在触及止损价的那根K线触发（买单看最高价，卖单看最低价），
//     下一根K线按市价以开盘价成交（next-bar 策略，避免前视偏差）；
//   - 滑点始终对交易者不利：买单加价，卖单减价；
//   - 仅在开启流动性约束（单根K线最大成交量比例）时产生部分成交，
//     否则全有或全无。
type FillModel struct {
	commission config.CommissionConfig
	slippage   config.SlippageConfig
	liquidity  config.LiquidityConfig
	instrument catalog.Instrument
}

// NewFillModel 创建撮合模型。
func NewFillModel(commission config.CommissionConfig, slippage config.SlippageConfig, liquidity config.LiquidityConfig, instrument catalog.Instrument) *FillModel {
	return &FillModel{
		commission: commission,
		slippage:   slippage,
		liquidity:  liquidity,
		instrument: instrument,
	}
}

// AttemptFill 尝试将订单与K线撮合，返回 nil 表示本根K线未成交。
// 未成交订单保持 working 状态，等待下一根K线。
func (m *FillModel) AttemptFill(order *domain.Order, bar domain.Bar) (*domain.Trade, error) {
	trade, err := m.PlanFill(order, bar)
	if err != nil || trade == nil {
		return trade, err
	}
	order.RecordFill(trade.Price, trade.Quantity, bar.Timestamp)
	return trade, nil
}

// PlanFill 计算订单在本根K线的撮合结果但不改写订单的成交状态，
// 供引擎在入账前执行现金检查等前置策略。止损单的触发标记仍会更新。
func (m *FillModel) PlanFill(order *domain.Order, bar domain.Bar) (*domain.Trade, error) {
	if order.Status.Terminal() {
		return nil, nil
	}

	var basePrice float64
	applySlip := false

	switch order.Type {
	case domain.OrderTypeMarket:
		basePrice = bar.Open
		applySlip = true

	case domain.OrderTypeLimit:
		if !limitTouched(order.Side, bar, order.LimitPrice) {
			return nil, nil
		}
		basePrice = marketableLimitPrice(order.Side, bar.Open, order.LimitPrice)

	case domain.OrderTypeStop:
		if !order.Triggered {
			if stopTouched(order.Side, bar, order.StopPrice) {
				order.Triggered = true
			}
			return nil, nil
		}
		basePrice = bar.Open
		applySlip = true

	default:
		return nil, &FillModelError{OrderID: order.ID, Reason: fmt.Sprintf("不支持的订单类型 %s", order.Type)}
	}

	fillPrice := basePrice
	if applySlip {
		fillPrice = m.applySlippage(basePrice, order.Side)
	}
	if fillPrice <= 0 {
		return nil, &FillModelError{OrderID: order.ID, Reason: fmt.Sprintf("计算成交价非法: %.6f", fillPrice)}
	}

	quantity := order.Remaining()
	if m.liquidity.Enabled {
		maxQty := m.instrument.RoundQuantity(bar.Volume * m.liquidity.MaxVolumePercent)
		if maxQty <= 0 {
			return nil, nil
		}
		quantity = math.Min(quantity, maxQty)
	}
	if quantity <= 0 {
		return nil, nil
	}

	commission := m.Commission(quantity, fillPrice)
	slippageCost := math.Abs(fillPrice-basePrice) * quantity

	trade := &domain.Trade{
		ID:         uuid.NewString(),
		OrderID:    order.ID,
		SessionID:  order.SessionID,
		Instrument: order.InstrumentID,
		Timestamp:  bar.Timestamp,
		Side:       order.Side,
		Price:      fillPrice,
		Quantity:   quantity,
		Commission: commission,
		Slippage:   slippageCost,
	}

	return trade, nil
}

// limitTouched 判断K线是否触及限价：买单看最低价，卖单看最高价，
// 从而覆盖整根K线跳空穿越限价的情况。
func limitTouched(side domain.OrderSide, bar domain.Bar, limit float64) bool {
	if side == domain.OrderSideBuy {
		return bar.Low <= limit
	}
	return bar.High >= limit
}

// stopTouched 判断K线是否触及止损价：买入止损看最高价，卖出止损看最低价。
func stopTouched(side domain.OrderSide, bar domain.Bar, stop float64) bool {
	if side == domain.OrderSideBuy {
		return bar.High >= stop
	}
	return bar.Low <= stop
}

// marketableLimitPrice 返回限价单的成交基准价。常规触及按限价成交；
// 开盘即优于限价（跳空）时按开盘价成交，不会出现劣于K线区间的价格。
func marketableLimitPrice(side domain.OrderSide, open, limit float64) float64 {
	if side == domain.OrderSideBuy {
		return math.Min(limit, open)
	}
	return math.Max(limit, open)
}

// applySlippage 对基准价施加滑点，方向始终不利于交易者。
func (m *FillModel) applySlippage(price float64, side domain.OrderSide) float64 {
	sign := side.Sign()
	switch m.slippage.Type {
	case "bps":
		return price * (1 + sign*m.slippage.Value/10000)
	case "fixed":
		return price + sign*m.slippage.Value
	default:
		return price
	}
}

// Commission 按配置的手续费模型计算费用。
func (m *FillModel) Commission(quantity, price float64) float64 {
	var fee float64
	switch m.commission.Type {
	case "per_share":
		fee = quantity * m.commission.Rate
	case "percentage":
		fee = quantity * price * m.commission.Rate
	case "flat":
		fee = m.commission.Rate
	}
	if fee < m.commission.Minimum {
		fee = m.commission.Minimum
	}
	return fee
}

// SyntheticFill 在会话收尾强制平仓时构造一笔按给定基准价
// 成交的市价单与对应成交，复用滑点与手续费模型。
func (m *FillModel) SyntheticFill(sessionID, instrumentID string, side domain.OrderSide, quantity, basePrice float64, ts time.Time, reason string) (*domain.Order, *domain.Trade, error) {
	order := domain.NewOrder(sessionID, instrumentID, domain.OrderTypeMarket, side, quantity, ts)
	order.Status = domain.OrderStatusWorking
	order.SubmittedAt = ts
	order.Reason = reason

	fillPrice := m.applySlippage(basePrice, side)
	if fillPrice <= 0 {
		return nil, nil, &FillModelError{OrderID: order.ID, Reason: fmt.Sprintf("计算成交价非法: %.6f", fillPrice)}
	}

	trade := &domain.Trade{
		ID:         uuid.NewString(),
		OrderID:    order.ID,
		SessionID:  sessionID,
		Instrument: instrumentID,
		Timestamp:  ts,
		Side:       side,
		Price:      fillPrice,
		Quantity:   quantity,
		Commission: m.Commission(quantity, fillPrice),
		Slippage:   math.Abs(fillPrice-basePrice) * quantity,
	}

	order.RecordFill(fillPrice, quantity, ts)

	return order, trade, nil
}
