package backtest

import (
	"fmt"
	"time"

	"simtrader/internal/domain"
)

// OrderBook 维护单个会话内的订单生命周期。
// 订单按提交顺序参与撮合，终态订单保留用于审计。
type OrderBook struct {
	orders   map[string]*domain.Order
	sequence []string
}

// NewOrderBook 创建空订单簿。
func NewOrderBook() *OrderBook {
	return &OrderBook{
		orders: make(map[string]*domain.Order),
	}
}

// Submit 接收订单并转入 working 状态。
func (b *OrderBook) Submit(order *domain.Order, ts time.Time) error {
	if order == nil {
		return fmt.Errorf("backtest: 订单不能为空")
	}
	if _, ok := b.orders[order.ID]; ok {
		return fmt.Errorf("backtest: 订单 %s 重复提交", order.ID)
	}
	order.Status = domain.OrderStatusWorking
	order.SubmittedAt = ts
	b.orders[order.ID] = order
	b.sequence = append(b.sequence, order.ID)
	return nil
}

// Cancel 撤销订单。对终态订单的撤销是空操作，
// 返回 ErrAlreadyTerminal 而非静默忽略。
func (b *OrderBook) Cancel(orderID string, ts time.Time, reason string) error {
	order, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if order.Status.Terminal() {
		return fmt.Errorf("%w: %s (status=%s)", ErrAlreadyTerminal, orderID, order.Status)
	}
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = ts
	order.CancelReason = reason
	return nil
}

// Get 按ID查找订单。
func (b *OrderBook) Get(orderID string) (*domain.Order, bool) {
	order, ok := b.orders[orderID]
	return order, ok
}

// PendingFor 返回指定标的所有未终态订单，按提交顺序排列。
func (b *OrderBook) PendingFor(instrumentID string) []*domain.Order {
	var pending []*domain.Order
	for _, id := range b.sequence {
		order := b.orders[id]
		if order.InstrumentID != instrumentID || order.Status.Terminal() {
			continue
		}
		pending = append(pending, order)
	}
	return pending
}

// All 返回全部订单，按提交顺序排列。
func (b *OrderBook) All() []*domain.Order {
	orders := make([]*domain.Order, 0, len(b.sequence))
	for _, id := range b.sequence {
		orders = append(orders, b.orders[id])
	}
	return orders
}

// ExpireTIF 在撮合前执行有效期清理，返回本根K线过期的订单。
// day 订单在提交日之后的首根K线过期。
func (b *OrderBook) ExpireTIF(bar domain.Bar) []*domain.Order {
	var expired []*domain.Order
	for _, id := range b.sequence {
		order := b.orders[id]
		if order.Status.Terminal() || order.TimeInForce != domain.TimeInForceDay {
			continue
		}
		if domain.SameDay(order.SubmittedAt, bar.Timestamp) {
			continue
		}
		order.Status = domain.OrderStatusCancelled
		order.CancelledAt = bar.Timestamp
		order.CancelReason = "tif_day_expired"
		expired = append(expired, order)
	}
	return expired
}
