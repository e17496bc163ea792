package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderSide 表示订单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Sign 返回方向符号：买入为+1，卖出为-1。
func (s OrderSide) Sign() float64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// OrderType 表示订单类型。
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// TimeInForce 控制订单的有效期。
type TimeInForce string

const (
	// TimeInForceGTC 订单在成交或撤销前一直有效。
	TimeInForceGTC TimeInForce = "gtc"
	// TimeInForceDay 订单在提交当日收盘后失效。
	TimeInForceDay TimeInForce = "day"
	// TimeInForceIOC 订单仅参与首次撮合，未成交部分立即撤销。
	TimeInForceIOC TimeInForce = "ioc"
)

// OrderStatus 表示订单状态。
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusWorking         OrderStatus = "working"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal 判断状态是否为终态，终态订单不再参与撮合。
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Order 代表一张模拟订单。由模拟循环根据信号创建，
// 仅由撮合模型与撤单逻辑修改状态。
type Order struct {
	ID           string
	SessionID    string
	InstrumentID string
	CreatedAt    time.Time
	Type         OrderType
	Side         OrderSide
	Quantity     float64
	LimitPrice   float64
	StopPrice    float64
	TimeInForce  TimeInForce
	Status       OrderStatus
	FilledQty    float64
	AvgFillPrice float64
	SubmittedAt  time.Time
	ExecutedAt   time.Time
	CancelledAt  time.Time
	CancelReason string
	Reason       string

	// Triggered 表示止损单已被触发，下一根K线按市价撮合。
	Triggered bool
}

// NewOrder 创建一张待提交订单。
func NewOrder(sessionID, instrumentID string, typ OrderType, side OrderSide, quantity float64, ts time.Time) *Order {
	return &Order{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		InstrumentID: instrumentID,
		CreatedAt:    ts,
		Type:         typ,
		Side:         side,
		Quantity:     quantity,
		TimeInForce:  TimeInForceGTC,
		Status:       OrderStatusPending,
	}
}

// Remaining 返回未成交数量。
func (o *Order) Remaining() float64 {
	return o.Quantity - o.FilledQty
}

// RecordFill 将一笔成交累计到订单上，并推进订单状态。
func (o *Order) RecordFill(price, quantity float64, ts time.Time) {
	notional := o.AvgFillPrice*o.FilledQty + price*quantity
	o.FilledQty += quantity
	if o.FilledQty > 0 {
		o.AvgFillPrice = notional / o.FilledQty
	}
	o.ExecutedAt = ts
	if o.Remaining() <= 0 {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
}

// Trade 代表一笔成交记录，创建后不可变。一张订单可对应多笔部分成交。
type Trade struct {
	ID         string
	OrderID    string
	SessionID  string
	Instrument string
	Timestamp  time.Time
	Side       OrderSide
	Price      float64
	Quantity   float64
	Commission float64
	Slippage   float64
}

// SignedQuantity 返回带方向符号的成交数量。
func (t Trade) SignedQuantity() float64 {
	return t.Side.Sign() * t.Quantity
}

// Signal 为策略产生的交易意图。
type Signal struct {
	InstrumentID string
	Side         OrderSide
	Quantity     float64
	OrderType    OrderType
	Price        float64
	Reason       string
}
