package backtest

import (
	"math"
	"testing"
	"time"

	"simtrader/internal/catalog"
	"simtrader/internal/config"
	"simtrader/internal/domain"
)

var testInstrument = catalog.Instrument{Symbol: "AAPL", TickSize: 0.01, LotSize: 1, Currency: "USD"}

func makeBar(open, high, low, close, volume float64) domain.Bar {
	return domain.Bar{
		InstrumentID: "AAPL",
		Timestamp:    time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC),
		Timeframe:    "1d",
		Open:         open,
		High:         high,
		Low:          low,
		Close:        close,
		Volume:       volume,
	}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAttemptFill_MarketAppliesSlippageAndCommission(t *testing.T) {
	model := NewFillModel(
		config.CommissionConfig{Type: "flat", Rate: 1.0},
		config.SlippageConfig{Type: "bps", Value: 5},
		config.LiquidityConfig{},
		testInstrument,
	)

	bar := makeBar(50.00, 51.00, 49.50, 50.50, 10000)
	order := domain.NewOrder("s1", "AAPL", domain.OrderTypeMarket, domain.OrderSideBuy, 100, bar.Timestamp)
	order.Status = domain.OrderStatusWorking

	trade, err := model.AttemptFill(order, bar)
	if err != nil {
		t.Fatalf("AttemptFill returned error: %v", err)
	}
	if trade == nil {
		t.Fatal("expected market order to fill")
	}
	if !approxEqual(trade.Price, 50.025) {
		t.Errorf("expected fill price 50.025, got %f", trade.Price)
	}
	if !approxEqual(trade.Commission, 1.0) {
		t.Errorf("expected flat commission 1.0, got %f", trade.Commission)
	}
	if !approxEqual(trade.Slippage, 0.25) {
		t.Errorf("expected slippage cost 0.25, got %f", trade.Slippage)
	}
	if order.Status != domain.OrderStatusFilled {
		t.Errorf("expected order filled, got %s", order.Status)
	}
	if !approxEqual(order.AvgFillPrice, 50.025) {
		t.Errorf("expected avg fill price 50.025, got %f", order.AvgFillPrice)
	}
}

func TestAttemptFill_SellSlippageIsAdverse(t *testing.T) {
	model := NewFillModel(
		config.CommissionConfig{Type: "flat"},
		config.SlippageConfig{Type: "bps", Value: 5},
		config.LiquidityConfig{},
		testInstrument,
	)

	bar := makeBar(50.00, 51.00, 49.50, 50.50, 10000)
	order := domain.NewOrder("s1", "AAPL", domain.OrderTypeMarket, domain.OrderSideSell, 100, bar.Timestamp)
	order.Status = domain.OrderStatusWorking

	trade, err := model.AttemptFill(order, bar)
	if err != nil {
		t.Fatalf("AttemptFill returned error: %v", err)
	}
	if trade == nil {
		t.Fatal("expected market order to fill")
	}
	if !approxEqual(trade.Price, 49.975) {
		t.Errorf("expected sell fill price 49.975, got %f", trade.Price)
	}
}

func TestAttemptFill_FixedSlippage(t *testing.T) {
	model := NewFillModel(
		config.CommissionConfig{Type: "flat"},
		config.SlippageConfig{Type: "fixed", Value: 0.02},
		config.LiquidityConfig{},
		testInstrument,
	)

	bar := makeBar(50.00, 51.00, 49.50, 50.50, 10000)
	order := domain.NewOrder("s1", "AAPL", domain.OrderTypeMarket, domain.OrderSideBuy, 10, bar.Timestamp)
	order.Status = domain.OrderStatusWorking

	trade, err := model.AttemptFill(order, bar)
	if err != nil {
		t.Fatalf("AttemptFill returned error: %v", err)
	}
	if !approxEqual(trade.Price, 50.02) {
		t.Errorf("expected fill price 50.02, got %f", trade.Price)
	}
}

func TestAttemptFill_LimitRequiresRangeCross(t *testing.T) {
	model := NewFillModel(
		config.CommissionConfig{Type: "flat"},
		config.SlippageConfig{Type: "bps", Value: 5},
		config.LiquidityConfig{},
		testInstrument,
	)

	bar := makeBar(50.00, 51.00, 49.50, 50.50, 10000)

	below := domain.NewOrder("s1", "AAPL", domain.OrderTypeLimit, domain.OrderSideBuy, 100, bar.Timestamp)
	below.LimitPrice = 49.00
	below.Status = domain.OrderStatusWorking

	trade, err := model.AttemptFill(below, bar)
	if err != nil {
		t.Fatalf("AttemptFill returned error: %v", err)
	}
	if trade != nil {
		t.Fatal("limit below bar range must not fill")
	}
	if below.Status != domain.OrderStatusWorking {
		t.Errorf("unfilled limit order must stay working, got %s", below.Status)
	}

	inside := domain.NewOrder("s1", "AAPL", domain.OrderTypeLimit, domain.OrderSideBuy, 100, bar.Timestamp)
	inside.LimitPrice = 50.00
	inside.Status = domain.OrderStatusWorking

	trade, err = model.AttemptFill(inside, bar)
	if err != nil {
		t.Fatalf("AttemptFill returned error: %v", err)
	}
	if trade == nil {
		t.Fatal("limit inside bar range must fill")
	}
	// 限价单按限价成交，不施加滑点。
	if !approxEqual(trade.Price, 50.00) {
		t.Errorf("expected limit fill at 50.00, got %f", trade.Price)
	}
}

func TestAttemptFill_LimitGapThroughFillsAtOpen(t *testing.T) {
	model := NewFillModel(
		config.CommissionConfig{Type: "flat"},
		config.SlippageConfig{Type: "bps", Value: 5},
		config.LiquidityConfig{},
		testInstrument,
	)

	// 整根K线跳空到限价更优的一侧：买单限价52，K线区间49.50-51。
	bar := makeBar(50.00, 51.00, 49.50, 50.50, 10000)
	buy := domain.NewOrder("s1", "AAPL", domain.OrderTypeLimit, domain.OrderSideBuy, 100, bar.Timestamp)
	buy.LimitPrice = 52.00
	buy.Status = domain.OrderStatusWorking

	trade, err := model.AttemptFill(buy, bar)
	if err != nil {
		t.Fatalf("AttemptFill returned error: %v", err)
	}
	if trade == nil {
		t.Fatal("buy limit above the whole bar must fill")
	}
	if !approxEqual(trade.Price, 50.00) {
		t.Errorf("gapped limit must fill at the bar open, got %f", trade.Price)
	}

	sell := domain.NewOrder("s1", "AAPL", domain.OrderTypeLimit, domain.OrderSideSell, 100, bar.Timestamp)
	sell.LimitPrice = 48.00
	sell.Status = domain.OrderStatusWorking

	trade, err = model.AttemptFill(sell, bar)
	if err != nil {
		t.Fatalf("AttemptFill returned error: %v", err)
	}
	if trade == nil {
		t.Fatal("sell limit below the whole bar must fill")
	}
	if !approxEqual(trade.Price, 50.00) {
		t.Errorf("gapped sell limit must fill at the bar open, got %f", trade.Price)
	}
}

func TestAttemptFill_StopFillsOnNextBar(t *testing.T) {
	model := NewFillModel(
		config.CommissionConfig{Type: "flat"},
		config.SlippageConfig{Type: "bps", Value: 5},
		config.LiquidityConfig{},
		testInstrument,
	)

	trigger := makeBar(50.00, 51.00, 49.50, 49.60, 10000)
	order := domain.NewOrder("s1", "AAPL", domain.OrderTypeStop, domain.OrderSideSell, 100, trigger.Timestamp)
	order.StopPrice = 49.80
	order.Status = domain.OrderStatusWorking

	trade, err := model.AttemptFill(order, trigger)
	if err != nil {
		t.Fatalf("AttemptFill returned error: %v", err)
	}
	if trade != nil {
		t.Fatal("stop order must not fill on the triggering bar")
	}
	if !order.Triggered {
		t.Fatal("expected stop order to be triggered")
	}

	next := makeBar(49.40, 49.90, 49.00, 49.20, 10000)
	next.Timestamp = trigger.Timestamp.Add(24 * time.Hour)

	trade, err = model.AttemptFill(order, next)
	if err != nil {
		t.Fatalf("AttemptFill returned error: %v", err)
	}
	if trade == nil {
		t.Fatal("triggered stop order must fill on the next bar")
	}
	if !approxEqual(trade.Price, 49.40*(1-0.0005)) {
		t.Errorf("expected fill at next open minus slippage, got %f", trade.Price)
	}
}

func TestAttemptFill_LiquidityPartialFill(t *testing.T) {
	model := NewFillModel(
		config.CommissionConfig{Type: "flat"},
		config.SlippageConfig{Type: "bps"},
		config.LiquidityConfig{Enabled: true, MaxVolumePercent: 0.1},
		testInstrument,
	)

	bar := makeBar(50.00, 51.00, 49.50, 50.50, 500)
	order := domain.NewOrder("s1", "AAPL", domain.OrderTypeMarket, domain.OrderSideBuy, 100, bar.Timestamp)
	order.Status = domain.OrderStatusWorking

	trade, err := model.AttemptFill(order, bar)
	if err != nil {
		t.Fatalf("AttemptFill returned error: %v", err)
	}
	if trade == nil {
		t.Fatal("expected partial fill")
	}
	if !approxEqual(trade.Quantity, 50) {
		t.Errorf("expected partial quantity 50, got %f", trade.Quantity)
	}
	if order.Status != domain.OrderStatusPartiallyFilled {
		t.Errorf("expected partially_filled, got %s", order.Status)
	}
	if !approxEqual(order.Remaining(), 50) {
		t.Errorf("expected remaining 50, got %f", order.Remaining())
	}

	// 剩余部分在下一根K线继续成交。
	next := makeBar(50.50, 51.20, 50.00, 51.00, 10000)
	next.Timestamp = bar.Timestamp.Add(24 * time.Hour)

	trade, err = model.AttemptFill(order, next)
	if err != nil {
		t.Fatalf("AttemptFill returned error: %v", err)
	}
	if trade == nil || !approxEqual(trade.Quantity, 50) {
		t.Fatalf("expected remaining 50 to fill, got %+v", trade)
	}
	if order.Status != domain.OrderStatusFilled {
		t.Errorf("expected order filled after second fill, got %s", order.Status)
	}
}

func TestCommissionModels(t *testing.T) {
	cases := []struct {
		name     string
		cfg      config.CommissionConfig
		quantity float64
		price    float64
		want     float64
	}{
		{"per_share", config.CommissionConfig{Type: "per_share", Rate: 0.01}, 100, 50, 1.0},
		{"per_share_minimum", config.CommissionConfig{Type: "per_share", Rate: 0.005, Minimum: 1.0}, 100, 50, 1.0},
		{"percentage", config.CommissionConfig{Type: "percentage", Rate: 0.001}, 100, 50, 5.0},
		{"flat", config.CommissionConfig{Type: "flat", Rate: 2.5}, 1, 50, 2.5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			model := NewFillModel(tc.cfg, config.SlippageConfig{Type: "bps"}, config.LiquidityConfig{}, testInstrument)
			if got := model.Commission(tc.quantity, tc.price); !approxEqual(got, tc.want) {
				t.Errorf("commission mismatch: got %f want %f", got, tc.want)
			}
		})
	}
}

func TestSyntheticFill(t *testing.T) {
	model := NewFillModel(
		config.CommissionConfig{Type: "flat", Rate: 1.0},
		config.SlippageConfig{Type: "bps", Value: 5},
		config.LiquidityConfig{},
		testInstrument,
	)

	ts := time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC)
	order, trade, err := model.SyntheticFill("s1", "AAPL", domain.OrderSideSell, 100, 55.00, ts, "close_at_end")
	if err != nil {
		t.Fatalf("SyntheticFill returned error: %v", err)
	}
	if order.Status != domain.OrderStatusFilled {
		t.Errorf("expected synthetic order filled, got %s", order.Status)
	}
	if order.Reason != "close_at_end" {
		t.Errorf("expected reason close_at_end, got %q", order.Reason)
	}
	if !approxEqual(trade.Price, 55.00*(1-0.0005)) {
		t.Errorf("expected adverse slippage on synthetic sell, got %f", trade.Price)
	}
	if !approxEqual(trade.Commission, 1.0) {
		t.Errorf("expected commission 1.0, got %f", trade.Commission)
	}
}
