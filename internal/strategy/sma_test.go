package strategy

import (
	"context"
	"testing"
	"time"

	"simtrader/internal/domain"
)

func feedBars(t *testing.T, strat Strategy, closes []float64, position *domain.Position) [][]domain.Signal {
	t.Helper()

	base := time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC)
	var all [][]domain.Signal
	for i, close := range closes {
		bar := domain.Bar{
			InstrumentID: "AAPL",
			Timestamp:    base.Add(time.Duration(i) * 24 * time.Hour),
			Timeframe:    "1d",
			Open:         close,
			High:         close + 1,
			Low:          close - 1,
			Close:        close,
			Volume:       100000,
		}
		signals, err := strat.OnBar(context.Background(), bar, State{Position: *position})
		if err != nil {
			t.Fatalf("OnBar returned error at bar %d: %v", i, err)
		}
		for _, signal := range signals {
			position.Quantity += signal.Side.Sign() * 100
		}
		all = append(all, signals)
	}
	return all
}

func TestSMACross_SignalsOnCrossovers(t *testing.T) {
	strat := NewSMACross()
	if err := strat.Initialize(map[string]any{"short_window": 2, "long_window": 3}); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	position := &domain.Position{InstrumentID: "AAPL"}
	closes := []float64{10, 9, 8, 12, 14, 9, 7}
	all := feedBars(t, strat, closes, position)

	// 短均线在第4根K线上穿长均线。
	if len(all[3]) != 1 || all[3][0].Side != domain.OrderSideBuy || all[3][0].Reason != "sma_cross_up" {
		t.Fatalf("expected buy signal at bar 3, got %+v", all[3])
	}
	// 下穿时平掉全部持仓。
	if len(all[5]) != 1 || all[5][0].Side != domain.OrderSideSell || all[5][0].Reason != "sma_cross_down" {
		t.Fatalf("expected sell signal at bar 5, got %+v", all[5])
	}
	if all[5][0].Quantity != 100 {
		t.Errorf("sell signal must carry the full position, got %f", all[5][0].Quantity)
	}

	// 预热期与无交叉的K线保持静默。
	for _, i := range []int{0, 1, 2, 4, 6} {
		if len(all[i]) != 0 {
			t.Errorf("expected no signal at bar %d, got %+v", i, all[i])
		}
	}
}

func TestSMACross_RejectsInvalidWindows(t *testing.T) {
	strat := NewSMACross()
	if err := strat.Initialize(map[string]any{"short_window": 50, "long_window": 10}); err == nil {
		t.Fatal("expected error when short window exceeds long window")
	}
}

func TestRegistry_CreateAndList(t *testing.T) {
	registry := DefaultRegistry()

	for _, name := range []string{"sma_cross", "rsi", "bollinger"} {
		strat, err := registry.Create(name)
		if err != nil {
			t.Fatalf("Create(%s) returned error: %v", name, err)
		}
		if strat.Name() != name {
			t.Errorf("strategy name mismatch: got %s want %s", strat.Name(), name)
		}
	}

	if _, err := registry.Create("unknown"); err == nil {
		t.Fatal("expected error for unregistered strategy")
	}

	// 每次 Create 返回独立实例。
	a, _ := registry.Create("sma_cross")
	b, _ := registry.Create("sma_cross")
	if a == b {
		t.Fatal("expected independent strategy instances")
	}
}
