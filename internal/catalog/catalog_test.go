package catalog

import (
	"math"
	"testing"

	"simtrader/internal/config"
)

func TestCatalog_LookupAndDefaults(t *testing.T) {
	cat, err := New([]config.InstrumentConfig{
		{Symbol: "AAPL", TickSize: 0.01, LotSize: 1},
		{Symbol: "BTC/USDT", TickSize: 0.1, LotSize: 0.001, Currency: "USDT"},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	aapl, ok := cat.Lookup("AAPL")
	if !ok {
		t.Fatal("expected AAPL to be registered")
	}
	if aapl.Currency != "USD" {
		t.Errorf("expected default currency USD, got %s", aapl.Currency)
	}

	btc, _ := cat.Lookup("BTC/USDT")
	if btc.Currency != "USDT" {
		t.Errorf("expected currency USDT, got %s", btc.Currency)
	}

	if _, ok := cat.Lookup("MSFT"); ok {
		t.Error("unexpected lookup hit for unregistered symbol")
	}

	symbols := cat.Symbols()
	if len(symbols) != 2 || symbols[0] != "AAPL" {
		t.Errorf("expected sorted symbols, got %v", symbols)
	}
}

func TestCatalog_RejectsDuplicates(t *testing.T) {
	_, err := New([]config.InstrumentConfig{
		{Symbol: "AAPL", TickSize: 0.01, LotSize: 1},
		{Symbol: "AAPL", TickSize: 0.05, LotSize: 1},
	})
	if err == nil {
		t.Fatal("expected error for duplicate symbol")
	}
}

func TestInstrument_Rounding(t *testing.T) {
	inst := Instrument{Symbol: "AAPL", TickSize: 0.05, LotSize: 10}

	if got := inst.RoundPrice(50.07); math.Abs(got-50.05) > 1e-9 {
		t.Errorf("expected price rounded to 50.05, got %f", got)
	}
	if got := inst.RoundPrice(50.08); math.Abs(got-50.10) > 1e-9 {
		t.Errorf("expected price rounded to 50.10, got %f", got)
	}

	// 数量向下对齐，避免超出请求规模。
	if got := inst.RoundQuantity(97); math.Abs(got-90) > 1e-9 {
		t.Errorf("expected quantity floored to 90, got %f", got)
	}
	if got := inst.RoundQuantity(5); got != 0 {
		t.Errorf("expected sub-lot quantity floored to 0, got %f", got)
	}
}
