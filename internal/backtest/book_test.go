package backtest

import (
	"errors"
	"testing"
	"time"

	"simtrader/internal/domain"
)

func TestOrderBook_SubmitAndCancel(t *testing.T) {
	book := NewOrderBook()
	ts := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

	order := domain.NewOrder("s1", "AAPL", domain.OrderTypeMarket, domain.OrderSideBuy, 100, ts)
	if err := book.Submit(order, ts); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if order.Status != domain.OrderStatusWorking {
		t.Errorf("expected working after submit, got %s", order.Status)
	}
	if err := book.Submit(order, ts); err == nil {
		t.Fatal("expected duplicate submit to fail")
	}

	if err := book.Cancel(order.ID, ts, "user"); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled || order.CancelReason != "user" {
		t.Errorf("unexpected cancel state: %s %q", order.Status, order.CancelReason)
	}
}

func TestOrderBook_CancelTerminalIsNoop(t *testing.T) {
	book := NewOrderBook()
	ts := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

	order := domain.NewOrder("s1", "AAPL", domain.OrderTypeMarket, domain.OrderSideBuy, 100, ts)
	if err := book.Submit(order, ts); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	order.RecordFill(50.0, 100, ts)

	err := book.Cancel(order.ID, ts, "late")
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
	if order.Status != domain.OrderStatusFilled {
		t.Errorf("terminal order must keep its status, got %s", order.Status)
	}

	err = book.Cancel("missing", ts, "late")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderBook_Get(t *testing.T) {
	book := NewOrderBook()
	ts := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

	order := domain.NewOrder("s1", "AAPL", domain.OrderTypeLimit, domain.OrderSideBuy, 100, ts)
	if err := book.Submit(order, ts); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	got, ok := book.Get(order.ID)
	if !ok || got.ID != order.ID {
		t.Fatalf("expected to find submitted order, got %v %v", got, ok)
	}
	if _, ok := book.Get("missing"); ok {
		t.Fatal("unknown id must not be found")
	}
}

func TestOrderBook_PendingForKeepsSubmitOrder(t *testing.T) {
	book := NewOrderBook()
	ts := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

	first := domain.NewOrder("s1", "AAPL", domain.OrderTypeLimit, domain.OrderSideBuy, 100, ts)
	second := domain.NewOrder("s1", "AAPL", domain.OrderTypeLimit, domain.OrderSideSell, 50, ts)
	other := domain.NewOrder("s1", "MSFT", domain.OrderTypeLimit, domain.OrderSideBuy, 10, ts)

	for _, o := range []*domain.Order{first, second, other} {
		if err := book.Submit(o, ts); err != nil {
			t.Fatalf("Submit returned error: %v", err)
		}
	}

	pending := book.PendingFor("AAPL")
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending for AAPL, got %d", len(pending))
	}
	if pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Error("pending orders must preserve submit order")
	}
}

func TestOrderBook_ExpireTIF(t *testing.T) {
	book := NewOrderBook()
	day1 := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	dayOrder := domain.NewOrder("s1", "AAPL", domain.OrderTypeLimit, domain.OrderSideBuy, 100, day1)
	dayOrder.TimeInForce = domain.TimeInForceDay
	gtcOrder := domain.NewOrder("s1", "AAPL", domain.OrderTypeLimit, domain.OrderSideBuy, 100, day1)

	for _, o := range []*domain.Order{dayOrder, gtcOrder} {
		if err := book.Submit(o, day1); err != nil {
			t.Fatalf("Submit returned error: %v", err)
		}
	}

	sameDayBar := domain.Bar{InstrumentID: "AAPL", Timestamp: day1.Add(time.Hour)}
	if expired := book.ExpireTIF(sameDayBar); len(expired) != 0 {
		t.Fatalf("day order must survive within its day, got %d expired", len(expired))
	}

	nextDayBar := domain.Bar{InstrumentID: "AAPL", Timestamp: day2}
	expired := book.ExpireTIF(nextDayBar)
	if len(expired) != 1 || expired[0].ID != dayOrder.ID {
		t.Fatalf("expected only the day order to expire, got %d", len(expired))
	}
	if dayOrder.Status != domain.OrderStatusCancelled || dayOrder.CancelReason != "tif_day_expired" {
		t.Errorf("unexpected expired state: %s %q", dayOrder.Status, dayOrder.CancelReason)
	}
	if gtcOrder.Status != domain.OrderStatusWorking {
		t.Errorf("gtc order must stay working, got %s", gtcOrder.Status)
	}
}
