package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
app:
  environment: test

instruments:
  - symbol: AAPL
    tick_size: 0.01
    lot_size: 1

data:
  source: csv
  csv_path: data/bars.csv
  gap_policy: fail

sessions:
  - strategy: sma_cross
    parameters:
      short_window: 10
      long_window: 50
    instrument: AAPL
    timeframe: 1d
    start_date: 2024-01-01
    end_date: 2024-12-31
    initial_cash: 100000
    order_quantity: 100
    time_in_force: gtc
    commission:
      type: flat
      rate: 1.0
    slippage:
      type: bps
      value: 5
    risk:
      enabled: false
      stop_loss_pct: 0.05
    close_at_end: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Environment != "test" {
		t.Errorf("unexpected environment %q", cfg.App.Environment)
	}
	if len(cfg.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(cfg.Sessions))
	}

	session := cfg.Sessions[0]
	if session.Strategy != "sma_cross" {
		t.Errorf("unexpected strategy %q", session.Strategy)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !session.StartDate.Equal(want) {
		t.Errorf("expected start date %s, got %s", want, session.StartDate)
	}
	if session.InitialCash != 100000 {
		t.Errorf("unexpected initial cash %f", session.InitialCash)
	}
	if !session.CloseAtEnd {
		t.Error("expected close_at_end true")
	}

	// 未显式配置的字段回落到默认值。
	if cfg.Metrics.TradingDays != 252 {
		t.Errorf("expected default trading days 252, got %d", cfg.Metrics.TradingDays)
	}
	if cfg.Runner.MaxConcurrent != 4 {
		t.Errorf("expected default max_concurrent 4, got %d", cfg.Runner.MaxConcurrent)
	}
	if cfg.Database.ConnMaxLifetime != time.Hour {
		t.Errorf("expected default conn_max_lifetime 1h, got %s", cfg.Database.ConnMaxLifetime)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		message string
	}{
		{
			name:    "bad gap policy",
			mutate:  func(c string) string { return strings.Replace(c, "gap_policy: fail", "gap_policy: interpolate", 1) },
			message: "gap_policy",
		},
		{
			name:    "bad commission type",
			mutate:  func(c string) string { return strings.Replace(c, "type: flat", "type: tiered", 1) },
			message: "commission.type",
		},
		{
			name:    "end before start",
			mutate:  func(c string) string { return strings.Replace(c, "end_date: 2024-12-31", "end_date: 2023-12-31", 1) },
			message: "end_date",
		},
		{
			name:    "zero cash",
			mutate:  func(c string) string { return strings.Replace(c, "initial_cash: 100000", "initial_cash: 0", 1) },
			message: "initial_cash",
		},
		{
			name:    "bad time in force",
			mutate:  func(c string) string { return strings.Replace(c, "time_in_force: gtc", "time_in_force: fok", 1) },
			message: "time_in_force",
		},
		{
			name: "risk stop loss out of range",
			mutate: func(c string) string {
				c = strings.Replace(c, "enabled: false", "enabled: true", 1)
				return strings.Replace(c, "stop_loss_pct: 0.05", "stop_loss_pct: 1.5", 1)
			},
			message: "risk.stop_loss_pct",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.mutate(validConfig)))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.message) {
				t.Errorf("expected error mentioning %q, got %v", tc.message, err)
			}
		})
	}
}
