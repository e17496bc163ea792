package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了回测系统运行所需的全部配置项。
type Config struct {
	App         AppConfig          `mapstructure:"app"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Data        DataConfig         `mapstructure:"data"`
	Sessions    []SessionConfig    `mapstructure:"sessions"`
	Metrics     MetricsConfig      `mapstructure:"metrics"`
	OpenAI      OpenAIConfig       `mapstructure:"openai"`
	Runner      RunnerConfig       `mapstructure:"runner"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Logging     LoggingConfig      `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// InstrumentConfig 描述标的参考数据。
type InstrumentConfig struct {
	Symbol   string  `mapstructure:"symbol"`
	TickSize float64 `mapstructure:"tick_size"`
	LotSize  float64 `mapstructure:"lot_size"`
	Currency string  `mapstructure:"currency"`
}

// DataConfig 描述K线数据来源。
type DataConfig struct {
	// Source 可选 csv | sqlite | exchange。
	Source    string         `mapstructure:"source"`
	CSVPath   string         `mapstructure:"csv_path"`
	GapPolicy string         `mapstructure:"gap_policy"`
	Exchange  ExchangeConfig `mapstructure:"exchange"`
}

// ExchangeConfig 描述历史K线下载所用的交易所连接。
type ExchangeConfig struct {
	Name      string `mapstructure:"name"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	PageLimit int    `mapstructure:"page_limit"`
}

// CommissionConfig 描述手续费模型。
type CommissionConfig struct {
	// Type 可选 per_share | percentage | flat。
	Type    string  `mapstructure:"type"`
	Rate    float64 `mapstructure:"rate"`
	Minimum float64 `mapstructure:"minimum"`
}

// SlippageConfig 描述滑点模型。
type SlippageConfig struct {
	// Type 可选 fixed | bps。
	Type  string  `mapstructure:"type"`
	Value float64 `mapstructure:"value"`
}

// LiquidityConfig 控制单根K线的成交量约束。
type LiquidityConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxVolumePercent float64 `mapstructure:"max_volume_percent"`
}

// RiskConfig 控制会话级风控：最大敞口、当日亏损熔断与保护性止损/止盈。
// 各比例均以小数表示（0.05 即 5%），为零表示对应规则不生效。
type RiskConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	MaxExposure   float64 `mapstructure:"max_exposure"`
	MaxDailyLoss  float64 `mapstructure:"max_daily_loss"`
	StopLossPct   float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct float64 `mapstructure:"take_profit_pct"`
}

// SessionConfig 描述一次回测会话的全部参数。
type SessionConfig struct {
	Strategy      string           `mapstructure:"strategy"`
	Parameters    map[string]any   `mapstructure:"parameters"`
	Instrument    string           `mapstructure:"instrument"`
	Timeframe     string           `mapstructure:"timeframe"`
	StartDate     time.Time        `mapstructure:"start_date"`
	EndDate       time.Time        `mapstructure:"end_date"`
	InitialCash   float64          `mapstructure:"initial_cash"`
	OrderQuantity float64          `mapstructure:"order_quantity"`
	TimeInForce   string           `mapstructure:"time_in_force"`
	Commission    CommissionConfig `mapstructure:"commission"`
	Slippage      SlippageConfig   `mapstructure:"slippage"`
	Liquidity     LiquidityConfig  `mapstructure:"liquidity"`
	Risk          RiskConfig       `mapstructure:"risk"`
	CloseAtEnd    bool             `mapstructure:"close_at_end"`
	FlattenDaily  bool             `mapstructure:"flatten_daily"`
	EnforceCash   bool             `mapstructure:"enforce_cash"`
}

// MetricsConfig 控制绩效指标计算。
type MetricsConfig struct {
	RiskFreeRate float64 `mapstructure:"risk_free_rate"`
	TradingDays  int     `mapstructure:"trading_days"`
	BarsPerDay   int     `mapstructure:"bars_per_day"`
}

// OpenAIConfig 描述 ai 策略使用的大模型参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RunnerConfig 控制并发回测。
type RunnerConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	switch c.Data.Source {
	case "csv":
		if c.Data.CSVPath == "" {
			err = multierr.Append(err, errors.New("data.csv_path 不能为空"))
		}
	case "sqlite":
	case "exchange":
		if c.Data.Exchange.Name == "" {
			err = multierr.Append(err, errors.New("data.exchange.name 不能为空"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("data.source 不支持 %q", c.Data.Source))
	}
	if c.Data.GapPolicy != "fail" && c.Data.GapPolicy != "skip" {
		err = multierr.Append(err, fmt.Errorf("data.gap_policy 必须为 fail 或 skip，当前为 %q", c.Data.GapPolicy))
	}

	if len(c.Instruments) == 0 {
		err = multierr.Append(err, errors.New("instruments 至少配置一个标的"))
	}
	for i, inst := range c.Instruments {
		if inst.Symbol == "" {
			err = multierr.Append(err, fmt.Errorf("instruments[%d].symbol 不能为空", i))
		}
		if inst.TickSize <= 0 {
			err = multierr.Append(err, fmt.Errorf("instruments[%d].tick_size 必须大于0", i))
		}
		if inst.LotSize <= 0 {
			err = multierr.Append(err, fmt.Errorf("instruments[%d].lot_size 必须大于0", i))
		}
	}

	if len(c.Sessions) == 0 {
		err = multierr.Append(err, errors.New("sessions 至少配置一个会话"))
	}
	for i := range c.Sessions {
		err = multierr.Append(err, c.Sessions[i].validate(i))
	}

	if c.Metrics.RiskFreeRate < 0 {
		err = multierr.Append(err, errors.New("metrics.risk_free_rate 不能为负"))
	}
	if c.Metrics.TradingDays <= 0 {
		err = multierr.Append(err, errors.New("metrics.trading_days 必须大于0"))
	}

	if c.Runner.MaxConcurrent <= 0 {
		err = multierr.Append(err, errors.New("runner.max_concurrent 必须大于0"))
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func (s *SessionConfig) validate(index int) error {
	var err error

	if s.Strategy == "" {
		err = multierr.Append(err, fmt.Errorf("sessions[%d].strategy 不能为空", index))
	}
	if s.Instrument == "" {
		err = multierr.Append(err, fmt.Errorf("sessions[%d].instrument 不能为空", index))
	}
	if s.Timeframe == "" {
		err = multierr.Append(err, fmt.Errorf("sessions[%d].timeframe 不能为空", index))
	}
	if s.StartDate.IsZero() || s.EndDate.IsZero() {
		err = multierr.Append(err, fmt.Errorf("sessions[%d] 必须配置 start_date 与 end_date", index))
	} else if !s.EndDate.After(s.StartDate) {
		err = multierr.Append(err, fmt.Errorf("sessions[%d].end_date 必须晚于 start_date", index))
	}
	if s.InitialCash <= 0 {
		err = multierr.Append(err, fmt.Errorf("sessions[%d].initial_cash 必须大于0", index))
	}
	if s.OrderQuantity < 0 {
		err = multierr.Append(err, fmt.Errorf("sessions[%d].order_quantity 不能为负", index))
	}
	switch s.TimeInForce {
	case "gtc", "day", "ioc":
	default:
		err = multierr.Append(err, fmt.Errorf("sessions[%d].time_in_force 不支持 %q", index, s.TimeInForce))
	}
	switch s.Commission.Type {
	case "per_share", "percentage", "flat":
		if s.Commission.Rate < 0 || s.Commission.Minimum < 0 {
			err = multierr.Append(err, fmt.Errorf("sessions[%d].commission 费率不能为负", index))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("sessions[%d].commission.type 不支持 %q", index, s.Commission.Type))
	}
	switch s.Slippage.Type {
	case "fixed", "bps":
		if s.Slippage.Value < 0 {
			err = multierr.Append(err, fmt.Errorf("sessions[%d].slippage.value 不能为负", index))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("sessions[%d].slippage.type 不支持 %q", index, s.Slippage.Type))
	}
	if s.Liquidity.Enabled && (s.Liquidity.MaxVolumePercent <= 0 || s.Liquidity.MaxVolumePercent > 1) {
		err = multierr.Append(err, fmt.Errorf("sessions[%d].liquidity.max_volume_percent 必须位于(0,1]", index))
	}
	if s.Risk.Enabled {
		if s.Risk.MaxExposure < 0 {
			err = multierr.Append(err, fmt.Errorf("sessions[%d].risk.max_exposure 不能为负", index))
		}
		if s.Risk.MaxDailyLoss < 0 || s.Risk.MaxDailyLoss >= 1 {
			err = multierr.Append(err, fmt.Errorf("sessions[%d].risk.max_daily_loss 必须位于[0,1)", index))
		}
		if s.Risk.StopLossPct < 0 || s.Risk.StopLossPct >= 1 {
			err = multierr.Append(err, fmt.Errorf("sessions[%d].risk.stop_loss_pct 必须位于[0,1)", index))
		}
		if s.Risk.TakeProfitPct < 0 {
			err = multierr.Append(err, fmt.Errorf("sessions[%d].risk.take_profit_pct 不能为负", index))
		}
	}

	return err
}
