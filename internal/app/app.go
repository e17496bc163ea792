package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"simtrader/internal/backtest"
	"simtrader/internal/catalog"
	"simtrader/internal/config"
	"simtrader/internal/persist"
	"simtrader/internal/runner"
	"simtrader/internal/source"
	"simtrader/internal/store"
	"simtrader/internal/strategy"
)

// App 聚合核心依赖并驱动回测生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 装配全部会话引擎并执行，返回首个会话级错误。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("回测系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("data_source", a.cfg.Data.Source),
		zap.Int("sessions", len(a.cfg.Sessions)),
	)

	cat, err := catalog.New(a.cfg.Instruments)
	if err != nil {
		return err
	}

	factory, err := a.newSourceFactory()
	if err != nil {
		return err
	}

	recorder, err := a.newRecorder()
	if err != nil {
		return err
	}

	registry := strategy.DefaultRegistry()

	engines := make([]*backtest.Engine, 0, len(a.cfg.Sessions))
	for i, sessionCfg := range a.cfg.Sessions {
		instrument, ok := cat.Lookup(sessionCfg.Instrument)
		if !ok {
			return fmt.Errorf("app: sessions[%d] 引用了未登记的标的 %q", i, sessionCfg.Instrument)
		}

		var strat strategy.Strategy
		if sessionCfg.Strategy == "ai" {
			// AI 策略依赖运行时配置，不走注册表。
			strat, err = strategy.NewAIAdvisor(a.cfg.OpenAI, a.logger)
		} else {
			strat, err = registry.Create(sessionCfg.Strategy)
		}
		if err != nil {
			return fmt.Errorf("app: sessions[%d]: %w", i, err)
		}

		engines = append(engines, backtest.NewEngine(
			sessionCfg, a.cfg.Metrics, a.cfg.Data.GapPolicy,
			instrument, factory, strat, recorder, a.logger))
	}

	results := runner.New(a.cfg.Runner.MaxConcurrent, a.logger).RunAll(ctx, engines)

	var firstErr error
	for _, res := range results {
		if res.Err != nil {
			if firstErr == nil {
				firstErr = res.Err
			}
			continue
		}

		metrics := res.Result.Metrics
		a.logger.Info("会话完成",
			zap.String("session_id", res.Result.Session.ID),
			zap.String("strategy", res.Result.Session.StrategyName),
			zap.String("instrument", res.Result.Session.InstrumentID),
			zap.Float64("final_equity", metrics.FinalEquity),
			zap.Float64("total_return", metrics.TotalReturn),
			zap.Float64("max_drawdown", metrics.MaxDrawdown),
			zap.Float64("sharpe_ratio", metrics.SharpeRatio),
			zap.Int("total_trades", metrics.TotalTrades),
		)
	}

	return firstErr
}

func (a *App) newSourceFactory() (source.Factory, error) {
	switch a.cfg.Data.Source {
	case "csv":
		return source.NewCSVFactory(a.cfg.Data.CSVPath), nil
	case "sqlite":
		return source.NewSQLiteFactory(a.store)
	case "exchange":
		return source.NewExchangeFactory(a.cfg.Data.Exchange, a.logger)
	default:
		return nil, fmt.Errorf("app: 不支持的数据源 %q", a.cfg.Data.Source)
	}
}

func (a *App) newRecorder() (backtest.Recorder, error) {
	if a.store == nil {
		return backtest.NopRecorder{}, nil
	}
	return persist.NewRecorder(a.store, a.logger)
}
