package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"simtrader/internal/config"
	"simtrader/internal/domain"
)

// ExchangeFactory 通过 ccxt 分页下载历史K线作为回测数据源。
type ExchangeFactory struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binance

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewExchangeFactory 创建 Binance 历史行情数据源。
func NewExchangeFactory(cfg config.ExchangeConfig, logger *zap.Logger) (*ExchangeFactory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinance(userConfig)

	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 1000
	}

	return &ExchangeFactory{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// Open 实现 Factory：按时间窗口分页拉取后在内存中重放。
func (f *ExchangeFactory) Open(ctx context.Context, instrument, timeframe string, start, end time.Time) (BarSource, error) {
	if err := f.ensureMarketsLoaded(ctx); err != nil {
		return nil, err
	}

	step := domain.TimeframeDuration(timeframe)
	if step <= 0 {
		return nil, fmt.Errorf("source: 不支持的周期 %q", timeframe)
	}

	var bars []domain.Bar
	since := start.UTC()

	for since.Before(end) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := f.exchange.FetchOHLCV(
			instrument,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVSince(since.UnixMilli()),
			ccxt.WithFetchOHLCVLimit(int64(f.cfg.PageLimit)),
		)
		if err != nil {
			return nil, fmt.Errorf("source: 拉取K线失败: %w", err)
		}
		if len(raw) == 0 {
			break
		}

		for _, item := range raw {
			ts := time.UnixMilli(item.Timestamp).UTC()
			if ts.After(end) {
				break
			}
			bars = append(bars, domain.Bar{
				InstrumentID: instrument,
				Timestamp:    ts,
				Timeframe:    timeframe,
				Open:         item.Open,
				High:         item.High,
				Low:          item.Low,
				Close:        item.Close,
				Volume:       item.Volume,
			})
		}

		last := time.UnixMilli(raw[len(raw)-1].Timestamp).UTC()
		next := last.Add(step)
		if !next.After(since) {
			break
		}
		since = next
	}

	f.logger.Debug("历史K线下载完成",
		zap.String("instrument", instrument),
		zap.String("timeframe", timeframe),
		zap.Int("bars", len(bars)),
	)

	return NewSliceSource(filterRange(bars, start, end)), nil
}

func (f *ExchangeFactory) ensureMarketsLoaded(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.marketsMu.Lock()
	defer f.marketsMu.Unlock()

	if f.marketsLoaded {
		return nil
	}

	if _, err := f.exchange.LoadMarkets(); err != nil {
		return fmt.Errorf("source: 加载市场元数据失败: %w", err)
	}

	f.marketsLoaded = true
	return nil
}
