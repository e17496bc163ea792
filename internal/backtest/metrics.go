package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"simtrader/internal/config"
	"simtrader/internal/domain"
)

// ComputeMetrics 根据快照序列与成交记录计算绩效指标。
// 权益序列在首位补入初始资金，收益率按相邻快照的简单收益计算。
// 年化因子：日线为 trading_days，日内为 trading_days × 每日bar数。
// 无亏损或波动为零时比率返回 +Inf 作为哨兵值。
func ComputeMetrics(snapshots []domain.PortfolioSnapshot, trades []*domain.Trade, initialCash float64, timeframe string, cfg config.MetricsConfig) domain.PerformanceMetrics {
	metrics := domain.PerformanceMetrics{FinalEquity: initialCash}
	if len(snapshots) == 0 {
		return metrics
	}

	equity := make([]float64, 0, len(snapshots)+1)
	equity = append(equity, initialCash)
	for _, snapshot := range snapshots {
		equity = append(equity, snapshot.Equity)
	}
	final := equity[len(equity)-1]
	metrics.FinalEquity = final

	perYear := periodsPerYear(timeframe, cfg)
	periods := float64(len(equity) - 1)

	metrics.TotalReturn = final/initialCash - 1
	if final > 0 && periods > 0 {
		metrics.AnnualizedReturn = math.Pow(final/initialCash, perYear/periods) - 1
	}

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, equity[i]/equity[i-1]-1)
	}

	std, _ := stats.StandardDeviationSample(returns)
	mean, _ := stats.Mean(returns)
	metrics.Volatility = std * math.Sqrt(perYear)

	rfPerPeriod := cfg.RiskFreeRate / perYear
	excess := mean - rfPerPeriod
	if std > 0 {
		metrics.SharpeRatio = excess / std * math.Sqrt(perYear)
	} else if excess > 0 {
		metrics.SharpeRatio = math.Inf(1)
	}

	downside := downsideDeviation(returns, rfPerPeriod)
	if downside > 0 {
		metrics.SortinoRatio = excess / downside * math.Sqrt(perYear)
	} else if excess > 0 {
		metrics.SortinoRatio = math.Inf(1)
	}

	metrics.MaxDrawdown, metrics.DrawdownBars = maxDrawdown(equity)

	fillTradeStats(&metrics, trades, timeframe)
	return metrics
}

func periodsPerYear(timeframe string, cfg config.MetricsConfig) float64 {
	tradingDays := float64(cfg.TradingDays)
	if tradingDays <= 0 {
		tradingDays = 252
	}
	if timeframe == "1d" {
		return tradingDays
	}
	barsPerDay := float64(cfg.BarsPerDay)
	if barsPerDay <= 0 {
		// 默认按 6.5 小时交易时段推导。
		duration := domain.TimeframeDuration(timeframe)
		if duration <= 0 {
			return tradingDays
		}
		barsPerDay = (6.5 * float64(time.Hour)) / float64(duration)
	}
	return tradingDays * barsPerDay
}

func downsideDeviation(returns []float64, target float64) float64 {
	var sum float64
	for _, r := range returns {
		if r < target {
			diff := r - target
			sum += diff * diff
		}
	}
	if len(returns) == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(len(returns)))
}

// maxDrawdown 返回最大回撤幅度（0~1）及其持续bar数。
// 持续时间从峰值算到权益恢复，未恢复则算到序列结束。
func maxDrawdown(equity []float64) (float64, int) {
	var (
		peak         = equity[0]
		peakIndex    int
		maxDD        float64
		maxPeakIndex = -1
	)
	for i, value := range equity {
		if value >= peak {
			peak = value
			peakIndex = i
			continue
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - value) / peak
		if dd > maxDD {
			maxDD = dd
			maxPeakIndex = peakIndex
		}
	}

	if maxPeakIndex < 0 {
		return 0, 0
	}

	recovery := len(equity) - 1
	for i := maxPeakIndex + 1; i < len(equity); i++ {
		if equity[i] >= equity[maxPeakIndex] {
			recovery = i
			break
		}
	}
	return maxDD, recovery - maxPeakIndex
}

// roundTrip 记录一次完整的开平仓往返。
type roundTrip struct {
	pnl      float64
	openedAt time.Time
	closedAt time.Time
}

// fillTradeStats 从成交流重放出往返交易，计算胜率、盈亏比等。
// 逐标的按平均成本重放，方向反转拆为平仓与新开仓。
func fillTradeStats(metrics *domain.PerformanceMetrics, trades []*domain.Trade, timeframe string) {
	metrics.TotalTrades = len(trades)
	if len(trades) == 0 {
		return
	}

	sorted := make([]*domain.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	type openLot struct {
		quantity float64
		avgPrice float64
		cost     float64
		openedAt time.Time
	}

	lots := make(map[string]*openLot)
	var roundTrips []roundTrip

	for _, trade := range sorted {
		lot, ok := lots[trade.Instrument]
		if !ok {
			lot = &openLot{}
			lots[trade.Instrument] = lot
		}

		signedQty := trade.SignedQuantity()
		if lot.quantity == 0 || sameSign(lot.quantity, lot.quantity+signedQty) && math.Abs(lot.quantity+signedQty) > math.Abs(lot.quantity) {
			// 开仓或加仓。
			if lot.quantity == 0 {
				lot.openedAt = trade.Timestamp
				lot.avgPrice = trade.Price
			} else {
				lot.avgPrice = (lot.quantity*lot.avgPrice + signedQty*trade.Price) / (lot.quantity + signedQty)
			}
			lot.quantity += signedQty
			lot.cost += trade.Commission
			continue
		}

		closedQty := math.Min(math.Abs(signedQty), math.Abs(lot.quantity))
		// 开仓成本按平掉的比例分摊，分批离场时剩余部分继续携带。
		costShare := lot.cost * closedQty / math.Abs(lot.quantity)
		pnl := closedQty*(trade.Price-lot.avgPrice)*direction(lot.quantity) - costShare - trade.Commission
		newQty := lot.quantity + signedQty

		if newQty == 0 || !sameSign(lot.quantity, newQty) {
			roundTrips = append(roundTrips, roundTrip{pnl: pnl, openedAt: lot.openedAt, closedAt: trade.Timestamp})
			if newQty != 0 {
				// 反转后剩余部分视为新开仓。
				lot.quantity = newQty
				lot.avgPrice = trade.Price
				lot.openedAt = trade.Timestamp
				lot.cost = 0
			} else {
				*lot = openLot{}
			}
			continue
		}

		// 部分减仓：按比例确认往返。
		roundTrips = append(roundTrips, roundTrip{pnl: pnl, openedAt: lot.openedAt, closedAt: trade.Timestamp})
		lot.quantity = newQty
		lot.cost -= costShare
	}

	var (
		grossProfit, grossLoss float64
		winSum, lossSum        float64
		holdingSum             time.Duration
	)
	for _, rt := range roundTrips {
		holdingSum += rt.closedAt.Sub(rt.openedAt)
		switch {
		case rt.pnl > 0:
			metrics.WinningTrades++
			grossProfit += rt.pnl
			winSum += rt.pnl
		case rt.pnl < 0:
			metrics.LosingTrades++
			grossLoss += -rt.pnl
			lossSum += -rt.pnl
		}
		// 盈亏为零的往返既不计胜也不计负。
	}

	total := len(roundTrips)
	if total == 0 {
		return
	}
	metrics.WinRate = float64(metrics.WinningTrades) / float64(total)

	switch {
	case grossLoss > 0:
		metrics.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		metrics.ProfitFactor = math.Inf(1)
	}

	avgWin := winSum / math.Max(float64(metrics.WinningTrades), 1)
	avgLoss := lossSum / math.Max(float64(metrics.LosingTrades), 1)
	switch {
	case avgLoss > 0:
		metrics.AvgWinLossRatio = avgWin / avgLoss
	case avgWin > 0:
		metrics.AvgWinLossRatio = math.Inf(1)
	}

	if duration := domain.TimeframeDuration(timeframe); duration > 0 {
		metrics.AvgHoldingBars = float64(holdingSum) / float64(duration) / float64(total)
	}
}
