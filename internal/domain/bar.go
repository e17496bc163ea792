// Package domain 定义回测系统共享的核心数据模型。
package domain

import "time"

const (
	// Timeframe1d 为日线周期。
	Timeframe1d = "1d"
	// Timeframe1h 为小时线周期。
	Timeframe1h = "1h"
	// Timeframe5m 为5分钟周期。
	Timeframe5m = "5m"
)

// Bar 代表单根K线，摄入后不可变。
type Bar struct {
	InstrumentID string
	Timestamp    time.Time
	Timeframe    string
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	VWAP         float64
	TradeCount   int64
}

// SameDay 判断两根K线是否属于同一个UTC交易日。
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// TimeframeDuration 将周期标签转换为时长，无法识别时返回0。
func TimeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 0
	}
}
