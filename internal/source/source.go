// Package source 提供回测所需的K线数据源。
// 数据源按会话打开，天然支持重放；引擎不做插值，
// 缺口处理由引擎按配置决定。
package source

import (
	"context"
	"sort"
	"time"

	"simtrader/internal/domain"
)

// BarSource 按时间升序提供K线，第二个返回值为 false 表示序列结束。
type BarSource interface {
	Next(ctx context.Context) (domain.Bar, bool, error)
}

// Factory 为每个会话打开一个独立的数据源。
type Factory interface {
	Open(ctx context.Context, instrument, timeframe string, start, end time.Time) (BarSource, error)
}

// SliceSource 以固定序列提供K线，主要用于测试与内存重放。
type SliceSource struct {
	bars  []domain.Bar
	index int
}

// NewSliceSource 创建 SliceSource，输入按时间升序排序。
func NewSliceSource(bars []domain.Bar) *SliceSource {
	sorted := append([]domain.Bar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &SliceSource{bars: sorted}
}

// Next 实现 BarSource。
func (s *SliceSource) Next(ctx context.Context) (domain.Bar, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Bar{}, false, err
	}
	if s.index >= len(s.bars) {
		return domain.Bar{}, false, nil
	}
	bar := s.bars[s.index]
	s.index++
	return bar, true, nil
}

// filterRange 截取[start,end]区间内的K线。
func filterRange(bars []domain.Bar, start, end time.Time) []domain.Bar {
	filtered := make([]domain.Bar, 0, len(bars))
	for _, bar := range bars {
		if bar.Timestamp.Before(start) || bar.Timestamp.After(end) {
			continue
		}
		filtered = append(filtered, bar)
	}
	return filtered
}
