// Package indicator 提供便于指标计算的K线序列工具。
package indicator

import (
	"math"
	"time"

	"simtrader/internal/domain"
)

// Series 按时间升序累积K线数据，供 talib 等指标计算使用。
type Series struct {
	Timestamps []time.Time
	Open       []float64
	High       []float64
	Low        []float64
	Close      []float64
	Volume     []float64
}

// NewSeries 创建空序列，capacity 用于预分配。
func NewSeries(capacity int) *Series {
	if capacity < 0 {
		capacity = 0
	}
	return &Series{
		Timestamps: make([]time.Time, 0, capacity),
		Open:       make([]float64, 0, capacity),
		High:       make([]float64, 0, capacity),
		Low:        make([]float64, 0, capacity),
		Close:      make([]float64, 0, capacity),
		Volume:     make([]float64, 0, capacity),
	}
}

// Append 追加一根K线。
func (s *Series) Append(bar domain.Bar) {
	s.Timestamps = append(s.Timestamps, bar.Timestamp.UTC())
	s.Open = append(s.Open, bar.Open)
	s.High = append(s.High, bar.High)
	s.Low = append(s.Low, bar.Low)
	s.Close = append(s.Close, bar.Close)
	s.Volume = append(s.Volume, bar.Volume)
}

// Len 返回序列长度。
func (s *Series) Len() int {
	return len(s.Close)
}

// Last 返回序列最后一个值，若为空则返回 NaN。
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// Prev 返回序列倒数第二个值，若不足两个元素则返回 NaN。
func Prev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	return values[len(values)-2]
}

// SliceTail 返回序列末尾 n 个值，不足时返回全部。
func SliceTail(values []float64, n int) []float64 {
	if n <= 0 || len(values) == 0 {
		return nil
	}
	if len(values) <= n {
		dst := make([]float64, len(values))
		copy(dst, values)
		return dst
	}
	dst := make([]float64, n)
	copy(dst, values[len(values)-n:])
	return dst
}

// SafeDivide 除法保护，除数为0时返回0。
func SafeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
