package source

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gocarina/gocsv"

	"simtrader/internal/domain"
)

// csvBar 为CSV文件中的一行K线记录。
type csvBar struct {
	Symbol     string  `csv:"symbol"`
	Timestamp  csvTime `csv:"timestamp"`
	Timeframe  string  `csv:"timeframe"`
	Open       float64 `csv:"open"`
	High       float64 `csv:"high"`
	Low        float64 `csv:"low"`
	Close      float64 `csv:"close"`
	Volume     float64 `csv:"volume"`
	VWAP       float64 `csv:"vwap,omitempty"`
	TradeCount int64   `csv:"trade_count,omitempty"`
}

// csvTime 支持 RFC3339 与日期两种时间格式。
type csvTime struct {
	time.Time
}

// UnmarshalCSV 实现 gocsv 的自定义解析。
func (t *csvTime) UnmarshalCSV(value string) error {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("无法解析时间 %q", value)
}

// CSVFactory 从单个CSV文件加载K线。文件可混合多个标的与周期，
// 打开数据源时按会话参数过滤。
type CSVFactory struct {
	path string
}

// NewCSVFactory 创建 CSVFactory。
func NewCSVFactory(path string) *CSVFactory {
	return &CSVFactory{path: path}
}

// Open 实现 Factory。
func (f *CSVFactory) Open(ctx context.Context, instrument, timeframe string, start, end time.Time) (BarSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("source: 打开CSV文件失败: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	var rows []csvBar
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, fmt.Errorf("source: 解析CSV文件失败: %w", err)
	}

	filtered := make([]csvBar, 0, len(rows))
	for _, row := range rows {
		if row.Symbol != instrument {
			continue
		}
		if row.Timeframe != "" && row.Timeframe != timeframe {
			continue
		}
		filtered = append(filtered, row)
	}

	result := toDomainBars(filtered, instrument, timeframe)
	return NewSliceSource(filterRange(result, start, end)), nil
}

func toDomainBars(rows []csvBar, instrument, timeframe string) []domain.Bar {
	bars := make([]domain.Bar, 0, len(rows))
	for _, row := range rows {
		bars = append(bars, domain.Bar{
			InstrumentID: instrument,
			Timestamp:    row.Timestamp.Time,
			Timeframe:    timeframe,
			Open:         row.Open,
			High:         row.High,
			Low:          row.Low,
			Close:        row.Close,
			Volume:       row.Volume,
			VWAP:         row.VWAP,
			TradeCount:   row.TradeCount,
		})
	}
	return bars
}
