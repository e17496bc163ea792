package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"simtrader/internal/domain"
	"simtrader/internal/store"
)

// SQLiteFactory 从 SQLite 的 bars 表读取K线。
type SQLiteFactory struct {
	db *sql.DB
}

// NewSQLiteFactory 创建 SQLiteFactory 并确保表结构存在。
func NewSQLiteFactory(st *store.Store) (*SQLiteFactory, error) {
	if st == nil {
		return nil, fmt.Errorf("source: store 不能为空")
	}

	f := &SQLiteFactory{db: st.DB()}
	if err := f.initSchema(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *SQLiteFactory) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS bars (
	instrument_id TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume REAL NOT NULL,
	vwap REAL,
	trade_count INTEGER,
	PRIMARY KEY (instrument_id, timeframe, timestamp)
);
`
	if _, err := f.db.Exec(stmt); err != nil {
		return fmt.Errorf("source: 初始化 bars 表失败: %w", err)
	}
	return nil
}

// InsertBars 批量写入K线，主要供数据准备与测试使用。
func (f *SQLiteFactory) InsertBars(ctx context.Context, bars []domain.Bar) error {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("source: 开启事务失败: %w", err)
	}

	stmt := `INSERT OR REPLACE INTO bars
		(instrument_id, timeframe, timestamp, open, high, low, close, volume, vwap, trade_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, bar := range bars {
		if _, err := tx.ExecContext(ctx, stmt,
			bar.InstrumentID, bar.Timeframe, bar.Timestamp.UTC().Format(time.RFC3339),
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.VWAP, bar.TradeCount,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("source: 写入K线失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("source: 提交事务失败: %w", err)
	}
	return nil
}

// Open 实现 Factory。
func (f *SQLiteFactory) Open(ctx context.Context, instrument, timeframe string, start, end time.Time) (BarSource, error) {
	rows, err := f.db.QueryContext(ctx, `
SELECT timestamp, open, high, low, close, volume, COALESCE(vwap, 0), COALESCE(trade_count, 0)
FROM bars
WHERE instrument_id = ? AND timeframe = ? AND timestamp BETWEEN ? AND ?
ORDER BY timestamp`,
		instrument, timeframe,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("source: 查询K线失败: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var bars []domain.Bar
	for rows.Next() {
		var (
			ts  string
			bar domain.Bar
		)
		if err := rows.Scan(&ts, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume, &bar.VWAP, &bar.TradeCount); err != nil {
			return nil, fmt.Errorf("source: 读取K线失败: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("source: K线时间格式无效: %w", err)
		}
		bar.InstrumentID = instrument
		bar.Timeframe = timeframe
		bar.Timestamp = parsed.UTC()
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source: 遍历K线失败: %w", err)
	}

	return NewSliceSource(bars), nil
}
