// Package persist 将回测产物持久化到SQLite。
// 写入失败只记录日志、不反馈给模拟循环，持久化永远不阻塞回测。
package persist

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"simtrader/internal/domain"
	"simtrader/internal/store"
)

// Recorder 实现 backtest.Recorder，按会话归档订单、成交、
// 快照与绩效指标。会话与订单采用 INSERT OR REPLACE，
// 同一对象的多次记录覆盖为最新状态。
type Recorder struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRecorder 初始化持久化器并建表。
func NewRecorder(store *store.Store, logger *zap.Logger) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("persist: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		db:     store.DB(),
		logger: logger,
	}

	if err := r.initSchema(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Recorder) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS backtest_sessions (
	id TEXT PRIMARY KEY,
	strategy TEXT NOT NULL,
	parameters TEXT NOT NULL,
	instrument TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date TEXT NOT NULL,
	initial_cash REAL NOT NULL,
	status TEXT NOT NULL,
	fail_reason TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	completed_at TEXT
);
CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	type TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	limit_price REAL NOT NULL DEFAULT 0,
	stop_price REAL NOT NULL DEFAULT 0,
	time_in_force TEXT NOT NULL,
	status TEXT NOT NULL,
	filled_quantity REAL NOT NULL DEFAULT 0,
	avg_fill_price REAL NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	cancel_reason TEXT NOT NULL DEFAULT '',
	submitted_at TEXT,
	executed_at TEXT,
	cancelled_at TEXT,
	FOREIGN KEY (session_id) REFERENCES backtest_sessions(id)
);
CREATE INDEX IF NOT EXISTS idx_orders_session ON orders(session_id);
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	side TEXT NOT NULL,
	price REAL NOT NULL,
	quantity REAL NOT NULL,
	commission REAL NOT NULL,
	slippage REAL NOT NULL,
	FOREIGN KEY (session_id) REFERENCES backtest_sessions(id)
);
CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(session_id);
CREATE TABLE IF NOT EXISTS snapshots (
	session_id TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	cash REAL NOT NULL,
	equity REAL NOT NULL,
	position_value REAL NOT NULL,
	margin_used REAL NOT NULL,
	margin_available REAL NOT NULL,
	unrealized_pnl REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	PRIMARY KEY (session_id, timestamp),
	FOREIGN KEY (session_id) REFERENCES backtest_sessions(id)
);
CREATE TABLE IF NOT EXISTS metrics (
	session_id TEXT PRIMARY KEY,
	total_return REAL NOT NULL,
	annualized_return REAL NOT NULL,
	sharpe_ratio REAL NOT NULL,
	sortino_ratio REAL NOT NULL,
	volatility REAL NOT NULL,
	max_drawdown REAL NOT NULL,
	drawdown_bars INTEGER NOT NULL,
	win_rate REAL NOT NULL,
	profit_factor REAL NOT NULL,
	avg_win_loss_ratio REAL NOT NULL,
	avg_holding_bars REAL NOT NULL,
	total_trades INTEGER NOT NULL,
	winning_trades INTEGER NOT NULL,
	losing_trades INTEGER NOT NULL,
	final_equity REAL NOT NULL,
	created_at TEXT NOT NULL,
	FOREIGN KEY (session_id) REFERENCES backtest_sessions(id)
);
`
	if _, err := r.db.Exec(stmt); err != nil {
		return fmt.Errorf("persist: 初始化表失败: %w", err)
	}
	return nil
}

// RecordSession 归档会话，状态推进时覆盖写入。
func (r *Recorder) RecordSession(session *domain.Session) {
	params, err := json.Marshal(session.Parameters)
	if err != nil {
		r.logger.Warn("序列化会话参数失败", zap.String("session_id", session.ID), zap.Error(err))
		params = []byte("{}")
	}

	_, err = r.db.Exec(
		`INSERT OR REPLACE INTO backtest_sessions
		(id, strategy, parameters, instrument, timeframe, start_date, end_date, initial_cash, status, fail_reason, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.StrategyName, string(params), session.InstrumentID, session.Timeframe,
		session.StartDate.Format(time.RFC3339), session.EndDate.Format(time.RFC3339),
		session.InitialCash, string(session.Status), session.FailReason,
		session.CreatedAt.Format(time.RFC3339), nullableTime(session.CompletedAt),
	)
	if err != nil {
		r.logger.Warn("写入会话失败", zap.String("session_id", session.ID), zap.Error(err))
	}
}

// RecordOrder 归档订单，状态推进时覆盖写入。
func (r *Recorder) RecordOrder(order *domain.Order) {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO orders
		(id, session_id, instrument, type, side, quantity, limit_price, stop_price, time_in_force,
		 status, filled_quantity, avg_fill_price, reason, cancel_reason, submitted_at, executed_at, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.SessionID, order.InstrumentID, string(order.Type), string(order.Side),
		order.Quantity, order.LimitPrice, order.StopPrice, string(order.TimeInForce),
		string(order.Status), order.FilledQty, order.AvgFillPrice, order.Reason, order.CancelReason,
		nullableTime(order.SubmittedAt), nullableTime(order.ExecutedAt), nullableTime(order.CancelledAt),
	)
	if err != nil {
		r.logger.Warn("写入订单失败", zap.String("order_id", order.ID), zap.Error(err))
	}
}

// RecordTrade 归档成交。
func (r *Recorder) RecordTrade(trade *domain.Trade) {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO trades
		(id, order_id, session_id, instrument, timestamp, side, price, quantity, commission, slippage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.OrderID, trade.SessionID, trade.Instrument,
		trade.Timestamp.Format(time.RFC3339), string(trade.Side),
		trade.Price, trade.Quantity, trade.Commission, trade.Slippage,
	)
	if err != nil {
		r.logger.Warn("写入成交失败", zap.String("trade_id", trade.ID), zap.Error(err))
	}
}

// RecordSnapshot 归档账户快照。
func (r *Recorder) RecordSnapshot(snapshot domain.PortfolioSnapshot) {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO snapshots
		(session_id, timestamp, cash, equity, position_value, margin_used, margin_available, unrealized_pnl, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snapshot.SessionID, snapshot.Timestamp.Format(time.RFC3339),
		snapshot.Cash, snapshot.Equity, snapshot.PositionValue,
		snapshot.MarginUsed, snapshot.MarginAvailable,
		snapshot.UnrealizedPnL, snapshot.RealizedPnL,
	)
	if err != nil {
		r.logger.Warn("写入快照失败", zap.String("session_id", snapshot.SessionID), zap.Error(err))
	}
}

// RecordMetrics 归档绩效指标。比率字段可能为 +Inf 哨兵值，
// SQLite 的 REAL 可以原样保存，因此逐列写入而非JSON。
func (r *Recorder) RecordMetrics(metrics domain.PerformanceMetrics) {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO metrics
		(session_id, total_return, annualized_return, sharpe_ratio, sortino_ratio, volatility,
		 max_drawdown, drawdown_bars, win_rate, profit_factor, avg_win_loss_ratio, avg_holding_bars,
		 total_trades, winning_trades, losing_trades, final_equity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		metrics.SessionID, metrics.TotalReturn, metrics.AnnualizedReturn,
		metrics.SharpeRatio, metrics.SortinoRatio, metrics.Volatility,
		metrics.MaxDrawdown, metrics.DrawdownBars, metrics.WinRate,
		metrics.ProfitFactor, metrics.AvgWinLossRatio, metrics.AvgHoldingBars,
		metrics.TotalTrades, metrics.WinningTrades, metrics.LosingTrades,
		metrics.FinalEquity, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		r.logger.Warn("写入指标失败", zap.String("session_id", metrics.SessionID), zap.Error(err))
	}
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}
