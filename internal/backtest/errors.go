package backtest

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyTerminal 表示对终态订单执行了无效操作，
	// 调用方收到该错误后不应重试，操作本身为空操作。
	ErrAlreadyTerminal = errors.New("backtest: 订单已处于终态")

	// ErrOrderNotFound 表示订单不存在。
	ErrOrderNotFound = errors.New("backtest: 订单不存在")
)

// ConfigurationError 表示会话配置无效，在循环开始前致命退出。
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("backtest: 配置错误: %s", e.Reason)
}

// DataGapError 表示K线序列存在缺口。按配置可致命或跳过。
type DataGapError struct {
	InstrumentID string
	Expected     time.Time
	Actual       time.Time
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("backtest: %s 数据缺口: 期望 %s 实际 %s",
		e.InstrumentID, e.Expected.Format(time.RFC3339), e.Actual.Format(time.RFC3339))
}

// StrategyError 表示策略初始化、信号生成失败或返回非法信号，致命。
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("backtest: 策略 %s 执行失败: %v", e.Strategy, e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

// FillModelError 表示撮合模型产生了非法结果（如负价格），
// 属于建模缺陷而非可恢复的运行时状况，致命。
type FillModelError struct {
	OrderID string
	Reason  string
}

func (e *FillModelError) Error() string {
	return fmt.Sprintf("backtest: 撮合模型错误 (order=%s): %s", e.OrderID, e.Reason)
}
