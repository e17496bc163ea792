// Package runner 并发调度多个回测会话。
package runner

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"simtrader/internal/backtest"
)

// SessionResult 保留单个会话的结果与错误，
// 单个会话失败不会中断其余会话。
type SessionResult struct {
	Index  int
	Result *backtest.Result
	Err    error
}

// Runner 以有限并发度运行一组引擎。
type Runner struct {
	maxConcurrent int
	logger        *zap.Logger
}

// New 创建 Runner。并发度小于1时按1处理。
func New(maxConcurrent int, logger *zap.Logger) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// RunAll 并发执行全部引擎，结果按传入顺序返回。
// 仅上下文取消会提前终止整批会话。
func (r *Runner) RunAll(ctx context.Context, engines []*backtest.Engine) []SessionResult {
	results := make([]SessionResult, len(engines))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(r.maxConcurrent)

	for i, engine := range engines {
		group.Go(func() error {
			result, err := engine.Run(ctx)
			results[i] = SessionResult{Index: i, Result: result, Err: err}

			if err != nil {
				r.logger.Warn("会话执行失败",
					zap.Int("index", i),
					zap.Error(err))
			}
			// 会话失败不取消其他会话。
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}

	_ = group.Wait()
	return results
}
