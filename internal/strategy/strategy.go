// Package strategy 定义策略接口与内置策略实现。
// 策略是外部可插拔能力：引擎只依赖 Strategy 接口，
// 具体变体在会话装配时通过 Registry 选择。
package strategy

import (
	"context"
	"fmt"
	"sort"

	"simtrader/internal/domain"
)

// State 为策略可见的账户状态，由模拟循环在每根K线传入。
type State struct {
	Cash     float64
	Equity   float64
	Position domain.Position
}

// Strategy 为所有交易策略必须实现的能力接口。
type Strategy interface {
	// Name 返回策略唯一标识。
	Name() string

	// Initialize 在回测开始前用参数集完成一次性初始化。
	Initialize(params map[string]any) error

	// OnBar 处理一根新K线，返回零个或多个交易信号。
	OnBar(ctx context.Context, bar domain.Bar, state State) ([]domain.Signal, error)
}

// Constructor 创建策略实例。策略带有会话内状态，
// 每个会话必须使用独立实例。
type Constructor func() Strategy

// Registry 按名称管理策略构造函数。
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry 创建空的策略注册表。
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

// Register 注册策略构造函数。
func (r *Registry) Register(name string, ctor Constructor) {
	r.constructors[name] = ctor
}

// Create 按名称创建策略实例。
func (r *Registry) Create(name string) (Strategy, error) {
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("strategy: 未注册的策略 %q", name)
	}
	return ctor(), nil
}

// List 返回已注册的策略名称，按字典序排列。
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry 返回注册了全部内置策略的注册表。
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("sma_cross", func() Strategy { return NewSMACross() })
	r.Register("rsi", func() Strategy { return NewRSI() })
	r.Register("bollinger", func() Strategy { return NewBollinger() })
	return r
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	value, ok := params[key]
	if !ok {
		return fallback
	}
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

func intParam(params map[string]any, key string, fallback int) int {
	return int(floatParam(params, key, float64(fallback)))
}
