// Package catalog 维护标的参考数据，回测期间只读。
package catalog

import (
	"fmt"
	"math"
	"sort"

	"simtrader/internal/config"
)

// Instrument 描述单个标的的参考数据。
type Instrument struct {
	Symbol   string
	TickSize float64
	LotSize  float64
	Currency string
}

// RoundPrice 将价格对齐到最小变动价位。
func (i Instrument) RoundPrice(price float64) float64 {
	if i.TickSize <= 0 {
		return price
	}
	return math.Round(price/i.TickSize) * i.TickSize
}

// RoundQuantity 将数量向下对齐到最小交易单位。
func (i Instrument) RoundQuantity(quantity float64) float64 {
	if i.LotSize <= 0 {
		return quantity
	}
	return math.Floor(quantity/i.LotSize) * i.LotSize
}

// Catalog 为标的参考数据的只读集合。
type Catalog struct {
	instruments map[string]Instrument
}

// New 从配置构建 Catalog。
func New(items []config.InstrumentConfig) (*Catalog, error) {
	instruments := make(map[string]Instrument, len(items))
	for _, item := range items {
		if _, ok := instruments[item.Symbol]; ok {
			return nil, fmt.Errorf("catalog: 标的 %q 重复定义", item.Symbol)
		}
		currency := item.Currency
		if currency == "" {
			currency = "USD"
		}
		instruments[item.Symbol] = Instrument{
			Symbol:   item.Symbol,
			TickSize: item.TickSize,
			LotSize:  item.LotSize,
			Currency: currency,
		}
	}
	return &Catalog{instruments: instruments}, nil
}

// Lookup 按符号查找标的。
func (c *Catalog) Lookup(symbol string) (Instrument, bool) {
	inst, ok := c.instruments[symbol]
	return inst, ok
}

// Symbols 返回已登记的全部标的符号，按字典序排列。
func (c *Catalog) Symbols() []string {
	symbols := make([]string, 0, len(c.instruments))
	for symbol := range c.instruments {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
