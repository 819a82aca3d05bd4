package engine

import (
	"context"
	"time"

	"cthuluengine/internal/broker"
	"cthuluengine/internal/risk"
)

// symbolInfo returns a cached broker.SymbolInfo, refreshing it at most once
// per symbolCacheTTL. Grounded on the teacher's getMarketCalendar
// mutex-guarded, staleness-checked cache in cmd/bot/main.go: symbol
// metadata (lot step, stops_level, contract size) is broker-side
// configuration that changes far less often than once per poll cycle.
func (l *TradingLoop) symbolInfo(ctx context.Context, symbol string) (broker.SymbolInfo, error) {
	l.symMu.Lock()
	if l.symCache != nil && time.Since(l.symCacheAt) < symbolCacheTTL {
		cached := *l.symCache
		l.symMu.Unlock()
		return cached, nil
	}
	l.symMu.Unlock()

	info, err := l.deps.Broker.SymbolInfo(ctx, symbol)
	if err != nil {
		l.symMu.Lock()
		cached := l.symCache
		l.symMu.Unlock()
		if cached != nil {
			return *cached, nil
		}
		return broker.SymbolInfo{}, err
	}

	l.symMu.Lock()
	l.symCache = info
	l.symCacheAt = time.Now()
	l.symMu.Unlock()
	return *info, nil
}

// symbolMeta converts the broker's reported metadata plus the
// engine-derived pip value and operator-configured leverage into the
// risk.SymbolMeta gate 8-9 shape.
func symbolMeta(sym broker.SymbolInfo, leverage float64) risk.SymbolMeta {
	return risk.SymbolMeta{
		LotStep:        sym.LotStep,
		MinLot:         sym.MinLot,
		MaxLot:         sym.MaxLot,
		ContractSize:   sym.ContractSize,
		PipValue:       sym.ContractSize * sym.Point,
		MarginLeverage: leverage,
	}
}
