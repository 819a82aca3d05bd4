package broker

import (
	"fmt"
	"time"
)

// APIError represents a non-2xx response from the bridge, grounded on the
// teacher's TradierAPI APIError.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bridge error %d: %s", e.Status, e.Body)
}

// SymbolInfo describes a tradable instrument's broker-side metadata.
type SymbolInfo struct {
	Symbol       string  `json:"symbol"`
	Point        float64 `json:"point"`
	TickSize     float64 `json:"tick_size"`
	LotStep      float64 `json:"lot_step"`
	MinLot       float64 `json:"min_lot"`
	MaxLot       float64 `json:"max_lot"`
	ContractSize float64 `json:"contract_size"`
	TradeAllowed bool    `json:"trade_allowed"`
	Spread       float64 `json:"spread"`
	StopsLevel   int     `json:"stops_level"` // minimum SL/TP distance from price, in points
}

// AccountInfo mirrors the /account response body.
type AccountInfo struct {
	Balance      float64 `json:"balance"`
	Equity       float64 `json:"equity"`
	Margin       float64 `json:"margin"`
	FreeMargin   float64 `json:"free_margin"`
	Currency     string  `json:"currency"`
	TradeAllowed bool    `json:"trade_allowed"`
}

// RateBar mirrors one element of the /rates response array.
type RateBar struct {
	Time   int64   `json:"time"` // unix seconds, UTC
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// OpenTime converts the wire-format unix timestamp to a UTC time.Time,
// coercing naive broker timestamps to UTC per spec.md §4.6.
func (r RateBar) OpenTime() time.Time {
	return time.Unix(r.Time, 0).UTC()
}

// PositionInfo mirrors one element of the /positions response array. Only
// fields the broker can supply are present; engine-only fields (peak
// excursion, opened_by) are filled in by PositionTracker.
type PositionInfo struct {
	TicketID    int64   `json:"ticket"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"` // "long" | "short"
	Lot         float64 `json:"lot"`
	EntryPrice  float64 `json:"entry_price"`
	EntryTime   int64   `json:"entry_time"`
	SL          float64 `json:"sl"`
	TP          float64 `json:"tp"`
	CurrentPnL  float64 `json:"pnl"`
	MagicNumber int64   `json:"magic"`
}

// OrderRequest is the body of POST /order.
type OrderRequest struct {
	Symbol  string  `json:"symbol"`
	Side    string  `json:"side"`
	Lot     float64 `json:"lot"`
	SL      float64 `json:"sl,omitempty"`
	TP      float64 `json:"tp,omitempty"`
	Magic   int64   `json:"magic"`
	Comment string  `json:"comment,omitempty"`
}

// OrderResult is the response body of POST /order.
type OrderResult struct {
	TicketID       int64   `json:"ticket"`
	FillPrice      float64 `json:"price"`
	SlippagePoints float64 `json:"slippage"`
	LatencyMS      int64   `json:"latency_ms"`
}

// ModifyRequest is the body of POST /modify.
type ModifyRequest struct {
	TicketID int64   `json:"ticket"`
	SL       float64 `json:"sl,omitempty"`
	TP       float64 `json:"tp,omitempty"`
}

// CloseRequest is the body of POST /close.
type CloseRequest struct {
	TicketID int64    `json:"ticket"`
	Lot      *float64 `json:"lot,omitempty"`
}

// CloseResult is the response body of POST /close.
type CloseResult struct {
	RealizedPnL float64 `json:"pnl"`
	ExitPrice   float64 `json:"price"`
}

// HealthResult is the response body of GET /health.
type HealthResult struct {
	OK        bool  `json:"ok"`
	LatencyMS int64 `json:"latency_ms"`
}
