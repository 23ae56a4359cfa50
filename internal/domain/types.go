// Package domain defines the broker-agnostic value types shared by the order
// lifecycle core and every broker adapter: symbols, bars, orders, trades and
// positions.
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

// Symbol is the resolved identity of a tradable instrument. Name is the
// canonical display name ("BOARD.CODE") used as the cross-adapter join key.
type Symbol struct {
	Board       string
	Code        string
	Name        string
	Description string
	Decimals    int
	MinStep     float64
	LotSize     int64

	// BrokerInfo is opaque to everything but the adapter that produced it.
	BrokerInfo any
}

// DisplayName joins a board and an instrument code into a display name.
func DisplayName(board, code string) string {
	return board + "." + code
}

// SplitDisplayName splits a display name into board and code. A name without a
// board yields an empty board.
func SplitDisplayName(name string) (board, code string) {
	i := strings.Index(name, ".")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

// Lots converts a quantity in units into whole lots, truncating.
func (s Symbol) Lots(units int64) int64 {
	if s.LotSize <= 1 {
		return units
	}
	return units / s.LotSize
}

// Units converts a lot count into units.
func (s Symbol) Units(lots int64) int64 {
	if s.LotSize <= 1 {
		return lots
	}
	return lots * s.LotSize
}

// FormatPrice renders a price with the symbol's precision.
func (s Symbol) FormatPrice(p float64) string {
	return FormatPrice(p, s.Decimals)
}

// FormatPrice renders p as an integer when decimals is 0, with two places
// when decimals is at most 2, and with the given number of places otherwise.
func FormatPrice(p float64, decimals int) string {
	switch {
	case decimals <= 0:
		return fmt.Sprintf("%d", int64(p))
	case decimals <= 2:
		return fmt.Sprintf("%.2f", p)
	default:
		return fmt.Sprintf("%.*f", decimals, p)
	}
}

// ---------------------------------------------------------------------------
// Bars
// ---------------------------------------------------------------------------

// Bar is one OHLCV candle. Time is the bar open in venue-local time and
// Volume is expressed in units, not lots.
type Bar struct {
	Board     string
	Code      string
	Symbol    string
	TimeFrame TimeFrame
	Time      time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// ExecType is the execution type of an order.
type ExecType string

const (
	ExecMarket    ExecType = "market"
	ExecLimit     ExecType = "limit"
	ExecStop      ExecType = "stop"
	ExecStopLimit ExecType = "stop_limit"

	// Recognised but not supported by any adapter.
	ExecClose          ExecType = "close"
	ExecStopTrail      ExecType = "stop_trail"
	ExecStopTrailLimit ExecType = "stop_trail_limit"
	ExecHistorical     ExecType = "historical"
)

// Supported reports whether adapters can execute this type.
func (t ExecType) Supported() bool {
	switch t {
	case ExecMarket, ExecLimit, ExecStop, ExecStopLimit:
		return true
	default:
		return false
	}
}

// OrderStatus is a state of the order lifecycle.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCanceled  OrderStatus = "canceled"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusMargin    OrderStatus = "margin"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCanceled, OrderStatusExpired, OrderStatusMargin, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// OrderRequest describes an order a caller wants to place.
//
// Transmit set to false queues the order locally; a parent created that way
// becomes the root of a child chain, and children with Transmit false wait
// for the final Transmit true child before anything reaches the broker.
type OrderRequest struct {
	Account   string
	Symbol    string
	Side      Side
	Type      ExecType
	Qty       int64
	Price     float64 // limit price (Limit, StopLimit)
	StopPrice float64 // trigger price (Stop, StopLimit)
	OCO       int64   // ref of the one-cancels-other sibling, 0 for none
	Parent    int64   // ref of the parent order, 0 for none
	Transmit  bool
}

// Execution summarises the fills applied to an order so far.
type Execution struct {
	Qty       int64   // cumulative filled units
	AvgPrice  float64 // volume-weighted fill price
	Opened    int64   // cumulative units that opened exposure
	Closed    int64   // cumulative units that closed exposure
	PosSize   int64   // position size after the latest fill
	PosPrice  float64 // position average price after the latest fill
	LastTime  time.Time
	LastPrice float64
}

// Order is the local view of an order. Ref is assigned on creation and never
// changes; BrokerID is empty until the broker accepts the submission.
type Order struct {
	Ref       int64
	BrokerID  string
	Account   string
	Symbol    string
	Side      Side
	Type      ExecType
	Qty       int64
	Price     float64
	StopPrice float64
	Status    OrderStatus
	Reason    string

	OCO      int64
	Parent   int64
	Transmit bool

	// Triggered marks a StopLimit whose stop price has been reached.
	Triggered bool

	Executed  Execution
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining returns the unfilled quantity in units.
func (o *Order) Remaining() int64 {
	r := o.Qty - o.Executed.Qty
	if r < 0 {
		return 0
	}
	return r
}

// Alive reports whether the order can still change state.
func (o *Order) Alive() bool {
	return !o.Status.Terminal()
}

// DisplayPrice is the price a user should see: none for market orders, the
// limit for limit orders, and the trigger for stops until a StopLimit has
// triggered, after which its limit price applies.
func (o *Order) DisplayPrice() float64 {
	switch o.Type {
	case ExecMarket:
		return 0
	case ExecLimit:
		return o.Price
	case ExecStopLimit:
		if o.Triggered {
			return o.Price
		}
		return o.StopPrice
	default:
		return o.StopPrice
	}
}

// Clone returns a copy safe to hand to other goroutines.
func (o *Order) Clone() Order {
	return *o
}

// String renders a one-line description of the order.
func (o *Order) String() string {
	return fmt.Sprintf("#%d %s %s %s %s %d @ %g", o.Ref, o.Status, o.Side, o.Type, o.Symbol, o.Qty, o.DisplayPrice())
}

// OrderUpdate is an out-of-band status push from a broker.
type OrderUpdate struct {
	BrokerID string
	Status   OrderStatus
	Reason   string
	Time     time.Time
}

// ---------------------------------------------------------------------------
// Trades
// ---------------------------------------------------------------------------

// TradeKey identifies a broker execution for de-duplication.
type TradeKey struct {
	ID     string
	Venue  string
	Symbol string
}

// String renders the key as "venue:symbol:id".
func (k TradeKey) String() string {
	return k.Venue + ":" + k.Symbol + ":" + k.ID
}

// Trade is one fill of a broker order. Qty is signed: positive for buys,
// negative for sells. Historical marks replays of executions that happened
// before the current connection.
type Trade struct {
	BrokerOrderID string
	Symbol        string
	Qty           int64
	Price         float64
	Time          time.Time
	Key           TradeKey
	Historical    bool
}

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// Position is the signed holding of one instrument in one account. A flat
// position has Qty 0 and its AvgPrice must not be used.
type Position struct {
	Account   string
	Symbol    string
	Qty       int64
	AvgPrice  float64
	LastPrice float64
}

// Flat reports whether the position holds nothing.
func (p Position) Flat() bool {
	return p.Qty == 0
}

// Value returns the market value at the last known price.
func (p Position) Value() float64 {
	return float64(p.Qty) * p.LastPrice
}

// ChangePct returns the price change since entry in percent, signed by the
// direction of the position.
func (p Position) ChangePct() float64 {
	if p.AvgPrice == 0 || p.Qty == 0 {
		return 0
	}
	return math.Copysign(1, float64(p.Qty)) * (p.LastPrice/p.AvgPrice - 1) * 100
}
