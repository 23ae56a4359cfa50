// Package httpapi serves a JSON view of one trading session: orders,
// positions and cash, plus order submission and cancellation.
package httpapi

import (
	"time"

	"brokerhub/internal/domain"
)

// OrderJSON is the JSON representation of an order.
type OrderJSON struct {
	Ref       int64   `json:"ref"`
	BrokerID  string  `json:"brokerId,omitempty"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Type      string  `json:"type"`
	Qty       int64   `json:"qty"`
	Price     float64 `json:"price,omitempty"`
	StopPrice float64 `json:"stopPrice,omitempty"`
	Status    string  `json:"status"`
	Reason    string  `json:"reason,omitempty"`
	OCO       int64   `json:"oco,omitempty"`
	Parent    int64   `json:"parent,omitempty"`
	Filled    int64   `json:"filled"`
	AvgPrice  float64 `json:"avgPrice,omitempty"`
	Updated   string  `json:"updated,omitempty"`
}

func orderJSON(o domain.Order) OrderJSON {
	out := OrderJSON{
		Ref:       o.Ref,
		BrokerID:  o.BrokerID,
		Symbol:    o.Symbol,
		Side:      string(o.Side),
		Type:      string(o.Type),
		Qty:       o.Qty,
		Price:     o.Price,
		StopPrice: o.StopPrice,
		Status:    string(o.Status),
		Reason:    o.Reason,
		OCO:       o.OCO,
		Parent:    o.Parent,
		Filled:    o.Executed.Qty,
		AvgPrice:  o.Executed.AvgPrice,
	}
	if !o.UpdatedAt.IsZero() {
		out.Updated = o.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// PositionJSON is the JSON representation of a position.
type PositionJSON struct {
	Symbol    string  `json:"symbol"`
	Qty       int64   `json:"qty"`
	AvgPrice  float64 `json:"avgPrice"`
	LastPrice float64 `json:"lastPrice,omitempty"`
	ChangePct float64 `json:"changePct"`
}

func positionJSON(p domain.Position) PositionJSON {
	return PositionJSON{
		Symbol:    p.Symbol,
		Qty:       p.Qty,
		AvgPrice:  p.AvgPrice,
		LastPrice: p.LastPrice,
		ChangePct: p.ChangePct(),
	}
}

// SubmitRequest is the body of POST /api/orders.
type SubmitRequest struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Type      string  `json:"type"`
	Qty       int64   `json:"qty"`
	Price     float64 `json:"price,omitempty"`
	StopPrice float64 `json:"stopPrice,omitempty"`
	OCO       int64   `json:"oco,omitempty"`
	Parent    int64   `json:"parent,omitempty"`
	Hold      bool    `json:"hold,omitempty"` // queue without transmitting
}

func (r SubmitRequest) orderRequest() domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:    r.Symbol,
		Side:      domain.Side(r.Side),
		Type:      domain.ExecType(r.Type),
		Qty:       r.Qty,
		Price:     r.Price,
		StopPrice: r.StopPrice,
		OCO:       r.OCO,
		Parent:    r.Parent,
		Transmit:  !r.Hold,
	}
}

// AccountJSON summarizes the account.
type AccountJSON struct {
	Account string  `json:"account"`
	Cash    float64 `json:"cash"`
	Value   float64 `json:"value"`
}
