// Package brokerhub is a Go client for the brokerd HTTP API.
package brokerhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Order mirrors the server's order representation.
type Order struct {
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

// OrderRequest is the body of an order submission.
type OrderRequest struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Type      string  `json:"type"`
	Qty       int64   `json:"qty"`
	Price     float64 `json:"price,omitempty"`
	StopPrice float64 `json:"stopPrice,omitempty"`
	OCO       int64   `json:"oco,omitempty"`
	Parent    int64   `json:"parent,omitempty"`
	Hold      bool    `json:"hold,omitempty"`
}

// Position mirrors the server's position representation.
type Position struct {
	Symbol    string  `json:"symbol"`
	Qty       int64   `json:"qty"`
	AvgPrice  float64 `json:"avgPrice"`
	LastPrice float64 `json:"lastPrice,omitempty"`
	ChangePct float64 `json:"changePct"`
}

// Account summarizes the account.
type Account struct {
	Account string  `json:"account"`
	Cash    float64 `json:"cash"`
	Value   float64 `json:"value"`
}

// RejectedError is returned by SubmitOrder when the server refused the
// order. Order holds the rejected order with its reason.
type RejectedError struct {
	Order Order
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("order #%d rejected: %s", e.Order.Ref, e.Order.Reason)
}

// Client provides a Go SDK for interacting with the brokerd API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new brokerd API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusUnprocessableEntity {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return resp.StatusCode, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
	}
	if out != nil && resp.StatusCode != http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// GetOrders retrieves all orders, or only live ones when active is set.
func (c *Client) GetOrders(ctx context.Context, active bool) ([]Order, error) {
	path := "/api/orders"
	if active {
		path += "?active=1"
	}
	var out []Order
	_, err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// GetOrder retrieves one order by local ref.
func (c *Client) GetOrder(ctx context.Context, ref int64) (Order, error) {
	var out Order
	_, err := c.do(ctx, http.MethodGet, "/api/orders/"+strconv.FormatInt(ref, 10), nil, &out)
	return out, err
}

// SubmitOrder submits a new order. A refused order yields *RejectedError.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (Order, error) {
	var out Order
	status, err := c.do(ctx, http.MethodPost, "/api/orders", req, &out)
	if err != nil {
		return out, err
	}
	if status == http.StatusUnprocessableEntity {
		return out, &RejectedError{Order: out}
	}
	return out, nil
}

// CancelOrder requests cancellation of an order.
func (c *Client) CancelOrder(ctx context.Context, ref int64) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/orders/"+strconv.FormatInt(ref, 10), nil, nil)
	return err
}

// GetPositions retrieves current positions.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var out []Position
	_, err := c.do(ctx, http.MethodGet, "/api/positions", nil, &out)
	return out, err
}

// GetAccount retrieves account cash and position value.
func (c *Client) GetAccount(ctx context.Context) (Account, error) {
	var out Account
	_, err := c.do(ctx, http.MethodGet, "/api/account", nil, &out)
	return out, err
}
