package brokerhub

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/engine"
	"brokerhub/internal/httpapi"
)

func newServer(t *testing.T) *Client {
	t.Helper()
	sim := broker.NewSimulatorBroker(1000, []domain.Symbol{{Board: "TQBR", Code: "SBER"}}, nil)
	s := engine.NewSession(sim, engine.Options{Account: "acc"})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewSessionServer(s, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return NewClient(srv.URL)
}

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080"
	c := NewClient(baseURL)
	if c.baseURL != baseURL {
		t.Errorf("expected baseURL %q, got %q", baseURL, c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestClientRoundTrip(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	o, err := c.SubmitOrder(ctx, OrderRequest{Symbol: "TQBR.SBER", Side: "buy", Type: "limit", Qty: 1, Price: 10})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if o.Status != "accepted" || o.Ref != 1 {
		t.Errorf("SubmitOrder = %+v, want accepted #1", o)
	}

	active, err := c.GetOrders(ctx, true)
	if err != nil || len(active) != 1 {
		t.Fatalf("GetOrders(active) = %v, %v; want one order", active, err)
	}

	if err := c.CancelOrder(ctx, o.Ref); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	got, err := c.GetOrder(ctx, o.Ref)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != "canceled" {
		t.Errorf("status after cancel = %q, want canceled", got.Status)
	}

	acct, err := c.GetAccount(ctx)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Account != "acc" || acct.Cash != 1000 {
		t.Errorf("GetAccount = %+v", acct)
	}
	positions, err := c.GetPositions(ctx)
	if err != nil || len(positions) != 0 {
		t.Errorf("GetPositions = %v, %v; want none", positions, err)
	}
}

func TestClientErrors(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	_, err := c.SubmitOrder(ctx, OrderRequest{Symbol: "TQBR.SBER", Side: "buy", Type: "market", Qty: 0})
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("SubmitOrder(qty 0) error = %v, want *RejectedError", err)
	}
	if rej.Order.Status != "rejected" {
		t.Errorf("rejected order status = %q", rej.Order.Status)
	}

	if _, err := c.GetOrder(ctx, 42); err == nil {
		t.Error("GetOrder(42) returned no error for a missing order")
	}
}
