// Package orders holds the local order book and the order state machine.
// Orders are never removed: terminal orders stay queryable for linked-order
// reconciliation and history.
package orders

import (
	"fmt"
	"iter"
	"time"

	"brokerhub/internal/domain"
)

// Book is the single authority mapping broker ids back to local orders. It is
// not safe for concurrent use.
type Book struct {
	seq      int64
	byRef    map[int64]*domain.Order
	byBroker map[string]*domain.Order
	refs     []int64

	// now is replaceable in tests.
	now func() time.Time
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{
		byRef:    make(map[int64]*domain.Order),
		byBroker: make(map[string]*domain.Order),
		now:      time.Now,
	}
}

// Create registers a new order in Created state with the next local ref.
func (b *Book) Create(req domain.OrderRequest) *domain.Order {
	b.seq++
	now := b.now()
	o := &domain.Order{
		Ref:       b.seq,
		Account:   req.Account,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Qty:       req.Qty,
		Price:     req.Price,
		StopPrice: req.StopPrice,
		Status:    domain.OrderStatusCreated,
		OCO:       req.OCO,
		Parent:    req.Parent,
		Transmit:  req.Transmit,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if o.Type == domain.ExecMarket {
		o.Price, o.StopPrice = 0, 0
	}
	b.byRef[o.Ref] = o
	b.refs = append(b.refs, o.Ref)
	return o
}

// Bind attaches the broker-assigned id. It is legal once, and only while the
// order is Submitted or Accepted.
func (b *Book) Bind(o *domain.Order, brokerID string) error {
	if o.BrokerID != "" {
		return fmt.Errorf("%w: #%d has %q", ErrAlreadyBound, o.Ref, o.BrokerID)
	}
	if o.Status != domain.OrderStatusSubmitted && o.Status != domain.OrderStatusAccepted {
		return fmt.Errorf("%w: #%d is %s", ErrBindState, o.Ref, o.Status)
	}
	if other, ok := b.byBroker[brokerID]; ok && other != o {
		return fmt.Errorf("%w: %q belongs to #%d", ErrDuplicateBrokerID, brokerID, other.Ref)
	}
	o.BrokerID = brokerID
	b.byBroker[brokerID] = o
	return nil
}

// Get looks an order up by local ref.
func (b *Book) Get(ref int64) (*domain.Order, bool) {
	o, ok := b.byRef[ref]
	return o, ok
}

// FindByBrokerID looks an order up by the broker-assigned id.
func (b *Book) FindByBrokerID(id string) (*domain.Order, bool) {
	o, ok := b.byBroker[id]
	return o, ok
}

// All yields every order in creation order.
func (b *Book) All() iter.Seq[*domain.Order] {
	return func(yield func(*domain.Order) bool) {
		for _, ref := range b.refs {
			if !yield(b.byRef[ref]) {
				return
			}
		}
	}
}

// Active yields the non-terminal orders in creation order.
func (b *Book) Active() iter.Seq[*domain.Order] {
	return func(yield func(*domain.Order) bool) {
		for o := range b.All() {
			if o.Status.Terminal() {
				continue
			}
			if !yield(o) {
				return
			}
		}
	}
}

// Len returns the number of orders ever created.
func (b *Book) Len() int {
	return len(b.refs)
}
