package orders

import (
	"errors"
	"fmt"

	"brokerhub/internal/domain"
)

var (
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrAlreadyBound      = errors.New("order already bound to a broker id")
	ErrBindState         = errors.New("order cannot be bound in its current state")
	ErrDuplicateBrokerID = errors.New("broker id already bound to another order")
	ErrUnknownOrder      = errors.New("order not found")
)

// transitions lists the legal next states for every non-terminal state.
// Created orders may be canceled only while they have never been sent.
var transitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusCreated: {
		domain.OrderStatusSubmitted,
		domain.OrderStatusRejected,
		domain.OrderStatusCanceled,
	},
	domain.OrderStatusSubmitted: {
		domain.OrderStatusAccepted,
		domain.OrderStatusRejected,
	},
	domain.OrderStatusAccepted: {
		domain.OrderStatusPartial,
		domain.OrderStatusCompleted,
		domain.OrderStatusCanceled,
		domain.OrderStatusExpired,
		domain.OrderStatusMargin,
		domain.OrderStatusRejected,
	},
	domain.OrderStatusPartial: {
		domain.OrderStatusAccepted,
		domain.OrderStatusCompleted,
		domain.OrderStatusCanceled,
		domain.OrderStatusExpired,
		domain.OrderStatusMargin,
		domain.OrderStatusRejected,
	},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to domain.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves o to status to, stamping reason when one is given.
func (b *Book) Transition(o *domain.Order, to domain.OrderStatus, reason string) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: #%d %s -> %s", ErrInvalidTransition, o.Ref, o.Status, to)
	}
	o.Status = to
	if reason != "" {
		o.Reason = reason
	}
	o.UpdatedAt = b.now()
	return nil
}
