package orders

import (
	"errors"
	"fmt"

	"brokerhub/internal/domain"
)

var (
	ErrUnsupportedType  = errors.New("execution type not supported")
	ErrMissingPrice     = errors.New("limit price required")
	ErrMissingStopPrice = errors.New("stop price required")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrInvalidSide      = errors.New("side must be buy or sell")
	ErrParentNotFound   = errors.New("parent order not found")
	ErrUnknownSymbol    = errors.New("symbol not found")
)

// ValidationError reports why an order was rejected before reaching the
// broker.
type ValidationError struct {
	Ref    int64
	Reason error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order #%d rejected: %v", e.Ref, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// Validate checks the parts of a request that need no other state.
func Validate(req domain.OrderRequest) error {
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return ErrInvalidSide
	}
	if req.Qty <= 0 {
		return ErrInvalidQuantity
	}
	if !req.Type.Supported() {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, req.Type)
	}
	switch req.Type {
	case domain.ExecLimit:
		if req.Price <= 0 {
			return ErrMissingPrice
		}
	case domain.ExecStop:
		if req.StopPrice <= 0 {
			return ErrMissingStopPrice
		}
	case domain.ExecStopLimit:
		if req.StopPrice <= 0 {
			return ErrMissingStopPrice
		}
		if req.Price <= 0 {
			return ErrMissingPrice
		}
	}
	return nil
}
