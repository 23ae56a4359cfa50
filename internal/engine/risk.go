package engine

import (
	"errors"
	"fmt"

	"brokerhub/internal/domain"
)

// ErrRiskLimit is the validation reason for orders exceeding a size limit.
var ErrRiskLimit = errors.New("order exceeds risk limit")

// RiskManager enforces simple pre-trade size limits. It does not model
// margin. A zero limit disables the corresponding check.
type RiskManager struct {
	maxOrderQty    int64
	maxPositionQty int64
}

// NewRiskManager creates a RiskManager with the specified thresholds.
//
//   - maxOrderQty: largest quantity, in units, a single order may carry.
//   - maxPositionQty: largest absolute position, in units, an order may
//     leave behind if it fills completely.
func NewRiskManager(maxOrderQty, maxPositionQty int64) *RiskManager {
	return &RiskManager{
		maxOrderQty:    maxOrderQty,
		maxPositionQty: maxPositionQty,
	}
}

// CheckOrder evaluates req against the limits given the current position in
// the order's instrument.
func (rm *RiskManager) CheckOrder(req domain.OrderRequest, pos domain.Position) error {
	if rm == nil {
		return nil
	}
	if rm.maxOrderQty > 0 && req.Qty > rm.maxOrderQty {
		return fmt.Errorf("%w: qty %d > %d", ErrRiskLimit, req.Qty, rm.maxOrderQty)
	}
	if rm.maxPositionQty > 0 {
		after := pos.Qty + req.Side.Sign()*req.Qty
		if after < 0 {
			after = -after
		}
		if after > rm.maxPositionQty {
			return fmt.Errorf("%w: position %d > %d", ErrRiskLimit, after, rm.maxPositionQty)
		}
	}
	return nil
}
