// Package linked tracks one-cancels-other pairs and parent/child chains and
// decides what must happen to the linked orders when one of them terminates.
// The coordinator only plans; the session executes the plan.
package linked

import (
	"errors"

	"brokerhub/internal/domain"
)

// ErrNoChain is returned when a child names a parent with no chain.
var ErrNoChain = errors.New("parent chain not found")

// Plan lists the orders to act on after a terminal transition.
type Plan struct {
	Cancel []int64
	Submit []int64
}

// Empty reports whether the plan has nothing to do.
func (p Plan) Empty() bool {
	return len(p.Cancel) == 0 && len(p.Submit) == 0
}

// Coordinator holds the OCO and parent/child relationships, keyed by local
// order ref. It is not safe for concurrent use.
type Coordinator struct {
	oco    map[int64]int64   // ref -> sibling ref
	chains map[int64][]int64 // root ref -> root followed by its children
}

// New creates an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{
		oco:    make(map[int64]int64),
		chains: make(map[int64][]int64),
	}
}

// LinkOCO registers sibling as the one-cancels-other partner of ref. An
// existing link for ref is kept.
func (c *Coordinator) LinkOCO(ref, sibling int64) {
	if ref == sibling || sibling == 0 {
		return
	}
	if _, ok := c.oco[ref]; ok {
		return
	}
	c.oco[ref] = sibling
}

// HasChain reports whether root heads a parent/child chain.
func (c *Coordinator) HasChain(root int64) bool {
	_, ok := c.chains[root]
	return ok
}

// Enqueue appends ref to the chain headed by root. A ref equal to root opens
// the chain; any other ref requires the chain to exist already.
func (c *Coordinator) Enqueue(root, ref int64) error {
	chain, ok := c.chains[root]
	if !ok {
		if ref != root {
			return ErrNoChain
		}
		c.chains[root] = []int64{root}
		return nil
	}
	for _, r := range chain {
		if r == ref {
			return nil
		}
	}
	c.chains[root] = append(chain, ref)
	return nil
}

// Chain returns a copy of the chain headed by root.
func (c *Coordinator) Chain(root int64) []int64 {
	chain, ok := c.chains[root]
	if !ok {
		return nil
	}
	out := make([]int64, len(chain))
	copy(out, chain)
	return out
}

// Resolve plans the reaction to o reaching a terminal state:
//
//   - an OCO partner in either direction is canceled;
//   - a completed root releases its queued children, any other terminal
//     state of a root cancels them;
//   - a terminated child cancels every other child of its chain.
//
// Non-terminal orders produce an empty plan.
func (c *Coordinator) Resolve(o *domain.Order) Plan {
	var p Plan
	if !o.Status.Terminal() {
		return p
	}
	seen := map[int64]bool{o.Ref: true}
	cancel := func(ref int64) {
		if seen[ref] {
			return
		}
		seen[ref] = true
		p.Cancel = append(p.Cancel, ref)
	}

	for ref, sibling := range c.oco {
		if sibling == o.Ref {
			cancel(ref)
		}
	}
	if sibling, ok := c.oco[o.Ref]; ok {
		cancel(sibling)
	}

	switch {
	case o.Parent == 0 && c.HasChain(o.Ref):
		for _, child := range c.chains[o.Ref][1:] {
			if o.Status == domain.OrderStatusCompleted {
				if !seen[child] {
					seen[child] = true
					p.Submit = append(p.Submit, child)
				}
				continue
			}
			cancel(child)
		}
	case o.Parent != 0:
		chain := c.chains[o.Parent]
		if len(chain) > 1 {
			for _, child := range chain[1:] {
				cancel(child)
			}
		}
	}
	return p
}
