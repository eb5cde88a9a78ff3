package stepgraph

import "slices"

// Navigator resolves next/previous over the top-level step order. Sub-steps
// are not part of sequential navigation. Both methods are total and report
// false when the selection should stay as it is.
type Navigator struct{}

// Next returns the step after selected. With nothing selected it returns the
// first step. A selection that is not a top-level step, or is the last one,
// yields false.
func (Navigator) Next(order []NodeID, selected NodeID) (NodeID, bool) {
	if len(order) == 0 {
		return "", false
	}
	if selected.IsZero() {
		return order[0], true
	}
	i := slices.Index(order, selected)
	if i < 0 || i == len(order)-1 {
		return "", false
	}
	return order[i+1], true
}

// Previous returns the step before selected. It yields false at the first
// step, with nothing selected, or when the selection is not a top-level step.
func (Navigator) Previous(order []NodeID, selected NodeID) (NodeID, bool) {
	i := slices.Index(order, selected)
	if i <= 0 {
		return "", false
	}
	return order[i-1], true
}

// CanNext reports whether Next would move the selection.
func (n Navigator) CanNext(order []NodeID, selected NodeID) bool {
	_, ok := n.Next(order, selected)
	return ok
}

// CanPrevious reports whether Previous would move the selection.
func (n Navigator) CanPrevious(order []NodeID, selected NodeID) bool {
	_, ok := n.Previous(order, selected)
	return ok
}
