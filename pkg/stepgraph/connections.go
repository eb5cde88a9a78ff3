package stepgraph

import (
	"github.com/samber/lo"
)

// ConnectionRegistry holds the explicit connections in insertion order.
// It knows nothing about the hierarchy; endpoint checks are the store's job.
type ConnectionRegistry struct {
	conns []Connection
}

// NewConnectionRegistry returns an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{}
}

// Len returns the number of connections.
func (r *ConnectionRegistry) Len() int {
	return len(r.conns)
}

// List returns a copy of all connections.
func (r *ConnectionRegistry) List() []Connection {
	return append(make([]Connection, 0, len(r.conns)), r.conns...)
}

// Get returns the connection with the given id.
func (r *ConnectionRegistry) Get(id ConnectionID) (Connection, bool) {
	return lo.Find(r.conns, func(c Connection) bool { return c.ID == id })
}

// Add appends c. The caller guarantees a fresh id.
func (r *ConnectionRegistry) Add(c Connection) {
	r.conns = append(r.conns, c)
}

// Remove deletes the connection with the given id and reports whether it
// existed.
func (r *ConnectionRegistry) Remove(id ConnectionID) bool {
	_, idx, ok := lo.FindIndexOf(r.conns, func(c Connection) bool { return c.ID == id })
	if !ok {
		return false
	}
	r.conns = append(r.conns[:idx:idx], r.conns[idx+1:]...)
	return true
}

// Replace overwrites the connection with the same id.
func (r *ConnectionRegistry) Replace(c Connection) bool {
	_, idx, ok := lo.FindIndexOf(r.conns, func(x Connection) bool { return x.ID == c.ID })
	if !ok {
		return false
	}
	r.conns[idx] = c
	return true
}

// Touching returns the connections with an endpoint in ids.
func (r *ConnectionRegistry) Touching(ids map[NodeID]bool) []Connection {
	return lo.Filter(r.conns, func(c Connection, _ int) bool {
		return ids[c.From] || ids[c.To]
	})
}

// Outbound returns the connections leaving id, in insertion order.
func (r *ConnectionRegistry) Outbound(id NodeID) []Connection {
	return lo.Filter(r.conns, func(c Connection, _ int) bool { return c.From == id })
}

// Inbound returns the connections arriving at id, in insertion order.
func (r *ConnectionRegistry) Inbound(id NodeID) []Connection {
	return lo.Filter(r.conns, func(c Connection, _ int) bool { return c.To == id })
}

// Detach resolves every connection touching the removed nodes so that none
// of them references a node that no longer exists. An inbound connection
// X→D is rewired to X→T, where T is the first outbound target of D. It is
// dropped instead when D has no outbound connection, when T is itself being
// removed, or when the rewire would make X→X. Outbound connections of D are
// dropped. Removed nodes are processed in the given order. Detach returns
// the ids of the dropped connections.
func (r *ConnectionRegistry) Detach(removed []NodeID) []ConnectionID {
	gone := lo.SliceToMap(removed, func(id NodeID) (NodeID, bool) { return id, true })

	var dropped []ConnectionID
	for _, d := range removed {
		var target NodeID
		if out := r.Outbound(d); len(out) > 0 {
			target = out[0].To
		}

		kept := r.conns[:0]
		for _, c := range r.conns {
			switch {
			case c.From == d:
				dropped = append(dropped, c.ID)
				continue
			case c.To == d:
				if target.IsZero() || gone[target] || target == c.From {
					dropped = append(dropped, c.ID)
					continue
				}
				c.To = target
			}
			kept = append(kept, c)
		}
		r.conns = kept
	}

	// Anything still pointing into the removed set was rewired onto a node
	// removed later in the order.
	kept := r.conns[:0]
	for _, c := range r.conns {
		if gone[c.From] || gone[c.To] {
			dropped = append(dropped, c.ID)
			continue
		}
		kept = append(kept, c)
	}
	r.conns = kept
	return dropped
}

// Reset removes every connection.
func (r *ConnectionRegistry) Reset() {
	r.conns = nil
}
