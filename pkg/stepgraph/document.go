package stepgraph

// StepNode is the nested, serializable form of a node and its subtree.
type StepNode struct {
	ID          NodeID     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description" yaml:"description"`
	Shape       ShapeKind  `json:"shape" yaml:"shape"`
	Color       string     `json:"color" yaml:"color"`
	Size        float64    `json:"size" yaml:"size"`
	Position    Vec3       `json:"position" yaml:"position,flow"`
	Children    []StepNode `json:"subSteps" yaml:"subSteps,omitempty"`
}

// Document is the graph content that is persisted and exchanged: the nested
// steps and the explicit connections. Selection and cursor are not part of it.
type Document struct {
	Steps       []StepNode   `json:"steps" yaml:"steps"`
	Connections []Connection `json:"connections" yaml:"connections"`
}

// NodeCount returns the number of nodes at every depth.
func (d Document) NodeCount() int {
	var count func(ns []StepNode) int
	count = func(ns []StepNode) int {
		n := len(ns)
		for _, c := range ns {
			n += count(c.Children)
		}
		return n
	}
	return count(d.Steps)
}

// Snapshot returns the current graph as a Document. The result shares no
// memory with the store.
func (s *Store) Snapshot() Document {
	doc := Document{
		Steps:       make([]StepNode, 0, len(s.roots)),
		Connections: s.conns.List(),
	}
	for _, id := range s.roots {
		doc.Steps = append(doc.Steps, s.subtree(id))
	}
	return doc
}

func (s *Store) subtree(id NodeID) StepNode {
	n := s.nodes[id]
	out := StepNode{
		ID:          n.ID,
		Title:       n.Title,
		Description: n.Description,
		Shape:       n.Shape,
		Color:       n.Color,
		Size:        n.Size,
		Position:    n.Position,
		Children:    make([]StepNode, 0, len(n.Children)),
	}
	for _, cid := range n.Children {
		out.Children = append(out.Children, s.subtree(cid))
	}
	return out
}
