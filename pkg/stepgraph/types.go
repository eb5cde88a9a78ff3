package stepgraph

import (
	"encoding/json"
	"fmt"
)

// NodeID is an opaque identifier for a step or sub-step. It is unique across
// the whole node pool regardless of nesting depth.
type NodeID string

// IsZero reports whether the ID is unset.
func (id NodeID) IsZero() bool {
	return id == ""
}

// Short returns the first 8 characters of the ID for display purposes.
func (id NodeID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}

// ConnectionID identifies an explicit connection.
type ConnectionID string

// ShapeKind enumerates the shapes a node can be drawn as.
type ShapeKind int

const (
	ShapeCube ShapeKind = iota
	ShapeSphere
	ShapeCylinder
	ShapeCone
)

// ShapeKinds lists every valid shape in display order.
var ShapeKinds = []ShapeKind{ShapeCube, ShapeSphere, ShapeCylinder, ShapeCone}

func (k ShapeKind) String() string {
	switch k {
	case ShapeCube:
		return "cube"
	case ShapeSphere:
		return "sphere"
	case ShapeCylinder:
		return "cylinder"
	case ShapeCone:
		return "cone"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the declared shapes.
func (k ShapeKind) Valid() bool {
	return k >= ShapeCube && k <= ShapeCone
}

// ParseShapeKind converts a shape name to a ShapeKind.
func ParseShapeKind(s string) (ShapeKind, error) {
	for _, k := range ShapeKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown shape %q, expected cube, sphere, cylinder, or cone", s)
}

// MarshalText encodes the shape by name.
func (k ShapeKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid shape kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a shape name.
func (k *ShapeKind) UnmarshalText(b []byte) error {
	parsed, err := ParseShapeKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Vec3 is a point in scene space.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Array returns the components as [x, y, z].
func (v Vec3) Array() [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// MarshalJSON encodes the vector as a 3-element array.
func (v Vec3) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Array())
}

// UnmarshalJSON decodes a 3-element array. Any other length is a
// ValidationError.
func (v *Vec3) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var a []float64
	if err := json.Unmarshal(b, &a); err != nil {
		return fmt.Errorf("position: %w", err)
	}
	return v.set(a)
}

// MarshalYAML encodes the vector as a 3-element sequence.
func (v Vec3) MarshalYAML() (any, error) {
	return v.Array(), nil
}

// UnmarshalYAML decodes a 3-element sequence.
func (v *Vec3) UnmarshalYAML(unmarshal func(any) error) error {
	var a []float64
	if err := unmarshal(&a); err != nil {
		return fmt.Errorf("position: %w", err)
	}
	return v.set(a)
}

func (v *Vec3) set(a []float64) error {
	if len(a) != 3 {
		return ValidationError{Field: "position", Message: fmt.Sprintf("want [x, y, z], got %d numbers", len(a))}
	}
	*v = Vec3{X: a[0], Y: a[1], Z: a[2]}
	return nil
}

// Node is a step or a sub-step. Nodes live in the store's arena; ParentID is
// empty for top-level steps.
type Node struct {
	ID          NodeID
	ParentID    NodeID
	Title       string
	Description string
	Shape       ShapeKind
	Color       string
	Size        float64
	Position    Vec3
	Children    []NodeID
}

// IsStep reports whether the node is a top-level step.
func (n *Node) IsStep() bool {
	return n.ParentID.IsZero()
}

// clone returns a copy that shares no slices with n.
func (n *Node) clone() *Node {
	c := *n
	c.Children = append([]NodeID(nil), n.Children...)
	return &c
}

// Connection is an explicit, user-authored edge between two nodes.
type Connection struct {
	ID          ConnectionID `json:"id" yaml:"id"`
	From        NodeID       `json:"fromId" yaml:"fromId"`
	To          NodeID       `json:"toId" yaml:"toId"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
}

// NodePatch is a partial update. Nil fields are left unchanged.
type NodePatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Shape       *ShapeKind `json:"shape,omitempty"`
	Color       *string    `json:"color,omitempty"`
	Size        *float64   `json:"size,omitempty"`
	Position    *Vec3      `json:"position,omitempty"`
}

// ConnectionPatch is a partial update of a connection.
type ConnectionPatch struct {
	From        *NodeID `json:"fromId,omitempty"`
	To          *NodeID `json:"toId,omitempty"`
	Description *string `json:"description,omitempty"`
}
