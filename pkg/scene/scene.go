// Package scene projects the step graph into drawable shapes and links. The
// projector is read-only: it never mutates the store. When given a geometry
// kernel it also tessellates every shape so the webview can draw meshes
// directly.
package scene

import (
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/chazu/stepcraft/pkg/kernel"
	"github.com/chazu/stepcraft/pkg/stepgraph"
)

// PipeRadius is the radius of the tube drawn for a link.
const PipeRadius = 0.05

// Source is the read side of the step store. *stepgraph.Store satisfies it.
type Source interface {
	Steps() []stepgraph.Node
	Children(id stepgraph.NodeID) []stepgraph.Node
	Connections() []stepgraph.Connection
	Node(id stepgraph.NodeID) (stepgraph.Node, bool)
	Selected() stepgraph.NodeID
}

// Dimensions are the kernel parameters for a shape. Radius is zero for a
// cube; Width and Depth are zero for round shapes.
type Dimensions struct {
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height"`
	Depth  float64 `json:"depth,omitempty"`
	Radius float64 `json:"radius,omitempty"`
}

// ShapeDimensions returns the drawn size of a node shape. Cubes have edge
// size; spheres radius 0.7·size; cylinders radius 0.5·size and height
// 1.5·size; cones radius 0.7·size and height 1.5·size.
func ShapeDimensions(kind stepgraph.ShapeKind, size float64) (Dimensions, error) {
	switch kind {
	case stepgraph.ShapeCube:
		return Dimensions{Width: size, Height: size, Depth: size}, nil
	case stepgraph.ShapeSphere:
		return Dimensions{Height: 1.4 * size, Radius: 0.7 * size}, nil
	case stepgraph.ShapeCylinder:
		return Dimensions{Height: 1.5 * size, Radius: 0.5 * size}, nil
	case stepgraph.ShapeCone:
		return Dimensions{Height: 1.5 * size, Radius: 0.7 * size}, nil
	default:
		return Dimensions{}, fmt.Errorf("unknown shape kind %d", int(kind))
	}
}

// Shape is one drawable node.
type Shape struct {
	NodeID     stepgraph.NodeID    `json:"nodeId"`
	ParentID   stepgraph.NodeID    `json:"parentId,omitempty"`
	Title      string              `json:"title"`
	Kind       stepgraph.ShapeKind `json:"kind"`
	Color      string              `json:"color"`
	Size       float64             `json:"size"`
	Position   stepgraph.Vec3      `json:"position"`
	Dimensions Dimensions          `json:"dimensions"`
	Depth      int                 `json:"depth"`
	Selected   bool                `json:"selected"`
	Mesh       *kernel.Mesh        `json:"mesh,omitempty"`
}

// LinkKind distinguishes implicit links derived from the hierarchy from
// explicit, authored connections.
type LinkKind string

const (
	LinkSequence LinkKind = "sequence" // consecutive top-level steps
	LinkBranch   LinkKind = "branch"   // parent to its first sub-step
	LinkSubStep  LinkKind = "substep"  // consecutive sub-steps of a parent
	LinkExplicit LinkKind = "explicit" // stored connection
)

// Link is a tube between two shape centers.
type Link struct {
	Kind         LinkKind               `json:"kind"`
	ConnectionID stepgraph.ConnectionID `json:"connectionId,omitempty"`
	From         stepgraph.NodeID       `json:"fromId"`
	To           stepgraph.NodeID       `json:"toId"`
	Start        stepgraph.Vec3         `json:"start"`
	End          stepgraph.Vec3         `json:"end"`
	Description  string                 `json:"description,omitempty"`
	Radius       float64                `json:"radius"`
}

// Frame is everything needed to draw the document once.
type Frame struct {
	Shapes []Shape `json:"shapes"`
	Links  []Link  `json:"links"`
}

// Shape returns the shape for a node id.
func (f Frame) Shape(id stepgraph.NodeID) (Shape, bool) {
	return lo.Find(f.Shapes, func(s Shape) bool { return s.NodeID == id })
}

// TriangleCount sums the triangles of every meshed shape.
func (f Frame) TriangleCount() int {
	return lo.SumBy(f.Shapes, func(s Shape) int {
		if s.Mesh == nil {
			return 0
		}
		return s.Mesh.TriangleCount()
	})
}

// LinksOf returns the links of one kind.
func (f Frame) LinksOf(kind LinkKind) []Link {
	return lo.Filter(f.Links, func(l Link, _ int) bool { return l.Kind == kind })
}

// meshKey identifies a tessellation. Every input to the geometry is part of
// the key, so entries never go stale.
type meshKey struct {
	kind stepgraph.ShapeKind
	size float64
	pos  stepgraph.Vec3
}

// maxCachedMeshes bounds the mesh cache; it is dropped wholesale when full.
const maxCachedMeshes = 1024

// Projector turns a Source into a Frame.
type Projector struct {
	k kernel.Kernel

	mu     sync.Mutex
	meshes map[meshKey]*kernel.Mesh
}

// NewProjector returns a projector. k may be nil, in which case shapes carry
// no meshes.
func NewProjector(k kernel.Kernel) *Projector {
	return &Projector{k: k, meshes: make(map[meshKey]*kernel.Mesh)}
}

// Project walks the steps in order, each followed by its sub-steps, and
// then resolves links.
func (p *Projector) Project(src Source) (Frame, error) {
	f := Frame{Shapes: []Shape{}, Links: []Link{}}
	selected := src.Selected()

	steps := src.Steps()
	for i, step := range steps {
		if err := p.walk(src, step, 0, selected, &f); err != nil {
			return Frame{}, fmt.Errorf("scene: step %s: %w", step.ID.Short(), err)
		}
		if i > 0 {
			f.Links = append(f.Links, link(LinkSequence, steps[i-1], step))
		}
	}

	for _, c := range src.Connections() {
		from, okFrom := src.Node(c.From)
		to, okTo := src.Node(c.To)
		if !okFrom || !okTo {
			continue
		}
		l := link(LinkExplicit, from, to)
		l.ConnectionID = c.ID
		l.Description = c.Description
		f.Links = append(f.Links, l)
	}
	return f, nil
}

// walk appends n and its subtree.
func (p *Projector) walk(src Source, n stepgraph.Node, depth int, selected stepgraph.NodeID, f *Frame) error {
	shape, err := p.shape(n, depth, selected)
	if err != nil {
		return err
	}
	f.Shapes = append(f.Shapes, shape)

	children := src.Children(n.ID)
	for i, c := range children {
		if i == 0 {
			f.Links = append(f.Links, link(LinkBranch, n, c))
		} else {
			f.Links = append(f.Links, link(LinkSubStep, children[i-1], c))
		}
		if err := p.walk(src, c, depth+1, selected, f); err != nil {
			return err
		}
	}
	return nil
}

func (p *Projector) shape(n stepgraph.Node, depth int, selected stepgraph.NodeID) (Shape, error) {
	dims, err := ShapeDimensions(n.Shape, n.Size)
	if err != nil {
		return Shape{}, fmt.Errorf("node %s: %w", n.ID.Short(), err)
	}
	s := Shape{
		NodeID:     n.ID,
		ParentID:   n.ParentID,
		Title:      n.Title,
		Kind:       n.Shape,
		Color:      n.Color,
		Size:       n.Size,
		Position:   n.Position,
		Dimensions: dims,
		Depth:      depth,
		Selected:   n.ID == selected,
	}
	if p.k == nil {
		return s, nil
	}
	mesh, err := p.mesh(n)
	if err != nil {
		return Shape{}, err
	}
	s.Mesh = mesh
	return s, nil
}

func (p *Projector) mesh(n stepgraph.Node) (*kernel.Mesh, error) {
	key := meshKey{kind: n.Shape, size: n.Size, pos: n.Position}

	p.mu.Lock()
	cached, ok := p.meshes[key]
	p.mu.Unlock()
	if ok {
		return withNode(cached, n.ID), nil
	}

	solid, err := p.Solid(n)
	if err != nil {
		return nil, err
	}
	mesh, err := p.k.ToMesh(solid)
	if err != nil {
		return nil, fmt.Errorf("ToMesh failed for node %s: %w", n.ID.Short(), err)
	}

	p.mu.Lock()
	if len(p.meshes) >= maxCachedMeshes {
		p.meshes = make(map[meshKey]*kernel.Mesh)
	}
	p.meshes[key] = mesh
	p.mu.Unlock()
	return withNode(mesh, n.ID), nil
}

// withNode returns a shallow copy of m labelled with id. The vertex data is
// shared and must not be modified.
func withNode(m *kernel.Mesh, id stepgraph.NodeID) *kernel.Mesh {
	c := *m
	c.NodeID = string(id)
	return &c
}

// Solid builds the kernel solid for a node, placed at its position.
func (p *Projector) Solid(n stepgraph.Node) (kernel.Solid, error) {
	if p.k == nil {
		return nil, fmt.Errorf("scene: no geometry kernel")
	}
	dims, err := ShapeDimensions(n.Shape, n.Size)
	if err != nil {
		return nil, err
	}

	var solid kernel.Solid
	switch n.Shape {
	case stepgraph.ShapeCube:
		solid = p.k.Box(dims.Width, dims.Height, dims.Depth)
	case stepgraph.ShapeSphere:
		solid = p.k.Sphere(dims.Radius)
	case stepgraph.ShapeCylinder:
		solid = p.k.Cylinder(dims.Height, dims.Radius)
	case stepgraph.ShapeCone:
		solid = p.k.Cone(dims.Height, dims.Radius)
	}

	pos := n.Position
	if pos.X != 0 || pos.Y != 0 || pos.Z != 0 {
		solid = p.k.Translate(solid, pos.X, pos.Y, pos.Z)
	}
	return solid, nil
}

// Assemble unions every node of src into one solid, for export.
func (p *Projector) Assemble(src Source) (kernel.Solid, error) {
	var all kernel.Solid
	var add func(n stepgraph.Node) error
	add = func(n stepgraph.Node) error {
		s, err := p.Solid(n)
		if err != nil {
			return err
		}
		if all == nil {
			all = s
		} else {
			all = p.k.Union(all, s)
		}
		for _, c := range src.Children(n.ID) {
			if err := add(c); err != nil {
				return err
			}
		}
		return nil
	}
	for _, step := range src.Steps() {
		if err := add(step); err != nil {
			return nil, err
		}
	}
	if all == nil {
		return nil, fmt.Errorf("scene: nothing to assemble")
	}
	return all, nil
}

func link(kind LinkKind, from, to stepgraph.Node) Link {
	return Link{
		Kind:   kind,
		From:   from.ID,
		To:     to.ID,
		Start:  from.Position,
		End:    to.Position,
		Radius: PipeRadius,
	}
}
