// Package sdfx implements the kernel.Kernel interface using the
// github.com/deadsy/sdfx SDF-based CAD library.
package sdfx

import (
	"fmt"
	"math"

	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/chazu/stepcraft/pkg/kernel"
)

// Compile-time interface check.
var _ kernel.Kernel = (*SdfxKernel)(nil)

// DefaultMeshCells is the marching cubes resolution along the longest axis
// of a solid. Step shapes are small and numerous, so this stays modest.
const DefaultMeshCells = 64

// sdfxSolid wraps an sdf.SDF3 to implement kernel.Solid.
type sdfxSolid struct {
	s sdf.SDF3
}

// BoundingBox returns the axis-aligned bounding box.
func (s *sdfxSolid) BoundingBox() (min, max [3]float64) {
	bb := s.s.BoundingBox()
	min = [3]float64{bb.Min.X, bb.Min.Y, bb.Min.Z}
	max = [3]float64{bb.Max.X, bb.Max.Y, bb.Max.Z}
	return min, max
}

// SdfxKernel implements kernel.Kernel using sdfx.
type SdfxKernel struct {
	cells int
}

// Option configures an SdfxKernel.
type Option func(*SdfxKernel)

// WithMeshCells sets the marching cubes resolution. Values below 8 are
// raised to 8.
func WithMeshCells(n int) Option {
	return func(k *SdfxKernel) { k.cells = max(n, 8) }
}

// New returns a new SdfxKernel.
func New(opts ...Option) *SdfxKernel {
	k := &SdfxKernel{cells: DefaultMeshCells}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// MeshCells returns the configured resolution.
func (k *SdfxKernel) MeshCells() int {
	return k.cells
}

// unwrap extracts the underlying sdf.SDF3 from a kernel.Solid.
func unwrap(s kernel.Solid) sdf.SDF3 {
	return s.(*sdfxSolid).s
}

// wrap creates a kernel.Solid from an sdf.SDF3.
func wrap(s sdf.SDF3) kernel.Solid {
	return &sdfxSolid{s: s}
}

// Box creates a box centered on the origin.
func (k *SdfxKernel) Box(x, y, z float64) kernel.Solid {
	s, err := sdf.Box3D(v3.Vec{X: x, Y: y, Z: z}, 0)
	if err != nil {
		panic(fmt.Sprintf("sdfx.Box3D: %v", err))
	}
	return wrap(s)
}

// Sphere creates a sphere centered on the origin.
func (k *SdfxKernel) Sphere(radius float64) kernel.Solid {
	s, err := sdf.Sphere3D(radius)
	if err != nil {
		panic(fmt.Sprintf("sdfx.Sphere3D: %v", err))
	}
	return wrap(s)
}

// upright turns an sdfx solid built along Z so that its axis runs along +Y.
func upright(s sdf.SDF3) sdf.SDF3 {
	return sdf.Transform3D(s, sdf.RotateX(-math.Pi/2))
}

// Cylinder creates a cylinder with its axis along Y.
func (k *SdfxKernel) Cylinder(height, radius float64) kernel.Solid {
	s, err := sdf.Cylinder3D(height, radius, 0)
	if err != nil {
		panic(fmt.Sprintf("sdfx.Cylinder3D: %v", err))
	}
	return wrap(upright(s))
}

// Cone creates a cone with its base at -height/2 and apex at +height/2 on Y.
func (k *SdfxKernel) Cone(height, radius float64) kernel.Solid {
	s, err := sdf.Cone3D(height, radius, 0, 0)
	if err != nil {
		panic(fmt.Sprintf("sdfx.Cone3D: %v", err))
	}
	return wrap(upright(s))
}

// Union returns the union of two solids.
func (k *SdfxKernel) Union(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Union3D(unwrap(a), unwrap(b)))
}

// Translate moves a solid by (x, y, z).
func (k *SdfxKernel) Translate(s kernel.Solid, x, y, z float64) kernel.Solid {
	m := sdf.Translate3d(v3.Vec{X: x, Y: y, Z: z})
	return wrap(sdf.Transform3D(unwrap(s), m))
}

// Rotate rotates a solid by Euler angles (degrees) around X, Y, Z axes.
func (k *SdfxKernel) Rotate(s kernel.Solid, x, y, z float64) kernel.Solid {
	xRad := x * math.Pi / 180.0
	yRad := y * math.Pi / 180.0
	zRad := z * math.Pi / 180.0

	m := sdf.RotateZ(zRad).Mul(sdf.RotateY(yRad)).Mul(sdf.RotateX(xRad))
	return wrap(sdf.Transform3D(unwrap(s), m))
}

// ToMesh converts a solid to a triangle mesh using marching cubes.
func (k *SdfxKernel) ToMesh(s kernel.Solid) (*kernel.Mesh, error) {
	sdf3 := unwrap(s)

	renderer := render.NewMarchingCubesUniform(k.cells)
	triangles := render.ToTriangles(sdf3, renderer)
	if len(triangles) == 0 {
		return nil, fmt.Errorf("marching cubes produced no triangles at %d cells", k.cells)
	}

	numVerts := len(triangles) * 3
	vertices := make([]float32, 0, numVerts*3)
	normals := make([]float32, 0, numVerts*3)
	indices := make([]uint32, 0, numVerts)

	for i, tri := range triangles {
		// Flat shading: every vertex carries the face normal.
		n := tri.Normal()
		nx := float32(n.X)
		ny := float32(n.Y)
		nz := float32(n.Z)

		for j := 0; j < 3; j++ {
			v := tri[j]
			vertices = append(vertices, float32(v.X), float32(v.Y), float32(v.Z))
			normals = append(normals, nx, ny, nz)
			indices = append(indices, uint32(i*3+j))
		}
	}

	return &kernel.Mesh{
		Vertices: vertices,
		Normals:  normals,
		Indices:  indices,
	}, nil
}

// WriteSTL tessellates s and writes it as a binary STL file.
func (k *SdfxKernel) WriteSTL(s kernel.Solid, path string) error {
	triangles := render.ToTriangles(unwrap(s), render.NewMarchingCubesUniform(k.cells))
	if err := render.SaveSTL(path, triangles); err != nil {
		return fmt.Errorf("write stl %s: %w", path, err)
	}
	return nil
}
