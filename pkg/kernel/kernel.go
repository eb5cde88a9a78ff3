// Package kernel defines the geometry kernel used to turn step shapes into
// renderable meshes. The scene projector only talks to this interface, so
// the backend can be swapped without touching the step model.
package kernel

// Solid is an opaque handle to a kernel solid.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// Kernel builds solids and meshes them. Every primitive is centered on the
// origin; round primitives have their axis along +Y, which is up in the
// scene.
type Kernel interface {
	// Primitives
	Box(x, y, z float64) Solid
	Sphere(radius float64) Solid
	Cylinder(height, radius float64) Solid
	Cone(height, radius float64) Solid // apex at +height/2

	Union(a, b Solid) Solid

	// Transforms
	Translate(s Solid, x, y, z float64) Solid
	Rotate(s Solid, x, y, z float64) Solid // Euler angles in degrees

	// Output
	ToMesh(s Solid) (*Mesh, error)
	WriteSTL(s Solid, path string) error
}
