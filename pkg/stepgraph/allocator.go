package stepgraph

// Default layout constants.
const (
	DefaultStepSpacing    = 3.0 // x distance between consecutive steps
	DefaultSubStepDrop    = 2.0 // y distance from a parent to its sub-steps
	DefaultSubStepLateral = 2.0 // z distance between sibling sub-steps
)

// Layout holds the spacing used to place new nodes.
type Layout struct {
	StepSpacing    float64 `toml:"step_spacing"`
	SubStepDrop    float64 `toml:"substep_drop"`
	SubStepLateral float64 `toml:"substep_lateral"`
}

// DefaultLayout returns the default spacing.
func DefaultLayout() Layout {
	return Layout{
		StepSpacing:    DefaultStepSpacing,
		SubStepDrop:    DefaultSubStepDrop,
		SubStepLateral: DefaultSubStepLateral,
	}
}

// PositionAllocator computes default positions for new nodes. It holds no
// state; the only cursor is the nextPosition passed in by the store.
type PositionAllocator struct {
	Layout Layout
}

// Step returns the position for a new top-level step and the advanced cursor.
// Only x advances, so successive steps are strictly increasing in x.
func (a PositionAllocator) Step(cursor Vec3) (pos, next Vec3) {
	next = cursor
	next.X += a.Layout.StepSpacing
	return cursor, next
}

// SubStep returns the position for the sub-step at siblingIndex under a
// parent at parentPos. Distinct indices yield distinct positions as long as
// SubStepLateral is non-zero.
func (a PositionAllocator) SubStep(parentPos Vec3, siblingIndex int) Vec3 {
	return Vec3{
		X: parentPos.X,
		Y: parentPos.Y - a.Layout.SubStepDrop,
		Z: parentPos.Z + float64(siblingIndex)*a.Layout.SubStepLateral,
	}
}

// CursorAfter returns the cursor to resume from after loading steps whose
// last element sits at last.
func (a PositionAllocator) CursorAfter(last Vec3) Vec3 {
	return Vec3{X: last.X + a.Layout.StepSpacing}
}
