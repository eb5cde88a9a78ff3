// Package camera moves the viewer camera toward the selected node while the
// document is in viewer mode.
package camera

import (
	"cogentcore.org/core/math32"

	"github.com/chazu/stepcraft/pkg/stepgraph"
)

// Default follow parameters.
const (
	DefaultOffset  = 5
	DefaultDamping = 0.05
)

// Source is what the controller reads each tick. *stepgraph.Store satisfies
// it.
type Source interface {
	ViewerMode() bool
	SelectedPosition() (stepgraph.Vec3, bool)
}

// Frame is the camera pose for one tick.
type Frame struct {
	Position  math32.Vector3 `json:"position"`
	LookAt    math32.Vector3 `json:"lookAt"`
	Following bool           `json:"following"`
}

// Controller eases the camera toward a point offset from the target. It is
// inert outside viewer mode and holds still when nothing is selected. While
// inert, the host reports the free camera's pose through Sync so following
// starts from where the camera actually is.
type Controller struct {
	offset  math32.Vector3
	damping float32
	pos     math32.Vector3
	lookAt  math32.Vector3
}

// NewController creates a controller. offset is added to every axis of the
// target; damping is the fraction of the remaining distance covered per
// tick.
func NewController(offset, damping float64) *Controller {
	o := float32(offset)
	return &Controller{
		offset:  math32.Vec3(o, o, o),
		damping: float32(damping),
		pos:     math32.Vec3(o, o, o),
	}
}

// Step returns current moved toward desired by the damping fraction.
func Step(current, desired math32.Vector3, damping float32) math32.Vector3 {
	return current.Add(desired.Sub(current).MulScalar(damping))
}

// Tick advances the camera one frame and returns the resulting pose.
func (c *Controller) Tick(src Source) Frame {
	if !src.ViewerMode() {
		return c.frame(false)
	}
	target, ok := src.SelectedPosition()
	if !ok {
		return c.frame(false)
	}
	t := toVector3(target)
	c.pos = Step(c.pos, t.Add(c.offset), c.damping)
	c.lookAt = Step(c.lookAt, t, c.damping)
	return c.frame(true)
}

// Sync adopts the pose of the free camera. It is ignored while src is in
// viewer mode, where the controller owns the pose.
func (c *Controller) Sync(src Source, pos, lookAt math32.Vector3) bool {
	if src.ViewerMode() {
		return false
	}
	c.pos = pos
	c.lookAt = lookAt
	return true
}

// Position returns the current camera position.
func (c *Controller) Position() math32.Vector3 {
	return c.pos
}

// Distance returns how far the camera is from its resting point above the
// current selection, or -1 when there is nothing to follow.
func (c *Controller) Distance(src Source) float32 {
	target, ok := src.SelectedPosition()
	if !ok {
		return -1
	}
	return c.pos.DistanceTo(toVector3(target).Add(c.offset))
}

func (c *Controller) frame(following bool) Frame {
	return Frame{Position: c.pos, LookAt: c.lookAt, Following: following}
}

func toVector3(v stepgraph.Vec3) math32.Vector3 {
	return math32.Vec3(float32(v.X), float32(v.Y), float32(v.Z))
}
