package stepgraph

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// goldenAngle spaces successive hues so that neighbours stay far apart on
// the color wheel no matter how many colors are drawn.
const goldenAngle = 137.50776405003785

// Palette hands out distinguishable colors in a deterministic sequence.
type Palette struct {
	next int
}

// Next returns the next color as #rrggbb.
func (p *Palette) Next() string {
	i := p.next
	p.next++
	hue := math.Mod(float64(i)*goldenAngle+210, 360)
	// Alternate saturation and value bands so colors with nearby hues after
	// wrap-around still differ.
	sat := 0.55 + 0.15*float64(i%2)
	val := 0.85 - 0.1*float64((i/2)%2)
	return colorful.Hsv(hue, sat, val).Clamped().Hex()
}

// Reset restarts the sequence.
func (p *Palette) Reset() {
	p.next = 0
}
