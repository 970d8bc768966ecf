package humanize

import (
	"context"
	"math"
	"math/rand"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

type point struct {
	x, y float64
}

// Pointer drives a page's mouse along curved paths instead of
// teleporting it to the target.
type Pointer struct {
	page    *rod.Page
	profile Profile
}

// NewPointer wraps the page's mouse with the default profile.
func NewPointer(page *rod.Page) *Pointer {
	return &Pointer{page: page, profile: DefaultProfile()}
}

// Glide moves the mouse to (x, y) along a cubic Bezier path with eased
// pacing.
func (p *Pointer) Glide(ctx context.Context, x, y float64) error {
	pos := p.page.Mouse.Position()
	path := curvePath(point{pos.X, pos.Y}, point{x, y}, p.profile.pathSteps())

	for _, step := range path {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.page.Mouse.MoveTo(proto.NewPoint(step.x, step.y)); err != nil {
			return err
		}
		if !Sleep(ctx, p.profile.stepDelay()) {
			return ctx.Err()
		}
	}
	return nil
}

// Press glides to the target, hovers briefly, clicks, and dwells. The
// click lands within ClickSpreadP pixels of the requested point.
func (p *Pointer) Press(ctx context.Context, x, y float64, button proto.InputMouseButton, clicks int) error {
	x += (rand.Float64()*2 - 1) * p.profile.ClickSpreadP
	y += (rand.Float64()*2 - 1) * p.profile.ClickSpreadP

	if err := p.Glide(ctx, x, y); err != nil {
		return err
	}
	if !Sleep(ctx, p.profile.hoverDelay()) {
		return ctx.Err()
	}
	if clicks < 1 {
		clicks = 1
	}
	if err := p.page.Mouse.Click(button, clicks); err != nil {
		return err
	}
	if !Sleep(ctx, p.profile.dwellDelay()) {
		return ctx.Err()
	}
	return nil
}

// PressElement clicks the center of el.
func (p *Pointer) PressElement(ctx context.Context, el *rod.Element, button proto.InputMouseButton, clicks int) error {
	x, y, err := elementCenter(el)
	if err != nil {
		return err
	}
	return p.Press(ctx, x, y, button, clicks)
}

func elementCenter(el *rod.Element) (float64, float64, error) {
	shape, err := el.Shape()
	if err != nil {
		return 0, 0, err
	}
	if shape == nil || len(shape.Quads) == 0 {
		return 0, 0, ErrNoBounds
	}
	q := shape.Quads[0]
	return (q[0] + q[2] + q[4] + q[6]) / 4, (q[1] + q[3] + q[5] + q[7]) / 4, nil
}

// curvePath interpolates a cubic Bezier between start and end. Control
// points sit perpendicular to the travel line at randomized offsets so
// no two paths repeat.
func curvePath(start, end point, steps int) []point {
	if steps < 2 {
		steps = 2
	}

	dx := end.x - start.x
	dy := end.y - start.y
	dist := math.Hypot(dx, dy)

	perpX, perpY := 0.0, 0.0
	if dist > 0 {
		perpX = -dy / dist
		perpY = dx / dist
	}
	c1 := controlPoint(start, dx, dy, 0.33, perpX, perpY, dist)
	c2 := controlPoint(start, dx, dy, 0.67, perpX, perpY, dist)

	path := make([]point, steps)
	for i := range path {
		t := easeInOutCubic(float64(i) / float64(steps-1))
		mt := 1 - t
		path[i] = point{
			x: mt*mt*mt*start.x + 3*mt*mt*t*c1.x + 3*mt*t*t*c2.x + t*t*t*end.x,
			y: mt*mt*mt*start.y + 3*mt*mt*t*c1.y + 3*mt*t*t*c2.y + t*t*t*end.y,
		}
	}
	return path
}

func controlPoint(start point, dx, dy, along, perpX, perpY, dist float64) point {
	offset := dist * (0.2 + rand.Float64()*0.3)
	if rand.Float64() < 0.5 {
		offset = -offset
	}
	return point{
		x: start.x + dx*along + perpX*offset,
		y: start.y + dy*along + perpY*offset,
	}
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}
