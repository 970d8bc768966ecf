package humanize

import (
	"context"
	"math"

	"github.com/go-rod/rod"
)

// Wheel scrolls a page in eased increments instead of one jump.
type Wheel struct {
	page    *rod.Page
	profile Profile
}

// NewWheel wraps the page's wheel with the default profile.
func NewWheel(page *rod.Page) *Wheel {
	return &Wheel{page: page, profile: DefaultProfile()}
}

// Scroll applies (dx, dy) as a series of wheel ticks that decelerate
// toward the end of the travel.
func (w *Wheel) Scroll(ctx context.Context, dx, dy float64) error {
	steps := w.profile.wheelSteps()
	prevX, prevY := 0.0, 0.0
	for i := 1; i <= steps; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t := easeOutCubic(float64(i) / float64(steps))
		targetX := dx * t
		targetY := dy * t
		if err := w.page.Mouse.Scroll(targetX-prevX, targetY-prevY, 1); err != nil {
			return err
		}
		prevX, prevY = targetX, targetY
		if !Sleep(ctx, w.profile.wheelDelay()) {
			return ctx.Err()
		}
	}
	return nil
}

func easeOutCubic(t float64) float64 {
	return 1 - math.Pow(1-t, 3)
}
