package humanize

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestRandInStaysInRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		v := randIn([2]int{10, 20})
		if v < 10 || v > 20 {
			t.Fatalf("randIn out of range: %d", v)
		}
	}
}

func TestRandInDegenerateRange(t *testing.T) {
	if v := randIn([2]int{50, 50}); v != 50 {
		t.Fatalf("expected 50, got %d", v)
	}
	if v := randIn([2]int{50, 10}); v != 50 {
		t.Fatalf("inverted range should return min, got %d", v)
	}
}

func TestKeystrokeDelayWithinProfile(t *testing.T) {
	p := DefaultProfile()
	for i := 0; i < 100; i++ {
		d := p.KeystrokeDelay()
		if d < time.Duration(p.Keystroke[0])*time.Millisecond ||
			d > time.Duration(p.Keystroke[1])*time.Millisecond {
			t.Fatalf("keystroke delay out of range: %s", d)
		}
	}
}

func TestSleepCompletes(t *testing.T) {
	if !Sleep(context.Background(), time.Millisecond) {
		t.Fatal("expected sleep to complete")
	}
}

func TestSleepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if Sleep(ctx, time.Second) {
		t.Fatal("expected canceled sleep to report false")
	}
}

func TestCurvePathEndpoints(t *testing.T) {
	start := point{10, 10}
	end := point{300, 200}
	path := curvePath(start, end, 20)

	if len(path) != 20 {
		t.Fatalf("path length = %d", len(path))
	}
	if math.Abs(path[0].x-start.x) > 0.01 || math.Abs(path[0].y-start.y) > 0.01 {
		t.Fatalf("path does not start at origin: %+v", path[0])
	}
	last := path[len(path)-1]
	if math.Abs(last.x-end.x) > 0.01 || math.Abs(last.y-end.y) > 0.01 {
		t.Fatalf("path does not end at target: %+v", last)
	}
}

func TestCurvePathStaysNearTravelLine(t *testing.T) {
	start := point{0, 0}
	end := point{1000, 0}
	path := curvePath(start, end, 30)

	// Control offsets are at most half the travel distance, so the
	// curve cannot wander further than that from the straight line.
	for _, p := range path {
		if math.Abs(p.y) > 500 {
			t.Fatalf("path strayed too far: %+v", p)
		}
	}
}

func TestCurvePathMinimumSteps(t *testing.T) {
	path := curvePath(point{0, 0}, point{5, 5}, 1)
	if len(path) != 2 {
		t.Fatalf("expected clamp to 2 steps, got %d", len(path))
	}
}

func TestEasingBounds(t *testing.T) {
	for _, fn := range []func(float64) float64{easeInOutCubic, easeOutCubic} {
		if got := fn(0); math.Abs(got) > 1e-9 {
			t.Fatalf("ease(0) = %f", got)
		}
		if got := fn(1); math.Abs(got-1) > 1e-9 {
			t.Fatalf("ease(1) = %f", got)
		}
		prev := -1.0
		for i := 0; i <= 10; i++ {
			v := fn(float64(i) / 10)
			if v < prev {
				t.Fatalf("easing not monotonic at %d: %f < %f", i, v, prev)
			}
			prev = v
		}
	}
}
