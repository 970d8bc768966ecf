// Package humanize adds human input texture to pointer, keyboard, and
// wheel events when stealth mode is on: curved pointer paths, jittered
// click points, and variable keystroke pacing.
package humanize

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrNoBounds is returned when an element has no visible geometry to
// interact with.
var ErrNoBounds = errors.New("element has no visible bounds")

// Profile holds the delay ranges, in milliseconds, applied around
// simulated input.
type Profile struct {
	PathSteps    [2]int
	StepDelay    [2]int
	HoverDelay   [2]int
	DwellDelay   [2]int
	Keystroke    [2]int
	WheelSteps   [2]int
	WheelDelay   [2]int
	ClickSpreadP float64
}

// DefaultProfile returns pacing tuned to stay under typical bot
// heuristics without making actions unbearably slow.
func DefaultProfile() Profile {
	return Profile{
		PathSteps:    [2]int{15, 30},
		StepDelay:    [2]int{3, 12},
		HoverDelay:   [2]int{50, 200},
		DwellDelay:   [2]int{80, 250},
		Keystroke:    [2]int{40, 140},
		WheelSteps:   [2]int{6, 14},
		WheelDelay:   [2]int{20, 60},
		ClickSpreadP: 5.0,
	}
}

func (p Profile) pathSteps() int  { return randIn(p.PathSteps) }
func (p Profile) wheelSteps() int { return randIn(p.WheelSteps) }

func (p Profile) stepDelay() time.Duration  { return durIn(p.StepDelay) }
func (p Profile) hoverDelay() time.Duration { return durIn(p.HoverDelay) }
func (p Profile) dwellDelay() time.Duration { return durIn(p.DwellDelay) }
func (p Profile) wheelDelay() time.Duration { return durIn(p.WheelDelay) }

// KeystrokeDelay returns the pause to insert between typed characters.
func (p Profile) KeystrokeDelay() time.Duration { return durIn(p.Keystroke) }

func randIn(r [2]int) int {
	if r[1] <= r[0] {
		return r[0]
	}
	return r[0] + rand.Intn(r[1]-r[0]+1)
}

func durIn(r [2]int) time.Duration {
	return time.Duration(randIn(r)) * time.Millisecond
}

// Sleep pauses for d or until the context is canceled. Reports whether
// the full duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
