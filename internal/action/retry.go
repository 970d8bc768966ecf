package action

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// RetryPolicy controls dispatch retries. Attempts counts total tries,
// so Attempts=1 means no retry.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // fraction of the delay randomized, in [0,1]
	RetryOn      func(error) bool
}

// transientErr matches failures worth a full retry: the page may
// recover after a crash, timeout, or failed navigation.
func transientErr(err error) bool {
	return errors.Is(err, types.ErrBrowserCrashed) ||
		errors.Is(err, types.ErrBrowserUnhealthy) ||
		errors.Is(err, types.ErrNavigationFail) ||
		errors.Is(err, types.ErrTimeout)
}

// disconnectErr matches only connection loss. Used for actions with
// side effects where a blind retry could double-apply.
func disconnectErr(err error) bool {
	return errors.Is(err, types.ErrBrowserCrashed)
}

// retryPolicies maps action kinds to their dispatch retry behavior.
// Read-only actions retry on any transient failure; mutating actions
// retry only when the browser connection dropped mid-call.
var retryPolicies = map[types.ActionKind]RetryPolicy{
	types.ActionNavigate:   {Attempts: 3, InitialDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2, Jitter: 0.2, RetryOn: transientErr},
	types.ActionWait:       {Attempts: 3, InitialDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2, Jitter: 0.2, RetryOn: transientErr},
	types.ActionScreenshot: {Attempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: 0.2, RetryOn: transientErr},
	types.ActionPDF:        {Attempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: 0.2, RetryOn: transientErr},
	types.ActionContent:    {Attempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: 0.2, RetryOn: transientErr},
	types.ActionClick:      {Attempts: 2, InitialDelay: 200 * time.Millisecond, Multiplier: 2, RetryOn: disconnectErr},
	types.ActionType:       {Attempts: 2, InitialDelay: 200 * time.Millisecond, Multiplier: 2, RetryOn: disconnectErr},
	types.ActionEvaluate:   {Attempts: 2, InitialDelay: 200 * time.Millisecond, Multiplier: 2, RetryOn: disconnectErr},
	types.ActionUpload:     {Attempts: 2, InitialDelay: 200 * time.Millisecond, Multiplier: 2, RetryOn: disconnectErr},
}

func retryPolicyFor(kind types.ActionKind) RetryPolicy {
	if p, ok := retryPolicies[kind]; ok {
		return p
	}
	return RetryPolicy{Attempts: 1}
}

// Do runs fn with the policy's backoff schedule. The context cancels
// between attempts; an exhausted schedule returns the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := p.InitialDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt == attempts || p.RetryOn == nil || !p.RetryOn(err) {
			return err
		}

		wait := delay
		if p.Jitter > 0 {
			span := float64(wait) * p.Jitter
			wait += time.Duration((rand.Float64()*2 - 1) * span)
		}
		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying action after transient failure")

		select {
		case <-ctx.Done():
			return types.Errorf(types.ErrCanceled, "retry interrupted: %v", ctx.Err())
		case <-time.After(wait):
		}

		if p.Multiplier > 1 {
			delay = time.Duration(float64(delay) * p.Multiplier)
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}
	return err
}
