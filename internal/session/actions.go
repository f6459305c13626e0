package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"autolite/internal/utils"
)

type step func(ctx context.Context, s Session) error

// Actions queues page interactions and runs them in order on Perform
type Actions struct {
	session Session
	steps   []step
	// jitter returns a duration in [lo, hi]; replaceable for tests
	jitter func(lo, hi time.Duration) time.Duration
}

func NewActions(s Session) *Actions {
	return &Actions{session: s, jitter: randomBetween}
}

func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// ScrollIntoView centres the element matching selector in the viewport
func (a *Actions) ScrollIntoView(selector string) *Actions {
	expr := fmt.Sprintf("document.querySelector(%s).scrollIntoView({block: 'center', inline: 'center'})", jsString(selector))
	return a.add(a.evaluate(selector, expr))
}

// ForceClick clicks the element through the DOM, bypassing overlays that
// would swallow a pointer click
func (a *Actions) ForceClick(selector string) *Actions {
	expr := fmt.Sprintf("document.querySelector(%s).click()", jsString(selector))
	return a.add(a.evaluate(selector, expr))
}

func (a *Actions) Pause(d time.Duration) *Actions {
	return a.add(func(ctx context.Context, _ Session) error {
		return utils.Sleep(ctx, d)
	})
}

// PauseBetween pauses for a random duration in [lo, hi]
func (a *Actions) PauseBetween(lo, hi time.Duration) *Actions {
	return a.add(func(ctx context.Context, _ Session) error {
		return utils.Sleep(ctx, a.jitter(lo, hi))
	})
}

// Perform runs the queued steps and clears the queue, even on failure
func (a *Actions) Perform(ctx context.Context) error {
	steps := a.steps
	a.steps = nil
	for i, st := range steps {
		if err := st(ctx, a.session); err != nil {
			return fmt.Errorf("action %d: %w", i+1, err)
		}
	}
	return nil
}

func (a *Actions) add(st step) *Actions {
	a.steps = append(a.steps, st)
	return a
}

func (a *Actions) evaluate(selector, expr string) step {
	return func(ctx context.Context, s Session) error {
		if _, err := s.Evaluate(ctx, expr); err != nil {
			return fmt.Errorf("%s: %w", selector, err)
		}
		return nil
	}
}
