package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"autolite/internal/utils"
)

var ErrWaitTimeout = errors.New("timed out waiting for condition")

const defaultPollInterval = 500 * time.Millisecond

// Condition is polled by Waiter until it returns true
type Condition func(ctx context.Context, s Session) (bool, error)

// Waiter polls a Condition against one session
type Waiter struct {
	session  Session
	Timeout  time.Duration
	Interval time.Duration
}

func NewWaiter(s Session, timeout time.Duration) *Waiter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Waiter{session: s, Timeout: timeout, Interval: defaultPollInterval}
}

// Until polls cond until it holds, it fails, or Timeout passes. Condition
// errors end the wait immediately.
func (w *Waiter) Until(ctx context.Context, cond Condition) error {
	ctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	for {
		ok, err := cond(ctx, w.session)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := utils.Sleep(ctx, w.Interval); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s", ErrWaitTimeout, w.Timeout)
			}
			return err
		}
	}
}

// jsString quotes s as a JavaScript string literal
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// ElementPresent holds once selector matches an element
func ElementPresent(selector string) Condition {
	expr := fmt.Sprintf("document.querySelector(%s) !== null", jsString(selector))
	return func(ctx context.Context, s Session) (bool, error) {
		v, err := s.Evaluate(ctx, expr)
		if err != nil {
			return false, err
		}
		present, _ := v.(bool)
		return present, nil
	}
}

// TitleContains holds once the page title contains substr
func TitleContains(substr string) Condition {
	return func(ctx context.Context, s Session) (bool, error) {
		title, err := s.Title(ctx)
		if err != nil {
			return false, err
		}
		return strings.Contains(title, substr), nil
	}
}
