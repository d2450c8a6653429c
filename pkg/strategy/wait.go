package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/chanaliuxing/dirtyapply/pkg/plan"
)

const (
	defaultWaitTimeout = 10 * time.Second
	waitPollInterval   = 100 * time.Millisecond
)

// waitFor suspends until the condition holds. startURL is the page URL from
// before the step's action ran, so a navigation that completes quickly still
// satisfies url-change. Expiry or cancellation fails the wait with
// ErrWaitTimeout; nothing retries past a dead context.
func waitFor(ctx context.Context, t Target, cond *plan.WaitCondition, startURL string) error {
	timeout := defaultWaitTimeout
	if cond.TimeoutMs > 0 {
		timeout = time.Duration(cond.TimeoutMs) * time.Millisecond
	}
	if cond.Kind == plan.WaitTimer {
		select {
		case <-time.After(timeout):
			return nil
		case <-ctx.Done():
			return fmt.Errorf("%w: timer wait cancelled", plan.ErrWaitTimeout)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		met, err := conditionMet(t, cond, startURL)
		if err != nil {
			return err
		}
		if met {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("%w: condition %s not met within %s", plan.ErrWaitTimeout, cond.Kind, timeout)
		}
	}
}

func conditionMet(t Target, cond *plan.WaitCondition, startURL string) (bool, error) {
	switch cond.Kind {
	case plan.WaitURLChange:
		return t.URL() != startURL, nil
	case plan.WaitElementAppears, plan.WaitElementDisappears:
		if cond.Locator == nil {
			return false, fmt.Errorf("wait condition %s requires a locator", cond.Kind)
		}
		doc, err := t.Snapshot()
		if err != nil {
			return false, err
		}
		_, resolveErr := cond.Locator.Resolve(doc)
		if cond.Kind == plan.WaitElementAppears {
			return resolveErr == nil, nil
		}
		return resolveErr != nil, nil
	default:
		return false, fmt.Errorf("unknown wait condition kind %q", cond.Kind)
	}
}
