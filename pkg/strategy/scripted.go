package strategy

import (
	"context"
	"fmt"

	"github.com/chanaliuxing/dirtyapply/pkg/detect"
	"github.com/chanaliuxing/dirtyapply/pkg/plan"
)

// scriptedStrategy is the deterministic last resort: set the value through
// the target and verify the mutation landed by re-reading a fresh snapshot.
// Only available against the offline harness, where outcomes are
// reproducible.
type scriptedStrategy struct{}

func init() {
	RegisterStrategyFactory(plan.ModeScripted, func(ec *ExecContext) (Strategy, error) {
		if !ec.Harness {
			return nil, fmt.Errorf("scripted verify runs only against a deterministic harness")
		}
		return &scriptedStrategy{}, nil
	})
}

func (s *scriptedStrategy) Name() plan.Mode { return plan.ModeScripted }

func (s *scriptedStrategy) Attempt(_ context.Context, step plan.ActionStep, ec *ExecContext) error {
	desc, err := resolveTarget(step, ec)
	if err != nil {
		return err
	}

	if desc.Kind == detect.KindButton {
		// Click targets: presence is the verifiable condition.
		doc, err := ec.Target.Snapshot()
		if err != nil {
			return err
		}
		if _, err := desc.Locator.Resolve(doc); err != nil {
			return err
		}
		return ec.Target.SetValue(desc.Locator, step.Value)
	}

	if err := ec.Target.SetValue(desc.Locator, step.Value); err != nil {
		return fmt.Errorf("scripted set of %q: %w", step.TargetKey, err)
	}

	doc, err := ec.Target.Snapshot()
	if err != nil {
		return fmt.Errorf("re-capturing snapshot: %w", err)
	}
	node, err := desc.Locator.Resolve(doc)
	if err != nil {
		return err
	}
	if got := node.Attr("value"); got != step.Value {
		return fmt.Errorf("scripted verify of %q: value is %q, want %q", step.TargetKey, got, step.Value)
	}
	return nil
}
