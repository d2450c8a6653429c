package strategy

import (
	"context"
	"fmt"

	"github.com/chanaliuxing/dirtyapply/pkg/detect"
	"github.com/chanaliuxing/dirtyapply/pkg/plan"
)

// structuralStrategy sets the element's value directly in the page and
// dispatches the mutation events framework listeners expect. Cheapest and
// least human-like; never used for submit steps.
type structuralStrategy struct{}

func init() {
	RegisterStrategyFactory(plan.ModeStructural, func(_ *ExecContext) (Strategy, error) {
		return &structuralStrategy{}, nil
	})
}

func (s *structuralStrategy) Name() plan.Mode { return plan.ModeStructural }

func (s *structuralStrategy) Attempt(_ context.Context, step plan.ActionStep, ec *ExecContext) error {
	desc, err := resolveTarget(step, ec)
	if err != nil {
		return err
	}
	if desc.Kind == detect.KindFile {
		// Browsers refuse script writes to a file input's value; the file has
		// to be bound through the target's native attachment path.
		fs, ok := ec.Target.(FileSetter)
		if !ok {
			return fmt.Errorf("target cannot attach files to %q", step.TargetKey)
		}
		if err := fs.SetFiles(desc.Locator, []string{step.Value}); err != nil {
			return fmt.Errorf("attaching file to %q: %w", step.TargetKey, err)
		}
		return nil
	}
	if err := ec.Target.SetValue(desc.Locator, step.Value); err != nil {
		return fmt.Errorf("structural mutation of %q: %w", step.TargetKey, err)
	}
	return nil
}
