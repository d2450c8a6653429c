package strategy

import (
	"context"
	"fmt"

	"github.com/chanaliuxing/dirtyapply/pkg/companion"
	"github.com/chanaliuxing/dirtyapply/pkg/detect"
	"github.com/chanaliuxing/dirtyapply/pkg/plan"
)

// opticalStrategy finds the field's label on screen via the companion's text
// recognition and clicks it. A match below the confidence threshold is never
// clicked on its own: the attempt escalates to the human-confirmation hook
// and fails with LowOpticalConfidence unless the click is approved.
type opticalStrategy struct{}

func init() {
	RegisterStrategyFactory(plan.ModeOptical, func(ec *ExecContext) (Strategy, error) {
		if ec.Companion == nil {
			return nil, fmt.Errorf("optical locate requires a companion client")
		}
		return &opticalStrategy{}, nil
	})
}

func (s *opticalStrategy) Name() plan.Mode { return plan.ModeOptical }

func (s *opticalStrategy) Attempt(ctx context.Context, step plan.ActionStep, ec *ExecContext) error {
	desc, err := resolveTarget(step, ec)
	if err != nil {
		return err
	}
	if desc.Label == "" {
		return fmt.Errorf("field %q has no label to locate optically", step.TargetKey)
	}

	resp, err := ec.Companion.OpticalClick(ctx, companion.OpticalClickRequest{
		TextPattern:         desc.Label,
		ConfidenceThreshold: ec.ConfidenceThreshold,
	})
	if err != nil {
		return fmt.Errorf("optical click on %q: %w", desc.Label, err)
	}
	if !resp.Success {
		if resp.Confidence <= 0 {
			return fmt.Errorf("optical click on %q failed: %s", desc.Label, resp.Message)
		}
		if err := s.escalate(ctx, desc.Label, resp.Confidence, ec); err != nil {
			return err
		}
	}

	switch desc.Kind {
	case detect.KindButton, detect.KindCheckbox, detect.KindRadio:
		return nil
	default:
		// The click landed on the label; the associated input takes focus.
		typed, err := ec.Companion.Type(ctx, companion.TypeRequest{Text: step.Value})
		if err := companionResult("typing into", step.TargetKey, typed, err); err != nil {
			return err
		}
	}
	return nil
}

// escalate puts a below-threshold match in front of a human. On approval the
// click is retried with the threshold lowered to the reported confidence so a
// fresh recognition at the same quality goes through.
func (s *opticalStrategy) escalate(ctx context.Context, label string, confidence float64, ec *ExecContext) error {
	lowErr := fmt.Errorf("%w: %q matched at %.2f, threshold %.2f",
		plan.ErrLowOpticalConfidence, label, confidence, ec.ConfidenceThreshold)
	if ec.EscalateOptical == nil {
		return lowErr
	}
	ok, err := ec.EscalateOptical(ctx, label, confidence)
	if err != nil || !ok {
		ec.Logger.Warn().
			Str("label", label).
			Float64("confidence", confidence).
			Msg("Low-confidence optical match not approved")
		return lowErr
	}

	ec.Logger.Info().
		Str("label", label).
		Float64("confidence", confidence).
		Msg("Low-confidence optical match approved, clicking")
	resp, err := ec.Companion.OpticalClick(ctx, companion.OpticalClickRequest{
		TextPattern:         label,
		ConfidenceThreshold: confidence,
	})
	if err != nil {
		return fmt.Errorf("approved optical click on %q: %w", label, err)
	}
	if !resp.Success {
		return fmt.Errorf("approved optical click on %q failed: %s", label, resp.Message)
	}
	return nil
}
