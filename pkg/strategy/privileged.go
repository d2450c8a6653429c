package strategy

import (
	"context"
	"fmt"

	"github.com/chanaliuxing/dirtyapply/pkg/companion"
	"github.com/chanaliuxing/dirtyapply/pkg/detect"
	"github.com/chanaliuxing/dirtyapply/pkg/dom"
	"github.com/chanaliuxing/dirtyapply/pkg/plan"
	"github.com/chanaliuxing/dirtyapply/pkg/viewport"
)

// privilegedStrategy drives the real pointer and keyboard through the
// companion service, aiming at coordinates from the viewport translator. The
// page cannot distinguish it from a human.
type privilegedStrategy struct{}

func init() {
	RegisterStrategyFactory(plan.ModePrivileged, func(ec *ExecContext) (Strategy, error) {
		if ec.Companion == nil {
			return nil, fmt.Errorf("privileged input requires a companion client")
		}
		return &privilegedStrategy{}, nil
	})
}

func (s *privilegedStrategy) Name() plan.Mode { return plan.ModePrivileged }

func (s *privilegedStrategy) Attempt(ctx context.Context, step plan.ActionStep, ec *ExecContext) error {
	desc, err := resolveTarget(step, ec)
	if err != nil {
		return err
	}

	doc, err := ec.Target.Snapshot()
	if err != nil {
		return fmt.Errorf("capturing snapshot: %w", err)
	}
	tr := &viewport.Translator{Scroller: &scrollerAdapter{t: ec.Target}}
	pt, err := tr.ToScreenPoint(ctx, doc, desc.Locator)
	if err != nil {
		return err
	}

	switch desc.Kind {
	case detect.KindButton, detect.KindCheckbox, detect.KindRadio:
		resp, err := ec.Companion.Click(ctx, companion.ClickRequest{X: pt.X, Y: pt.Y})
		if err := companionResult("clicking", step.TargetKey, resp, err); err != nil {
			return err
		}
	case detect.KindSelect:
		// Selects need the option list; pointer input cannot pick a value
		// reliably, so fall through to later strategies.
		return fmt.Errorf("privileged input cannot choose select options for %q", step.TargetKey)
	case detect.KindFile:
		// Clicking the input opens the native file dialog; the companion
		// drives the dialog with the path.
		resp, err := ec.Companion.Click(ctx, companion.ClickRequest{X: pt.X, Y: pt.Y})
		if err := companionResult("clicking", step.TargetKey, resp, err); err != nil {
			return err
		}
		resp, err = ec.Companion.Upload(ctx, companion.UploadRequest{FilePath: step.Value})
		if err := companionResult("uploading to", step.TargetKey, resp, err); err != nil {
			return err
		}
	default:
		resp, err := ec.Companion.Focus(ctx, companion.FocusRequest{X: pt.X, Y: pt.Y})
		if err := companionResult("focusing", step.TargetKey, resp, err); err != nil {
			return err
		}
		resp, err = ec.Companion.Type(ctx, companion.TypeRequest{Text: step.Value})
		if err := companionResult("typing into", step.TargetKey, resp, err); err != nil {
			return err
		}
	}
	return nil
}

// scrollerAdapter bridges the execution target to the viewport translator's
// scroll-and-recapture contract.
type scrollerAdapter struct {
	t Target
}

func (a *scrollerAdapter) ScrollIntoView(_ context.Context, loc dom.Locator) error {
	return a.t.ScrollIntoView(loc)
}

func (a *scrollerAdapter) Snapshot(_ context.Context) (*dom.Document, error) {
	return a.t.Snapshot()
}
