// Package strategy executes action plans step by step, attempting each step's
// strategies in their fixed preference order and recording every attempt.
package strategy

import (
	"context"
	"fmt"

	"github.com/chanaliuxing/dirtyapply/pkg/audit"
	"github.com/chanaliuxing/dirtyapply/pkg/companion"
	"github.com/chanaliuxing/dirtyapply/pkg/detect"
	"github.com/chanaliuxing/dirtyapply/pkg/dom"
	"github.com/chanaliuxing/dirtyapply/pkg/plan"
	"github.com/chanaliuxing/dirtyapply/pkg/types"
)

// Target is the page under automation. The browser session implements it for
// live runs; the offline harness implements it for deterministic execution.
type Target interface {
	URL() string
	Snapshot() (*dom.Document, error)
	SetValue(l dom.Locator, value string) error
	ScrollIntoView(l dom.Locator) error
}

// Companion is the subset of the companion client used by strategies.
type Companion interface {
	Focus(ctx context.Context, req companion.FocusRequest) (*companion.ActionResponse, error)
	Type(ctx context.Context, req companion.TypeRequest) (*companion.ActionResponse, error)
	Click(ctx context.Context, req companion.ClickRequest) (*companion.ActionResponse, error)
	OpticalClick(ctx context.Context, req companion.OpticalClickRequest) (*companion.ActionResponse, error)
	Upload(ctx context.Context, req companion.UploadRequest) (*companion.ActionResponse, error)
}

// FileSetter is the optional Target capability for attaching files to file
// inputs. The browser session binds files natively; the harness records them.
type FileSetter interface {
	SetFiles(l dom.Locator, paths []string) error
}

// ScreenshotFunc captures the screen after a physical-input attempt and
// stores it, returning a reference for the attempt's audit record.
type ScreenshotFunc func(ctx context.Context, stepID string, mode plan.Mode) (string, error)

// companionResult folds a companion reply into a single attempt error. The
// service reports driver failures as HTTP 200 with Success=false, so the
// transport error alone does not cover them.
func companionResult(op, target string, resp *companion.ActionResponse, err error) error {
	if err != nil {
		return fmt.Errorf("%s %q: %w", op, target, err)
	}
	if !resp.Success {
		return fmt.Errorf("%s %q failed: %s", op, target, resp.Message)
	}
	return nil
}

// ExecContext carries everything a strategy needs for one plan execution.
type ExecContext struct {
	Target    Target
	Companion Companion
	Index     plan.TargetIndex
	Recorder  audit.Recorder
	Logger    types.Logger

	// ConfidenceThreshold gates optical matches; below it the match is
	// reported but never clicked.
	ConfidenceThreshold float64

	// EscalateOptical asks a human to approve clicking an optical match whose
	// confidence fell below the threshold. Approval retries the click at the
	// reported confidence; a nil hook or a refusal fails the attempt.
	EscalateOptical func(ctx context.Context, label string, confidence float64) (bool, error)

	// Screenshot, when non-nil, is called after every privileged and optical
	// attempt to capture the screen for the audit trail.
	Screenshot ScreenshotFunc

	// Harness marks a deterministic offline target; scripted-verify only
	// runs there.
	Harness bool

	// SubmitGate runs before the submit step is dispatched. A non-nil error
	// skips the step with the error's kind as the reason.
	SubmitGate func(ctx context.Context) error
}

// Strategy is one way of performing a step.
type Strategy interface {
	Name() plan.Mode
	Attempt(ctx context.Context, step plan.ActionStep, ec *ExecContext) error
}

type StrategyFactory func(ec *ExecContext) (Strategy, error)

// registry stores each strategy's factory. Strategies register in their
// init() functions; getStrategy resolves a step mode to a fresh instance.
var registry = map[plan.Mode]StrategyFactory{}

func RegisterStrategyFactory(mode plan.Mode, factory StrategyFactory) {
	registry[mode] = factory
}

func getStrategy(mode plan.Mode, ec *ExecContext) (Strategy, error) {
	factory, ok := registry[mode]
	if !ok {
		return nil, fmt.Errorf("no strategy registered for mode: %s", mode)
	}
	return factory(ec)
}

// resolveTarget narrows a step's target key to its single descriptor.
func resolveTarget(step plan.ActionStep, ec *ExecContext) (detect.FieldDescriptor, error) {
	return ec.Index.ResolveTarget(step.TargetKey, step.Stage)
}
