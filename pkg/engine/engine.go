// Package engine orchestrates one application session: detect fields, build
// the plan, run the safety gates, execute, and report.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/chanaliuxing/dirtyapply/pkg/audit"
	"github.com/chanaliuxing/dirtyapply/pkg/detect"
	"github.com/chanaliuxing/dirtyapply/pkg/plan"
	"github.com/chanaliuxing/dirtyapply/pkg/safety"
	"github.com/chanaliuxing/dirtyapply/pkg/strategy"
	"github.com/chanaliuxing/dirtyapply/pkg/types"
)

// ErrDetectionEmpty reports that the page yielded no fillable fields.
var ErrDetectionEmpty = errors.New("no fillable fields detected")

// State is the plan lifecycle position.
type State string

const (
	StateCreated              State = "created"
	StateDomainChecked        State = "domain-checked"
	StateExecuting            State = "executing"
	StateAwaitingConfirmation State = "awaiting-confirmation"
	StateSubmitted            State = "submitted"
	StateSubmitSkipped        State = "submit-skipped"
)

// RunOptions configures one session.
type RunOptions struct {
	AllowSubmit         bool
	Values              map[string]string
	Companion           strategy.Companion
	ConfidenceThreshold float64
	Harness             bool
	SimilarityThreshold float64

	// Screenshot stores attempt screenshots for the audit trail. Nil
	// disables capture.
	Screenshot strategy.ScreenshotFunc
}

// RunReport is the session outcome: the plan that ran, the lifecycle state it
// reached, and every execution result in order.
type RunReport struct {
	Plan    *plan.ActionPlan       `json:"plan"`
	State   State                  `json:"state"`
	Results []plan.ExecutionResult `json:"results"`
}

// Engine wires the pipeline together. All collaborators are required except
// Recorder, which may be nil to disable the audit trail.
type Engine struct {
	Builder  *plan.Builder
	Governor *safety.Governor
	Executor *strategy.Executor
	Recorder audit.Recorder
	Logger   types.Logger
	Now      func() time.Time
}

// Run performs the full pipeline against a target. A non-whitelisted domain
// aborts before any step executes; quota and confirmation gates guard only
// the submit step.
func (e *Engine) Run(ctx context.Context, target strategy.Target, opts RunOptions) (*RunReport, error) {
	doc, err := target.Snapshot()
	if err != nil {
		return nil, err
	}

	fields := detect.Detect(doc)
	controls := detect.DetectControls(doc)
	if len(fields) == 0 {
		e.Logger.Warn().Str("url", doc.URL).Msg("Detection found no fillable fields")
		return &RunReport{State: StateCreated}, ErrDetectionEmpty
	}
	e.Logger.Info().
		Int("fields", len(fields)).
		Int("controls", len(controls)).
		Msg("Detection complete")

	p, index, err := e.Builder.Build(doc.Origin(), fields, controls, opts.Values, plan.Options{
		AllowSubmitStep:     opts.AllowSubmit,
		SimilarityThreshold: opts.SimilarityThreshold,
	})
	if err != nil {
		return nil, err
	}
	report := &RunReport{Plan: p, State: StateCreated}

	if d := e.Governor.CheckDomain(p.ID, p.PageOrigin); !d.Allow {
		e.Logger.Error().
			Str("plan_id", p.ID).
			Str("origin", p.PageOrigin).
			Msg("Domain not whitelisted, aborting plan")
		return report, plan.ErrDomainNotWhitelisted
	}
	report.State = StateDomainChecked

	ec := &strategy.ExecContext{
		Target:              target,
		Companion:           opts.Companion,
		Index:               index,
		Recorder:            e.Recorder,
		Logger:              e.Logger,
		ConfidenceThreshold: opts.ConfidenceThreshold,
		Harness:             opts.Harness,
		Screenshot:          opts.Screenshot,
		SubmitGate: func(gateCtx context.Context) error {
			return e.submitGate(gateCtx, p, report)
		},
		EscalateOptical: func(escCtx context.Context, label string, confidence float64) (bool, error) {
			d := e.Governor.CheckOpticalEscalation(escCtx, p, label, confidence)
			return d.Allow, nil
		},
	}

	report.State = StateExecuting
	results, err := e.Executor.Run(ctx, p, ec)
	report.Results = results
	if err != nil {
		return report, err
	}

	report.State = e.finalState(p, results)
	e.Logger.Info().
		Str("plan_id", p.ID).
		Str("state", string(report.State)).
		Int("results", len(results)).
		Msg("Plan finished")
	return report, nil
}

// submitGate runs the quota and confirmation checks immediately before the
// submit step dispatches. Quota increments first so an approved-but-failed
// submit still consumes the slot.
func (e *Engine) submitGate(ctx context.Context, p *plan.ActionPlan, report *RunReport) error {
	if d := e.Governor.CheckQuota(ctx, p.ID, e.now()); !d.Allow {
		return plan.ErrQuotaExceeded
	}
	report.State = StateAwaitingConfirmation
	if d := e.Governor.CheckConfirmation(ctx, p); !d.Allow {
		if d.Reason == string(plan.KindConfirmationTimeout) {
			return plan.ErrConfirmationTimeout
		}
		return plan.ErrConfirmationDenied
	}
	return nil
}

func (e *Engine) finalState(p *plan.ActionPlan, results []plan.ExecutionResult) State {
	submit := p.SubmitStep()
	if submit == nil {
		return StateSubmitSkipped
	}
	for _, r := range results {
		if r.StepID == submit.ID && r.Status == plan.StatusSuccess {
			return StateSubmitted
		}
	}
	return StateSubmitSkipped
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
