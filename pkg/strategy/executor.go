package strategy

import (
	"context"
	"time"

	"github.com/chanaliuxing/dirtyapply/pkg/audit"
	"github.com/chanaliuxing/dirtyapply/pkg/plan"
)

// Executor runs a plan's steps in dependency order. Every strategy attempt
// produces one ExecutionResult and one audit record; dependents of failed or
// skipped steps are skipped, never attempted.
type Executor struct {
	Now func() time.Time
}

func NewExecutor() *Executor {
	return &Executor{Now: time.Now}
}

// Run executes the plan against the context's target. The returned results
// include every attempt, in execution order. A context cancellation stops at
// the next step boundary; already-dispatched actions are recorded as-is.
func (e *Executor) Run(ctx context.Context, p *plan.ActionPlan, ec *ExecContext) ([]plan.ExecutionResult, error) {
	results := make([]plan.ExecutionResult, 0, len(p.Steps))
	status := make(map[string]plan.Status, len(p.Steps))

	for _, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		if blocked := e.blockedByDependency(step, status); blocked {
			res := plan.ExecutionResult{StepID: step.ID, Status: plan.StatusSkipped}
			results = append(results, res)
			status[step.ID] = plan.StatusSkipped
			e.record(p.ID, res, ec)
			ec.Logger.Info().Str("step_id", step.ID).Msg("Step skipped: dependency did not succeed")
			continue
		}

		if step.TargetKey == plan.SubmitKey && ec.SubmitGate != nil {
			if err := ec.SubmitGate(ctx); err != nil {
				res := plan.ExecutionResult{StepID: step.ID, Status: plan.StatusSkipped, ErrorKind: plan.Classify(err)}
				results = append(results, res)
				status[step.ID] = plan.StatusSkipped
				e.record(p.ID, res, ec)
				ec.Logger.Warn().
					Str("step_id", step.ID).
					Str("error_kind", string(res.ErrorKind)).
					Msg("Submit step skipped by safety gate")
				continue
			}
		}

		stepResults, final := e.runStep(ctx, p.ID, step, ec)
		results = append(results, stepResults...)
		status[step.ID] = final
	}

	return results, nil
}

// runStep attempts the step's strategies in order. It returns one result per
// attempt plus, when no strategy succeeded, a terminal exhausted result.
func (e *Executor) runStep(ctx context.Context, planID string, step plan.ActionStep, ec *ExecContext) ([]plan.ExecutionResult, plan.Status) {
	var results []plan.ExecutionResult

	for _, mode := range step.Modes {
		strat, err := getStrategy(mode, ec)
		if err != nil {
			// Strategy unavailable in this context (no companion, not a
			// harness). Not an attempt, so no record.
			ec.Logger.Debug().
				Str("step_id", step.ID).
				Str("strategy", string(mode)).
				Err(err).
				Msg("Strategy unavailable, trying next")
			continue
		}

		start := e.Now()
		preURL := ec.Target.URL()
		err = strat.Attempt(ctx, step, ec)
		if err == nil && step.WaitFor != nil {
			err = waitFor(ctx, ec.Target, step.WaitFor, preURL)
		}
		res := plan.ExecutionResult{
			StepID:       step.ID,
			StrategyUsed: mode,
			Status:       plan.StatusSuccess,
			ElapsedMs:    e.Now().Sub(start).Milliseconds(),
		}
		if err != nil {
			res.Status = plan.StatusFailed
			res.ErrorKind = plan.Classify(err)
		}
		// Physical-input attempts leave a screenshot in the trail whether or
		// not they succeeded.
		if ec.Screenshot != nil && (mode == plan.ModePrivileged || mode == plan.ModeOptical) {
			ref, shotErr := ec.Screenshot(ctx, step.ID, mode)
			if shotErr != nil {
				ec.Logger.Warn().Err(shotErr).Str("step_id", step.ID).Msg("Attempt screenshot failed")
			} else {
				res.ScreenshotRef = ref
			}
		}
		results = append(results, res)
		e.record(planID, res, ec)

		if err == nil {
			ec.Logger.Info().
				Str("step_id", step.ID).
				Str("strategy", string(mode)).
				Msg("Step succeeded")
			return results, plan.StatusSuccess
		}
		ec.Logger.Warn().
			Str("step_id", step.ID).
			Str("strategy", string(mode)).
			Str("error_kind", string(res.ErrorKind)).
			Err(err).
			Msg("Strategy attempt failed")
	}

	res := plan.ExecutionResult{StepID: step.ID, Status: plan.StatusFailed, ErrorKind: plan.KindStrategyExhausted}
	results = append(results, res)
	e.record(planID, res, ec)
	ec.Logger.Error().Str("step_id", step.ID).Msg("All strategies exhausted")
	return results, plan.StatusFailed
}

func (e *Executor) blockedByDependency(step plan.ActionStep, status map[string]plan.Status) bool {
	for _, dep := range step.DependsOn {
		if st, ok := status[dep]; !ok || st != plan.StatusSuccess {
			return true
		}
	}
	return false
}

func (e *Executor) record(planID string, res plan.ExecutionResult, ec *ExecContext) {
	if ec.Recorder == nil {
		return
	}
	if err := ec.Recorder.Append(audit.Record{
		Kind:          audit.KindAttempt,
		PlanID:        planID,
		StepID:        res.StepID,
		StrategyUsed:  string(res.StrategyUsed),
		Status:        string(res.Status),
		ErrorKind:     string(res.ErrorKind),
		ScreenshotRef: res.ScreenshotRef,
	}); err != nil {
		ec.Logger.Error().Err(err).Msg("Failed to append attempt to audit trail")
	}
}
