// Package plan builds and describes action plans: ordered, dependency-
// annotated sequences of fill/click/wait steps for one page session.
package plan

import (
	"fmt"
	"time"

	"github.com/chanaliuxing/dirtyapply/pkg/detect"
	"github.com/chanaliuxing/dirtyapply/pkg/dom"
)

// Mode is one execution strategy, attempted in the fixed preference order
// recorded on each step.
type Mode string

const (
	ModeStructural Mode = "structural-mutation"
	ModePrivileged Mode = "privileged-input"
	ModeOptical    Mode = "optical-locate"
	ModeScripted   Mode = "scripted-verify"
)

// FillModes is the full candidate list for ordinary fill steps.
var FillModes = []Mode{ModeStructural, ModePrivileged, ModeOptical, ModeScripted}

// SubmitModes never includes structural mutation: submission must pass
// through real input so page-level validation cannot be bypassed.
var SubmitModes = []Mode{ModePrivileged, ModeOptical, ModeScripted}

// SubmitKey is the synthetic target key of the terminal submit step.
const SubmitKey = "submit"

// WaitKind identifies a post-step wait condition.
type WaitKind string

const (
	WaitURLChange         WaitKind = "url-change"
	WaitElementAppears    WaitKind = "element-appears"
	WaitElementDisappears WaitKind = "element-disappears"
	WaitTimer             WaitKind = "timeout"
)

// WaitCondition suspends execution after a step until the condition holds or
// the timeout cancels the wait and fails the step.
type WaitCondition struct {
	Kind      WaitKind     `json:"kind"`
	Locator   *dom.Locator `json:"locator,omitempty"`
	TimeoutMs int          `json:"timeout_ms,omitempty"`
}

// ActionStep is one immutable unit of work in a plan.
type ActionStep struct {
	ID        string         `json:"id"`
	TargetKey string         `json:"target_key"`
	Modes     []Mode         `json:"mode"`
	Value     string         `json:"value,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
	WaitFor   *WaitCondition `json:"wait_for,omitempty"`
	Stage     int            `json:"stage"`
}

// ActionPlan is the ordered DAG of steps built once per page session. A plan
// is never mutated; a materially changed page gets a superseding plan.
type ActionPlan struct {
	ID          string       `json:"id"`
	PageOrigin  string       `json:"page_origin"`
	GeneratedAt time.Time    `json:"generated_at"`
	StageCount  int          `json:"stage_count"`
	Steps       []ActionStep `json:"steps"`
}

// SubmitStep returns the plan's submit step, or nil.
func (p *ActionPlan) SubmitStep() *ActionStep {
	for i := range p.Steps {
		if p.Steps[i].TargetKey == SubmitKey {
			return &p.Steps[i]
		}
	}
	return nil
}

// Status is a per-step (or per-attempt) outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// ExecutionResult records one strategy attempt for a step. Results are
// append-only: every attempt, not just the final one per step, produces a
// record.
type ExecutionResult struct {
	StepID        string    `json:"step_id"`
	StrategyUsed  Mode      `json:"strategy_used,omitempty"`
	Status        Status    `json:"status"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	ElapsedMs     int64     `json:"elapsed_ms"`
	ScreenshotRef string    `json:"screenshot_ref,omitempty"`
}

// TargetIndex maps step target keys to the descriptors they may refer to.
// Duplicate semantic keys across stages are legal; resolution narrows by
// stage and fails closed unless exactly one descriptor remains.
type TargetIndex map[string][]detect.FieldDescriptor

// ResolveTarget returns the single descriptor for (key, stage).
func (ti TargetIndex) ResolveTarget(key string, stage int) (detect.FieldDescriptor, error) {
	candidates := ti[key]
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	var matched []detect.FieldDescriptor
	for _, c := range candidates {
		if c.Stage == stage {
			matched = append(matched, c)
		}
	}
	if len(matched) != 1 {
		return detect.FieldDescriptor{}, fmt.Errorf("%w: key %q matches %d descriptors", ErrFieldUnresolved, key, len(matched))
	}
	return matched[0], nil
}
