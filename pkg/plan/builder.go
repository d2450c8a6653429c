package plan

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/chanaliuxing/dirtyapply/pkg/detect"
	"github.com/chanaliuxing/dirtyapply/pkg/types"
)

// DefaultSimilarityThreshold is the fuzzy label-match cutoff. Fields whose
// best match scores below it are dropped from the plan (and logged), not
// surfaced for manual mapping.
const DefaultSimilarityThreshold = 0.72

// DefaultAdvanceWaitMs bounds the wait for the next wizard stage to appear.
const DefaultAdvanceWaitMs = 10000

// Options control a single Build invocation.
type Options struct {
	// AllowSubmitStep appends the terminal submit step. Without it the plan
	// fills fields and stops, leaving the form for the user to review.
	AllowSubmitStep bool

	// SimilarityThreshold overrides DefaultSimilarityThreshold when > 0.
	SimilarityThreshold float64

	// AdvanceWaitMs overrides DefaultAdvanceWaitMs when > 0.
	AdvanceWaitMs int
}

func (o Options) threshold() float64 {
	if o.SimilarityThreshold > 0 {
		return o.SimilarityThreshold
	}
	return DefaultSimilarityThreshold
}

func (o Options) advanceWait() int {
	if o.AdvanceWaitMs > 0 {
		return o.AdvanceWaitMs
	}
	return DefaultAdvanceWaitMs
}

// Builder maps detected fields plus an applicant value map into an
// ActionPlan. Building is deterministic: identical inputs (and a fixed
// clock) produce byte-identical plans.
type Builder struct {
	Logger types.Logger

	// Now is the clock used for plan metadata. Injectable for tests.
	Now func() time.Time
}

func NewBuilder(logger types.Logger) *Builder {
	return &Builder{Logger: logger, Now: time.Now}
}

// Build produces the plan and the target index the executor resolves step
// keys against. An empty field list yields an empty plan, never an error.
func (b *Builder) Build(origin string, fields []detect.FieldDescriptor, controls []detect.Control, values map[string]string, opts Options) (*ActionPlan, TargetIndex, error) {
	index := TargetIndex{}
	matched := b.matchFields(fields, values, opts.threshold())

	currentStage := 0
	haveVisible := false
	for _, m := range matched {
		if m.field.Visible && (!haveVisible || m.field.Stage < currentStage) {
			currentStage = m.field.Stage
			haveVisible = true
		}
	}

	// Invisible fields in the currently reachable stage have nothing to
	// reveal them; they are dropped rather than staged.
	kept := matched[:0]
	for _, m := range matched {
		if !m.field.Visible && m.field.Stage <= currentStage {
			b.Logger.Debug().Str("key", m.field.Key).Msg("Skipping invisible field in current stage")
			continue
		}
		kept = append(kept, m)
	}

	stages := stageList(kept)
	p := &ActionPlan{
		PageOrigin:  origin,
		GeneratedAt: b.Now().UTC(),
		StageCount:  len(stages),
	}

	stepOrdinal := 0
	var prevStageSteps []string
	for stageIdx, stage := range stages {
		var stageSteps []string
		var advanceID string

		if stageIdx > 0 {
			first := firstFieldOfStage(kept, stage)
			ctrl, ok := advanceControl(controls, stages[stageIdx-1])
			if !ok {
				b.Logger.Warn().Int("stage", stage).Msg("No advance control found; relying on element-appears wait alone")
			} else {
				advanceID = fmt.Sprintf("advance-%d", stageIdx)
				key := fmt.Sprintf("advance_%d", stageIdx)
				index[key] = append(index[key], controlDescriptor(key, ctrl))
				p.Steps = append(p.Steps, ActionStep{
					ID:        advanceID,
					TargetKey: key,
					Modes:     append([]Mode(nil), FillModes...),
					DependsOn: append([]string(nil), prevStageSteps...),
					WaitFor: &WaitCondition{
						Kind:      WaitElementAppears,
						Locator:   &first.Locator,
						TimeoutMs: opts.advanceWait(),
					},
					Stage: stages[stageIdx-1],
				})
				stageSteps = append(stageSteps, advanceID)
			}
		}

		for _, m := range kept {
			if m.field.Stage != stage {
				continue
			}
			stepOrdinal++
			id := fmt.Sprintf("step-%03d", stepOrdinal)
			index[m.field.Key] = append(index[m.field.Key], m.field)
			var deps []string
			if advanceID != "" {
				deps = []string{advanceID}
			}
			p.Steps = append(p.Steps, ActionStep{
				ID:        id,
				TargetKey: m.field.Key,
				Modes:     append([]Mode(nil), FillModes...),
				Value:     m.value,
				DependsOn: deps,
				Stage:     stage,
			})
			stageSteps = append(stageSteps, id)
		}
		prevStageSteps = stageSteps
	}

	if opts.AllowSubmitStep && len(p.Steps) > 0 {
		finalStage := stages[len(stages)-1]
		if ctrl, ok := submitControl(controls, finalStage); ok {
			index[SubmitKey] = append(index[SubmitKey], controlDescriptor(SubmitKey, ctrl))
			p.Steps = append(p.Steps, ActionStep{
				ID:        SubmitKey,
				TargetKey: SubmitKey,
				Modes:     append([]Mode(nil), SubmitModes...),
				DependsOn: append([]string(nil), prevStageSteps...),
				WaitFor:   &WaitCondition{Kind: WaitURLChange, TimeoutMs: opts.advanceWait()},
				Stage:     finalStage,
			})
		} else {
			b.Logger.Warn().Msg("Submit step requested but no submit control detected; plan built without one")
		}
	}

	p.ID = planID(origin, p.Steps)
	return p, index, nil
}

type matchedField struct {
	field detect.FieldDescriptor
	value string
}

// matchFields pairs descriptors with values: exact key match first, then the
// best fuzzy label match at or above the threshold. Fields below threshold
// are dropped and the decision is logged.
func (b *Builder) matchFields(fields []detect.FieldDescriptor, values map[string]string, threshold float64) []matchedField {
	var out []matchedField
	for _, f := range fields {
		if v, ok := values[f.Key]; ok {
			out = append(out, matchedField{field: f, value: v})
			continue
		}
		bestKey, bestScore := "", 0.0
		for vk := range values {
			score := Similarity(f.Key, vk)
			if s := Similarity(f.Label, vk); s > score {
				score = s
			}
			if score > bestScore || (score == bestScore && vk < bestKey) {
				bestKey, bestScore = vk, score
			}
		}
		if bestScore >= threshold {
			b.Logger.Debug().
				Str("key", f.Key).
				Str("matched_value_key", bestKey).
				Float64("score", bestScore).
				Msg("Fuzzy-matched field to value")
			out = append(out, matchedField{field: f, value: values[bestKey]})
			continue
		}
		b.Logger.Debug().
			Str("key", f.Key).
			Float64("best_score", bestScore).
			Msg("No value matched field; dropping")
	}
	return out
}

func stageList(matched []matchedField) []int {
	seen := map[int]struct{}{}
	var stages []int
	for _, m := range matched {
		if _, ok := seen[m.field.Stage]; !ok {
			seen[m.field.Stage] = struct{}{}
			stages = append(stages, m.field.Stage)
		}
	}
	sort.Ints(stages)
	return stages
}

func firstFieldOfStage(matched []matchedField, stage int) detect.FieldDescriptor {
	for _, m := range matched {
		if m.field.Stage == stage {
			return m.field
		}
	}
	return detect.FieldDescriptor{}
}

func advanceControl(controls []detect.Control, stage int) (detect.Control, bool) {
	for _, c := range controls {
		if c.Role == detect.ControlAdvance && c.Stage == stage {
			return c, true
		}
	}
	for _, c := range controls {
		if c.Role == detect.ControlAdvance {
			return c, true
		}
	}
	return detect.Control{}, false
}

func submitControl(controls []detect.Control, finalStage int) (detect.Control, bool) {
	for _, c := range controls {
		if c.Role == detect.ControlSubmit && c.Stage == finalStage {
			return c, true
		}
	}
	for _, c := range controls {
		if c.Role == detect.ControlSubmit {
			return c, true
		}
	}
	return detect.Control{}, false
}

func controlDescriptor(key string, c detect.Control) detect.FieldDescriptor {
	return detect.FieldDescriptor{
		Key:     key,
		Kind:    detect.KindButton,
		Locator: c.Locator,
		Visible: c.Visible,
		Label:   c.Label,
		Stage:   c.Stage,
	}
}

// planID is a stable digest of the plan's structure, so superseding plans
// for a changed page get distinct identifiers without sacrificing build
// determinism.
func planID(origin string, steps []ActionStep) string {
	h := fnv.New64a()
	h.Write([]byte(origin))
	for _, s := range steps {
		h.Write([]byte(s.ID))
		h.Write([]byte(s.TargetKey))
		h.Write([]byte(s.Value))
	}
	return fmt.Sprintf("plan-%016x", h.Sum64())
}

// Decode re-parses a serialized plan. Plans round-trip without loss.
func Decode(data []byte) (*ActionPlan, error) {
	var p ActionPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding action plan: %w", err)
	}
	return &p, nil
}

// Encode serializes the plan as plain structured records.
func (p *ActionPlan) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding action plan: %w", err)
	}
	return data, nil
}
