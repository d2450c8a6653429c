package plan_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanaliuxing/dirtyapply/pkg/detect"
	"github.com/chanaliuxing/dirtyapply/pkg/dom"
	"github.com/chanaliuxing/dirtyapply/pkg/log"
	"github.com/chanaliuxing/dirtyapply/pkg/plan"
)

func fixedBuilder() *plan.Builder {
	b := plan.NewBuilder(log.Nop())
	b.Now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	return b
}

func loc(name string) dom.Locator {
	return dom.Locator{Hops: []dom.Hop{
		{Tag: "html"},
		{Tag: "body"},
		{Tag: "input", Attributes: map[string]string{"name": name}},
	}}
}

func testFields() []detect.FieldDescriptor {
	return []detect.FieldDescriptor{
		{Key: "first_name", Kind: detect.KindText, Locator: loc("first_name"), Visible: true, Label: "First Name", Stage: 0},
		{Key: "email", Kind: detect.KindEmail, Locator: loc("email"), Visible: true, Label: "Email", Stage: 0},
		{Key: "phone", Kind: detect.KindTel, Locator: loc("phone"), Visible: false, Label: "Phone", Stage: 1},
	}
}

func testControls() []detect.Control {
	return []detect.Control{
		{Role: detect.ControlAdvance, Locator: loc("next"), Label: "Next", Stage: 0, Visible: true},
		{Role: detect.ControlSubmit, Locator: loc("submit"), Label: "Submit", Stage: 1, Visible: true},
	}
}

func testValues() map[string]string {
	return map[string]string{
		"first_name": "Ada",
		"email":      "ada@example.com",
		"phone":      "555-0100",
	}
}

func TestBuildDeterministic(t *testing.T) {
	b := fixedBuilder()

	p1, _, err := b.Build("https://jobs.example.com", testFields(), testControls(), testValues(), plan.Options{AllowSubmitStep: true})
	require.NoError(t, err)
	p2, _, err := b.Build("https://jobs.example.com", testFields(), testControls(), testValues(), plan.Options{AllowSubmitStep: true})
	require.NoError(t, err)

	d1, err := p1.Encode()
	require.NoError(t, err)
	d2, err := p2.Encode()
	require.NoError(t, err)
	assert.Equal(t, string(d1), string(d2), "identical inputs must yield byte-identical plans")
	assert.Equal(t, p1.ID, p2.ID)
}

func TestBuildStagesAndAdvance(t *testing.T) {
	b := fixedBuilder()

	p, index, err := b.Build("https://jobs.example.com", testFields(), testControls(), testValues(), plan.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, p.StageCount)

	var advance *plan.ActionStep
	for i := range p.Steps {
		if p.Steps[i].TargetKey == "advance_1" {
			advance = &p.Steps[i]
		}
	}
	require.NotNil(t, advance, "plan should hold an advance step between stages")
	require.NotNil(t, advance.WaitFor)
	assert.Equal(t, plan.WaitElementAppears, advance.WaitFor.Kind)
	assert.NotEmpty(t, advance.DependsOn, "advance must wait for the previous stage")

	// Stage-1 fill steps depend on the advance step.
	for _, s := range p.Steps {
		if s.Stage == 1 && s.TargetKey == "phone" {
			assert.Equal(t, []string{advance.ID}, s.DependsOn)
		}
	}

	_, err = index.ResolveTarget("advance_1", 0)
	require.NoError(t, err)
}

func TestBuildSubmitStep(t *testing.T) {
	b := fixedBuilder()

	p, _, err := b.Build("https://jobs.example.com", testFields(), testControls(), testValues(), plan.Options{AllowSubmitStep: true})
	require.NoError(t, err)

	submit := p.SubmitStep()
	require.NotNil(t, submit)
	assert.Equal(t, plan.SubmitModes, submit.Modes, "submit must never use structural mutation")
	require.NotNil(t, submit.WaitFor)
	assert.Equal(t, plan.WaitURLChange, submit.WaitFor.Kind)

	// Submit depends on every final-stage fill step.
	deps := map[string]struct{}{}
	for _, dep := range submit.DependsOn {
		deps[dep] = struct{}{}
	}
	covered := 0
	for _, s := range p.Steps {
		if s.Stage == 1 && s.ID != submit.ID && s.TargetKey == "phone" {
			_, ok := deps[s.ID]
			assert.True(t, ok, "submit must depend on final-stage step %s", s.ID)
			covered++
		}
	}
	assert.Equal(t, 1, covered)
}

func TestBuildWithoutSubmitByDefault(t *testing.T) {
	b := fixedBuilder()

	p, _, err := b.Build("https://jobs.example.com", testFields(), testControls(), testValues(), plan.Options{})
	require.NoError(t, err)
	assert.Nil(t, p.SubmitStep())
}

func TestBuildFuzzyMatching(t *testing.T) {
	b := fixedBuilder()

	fields := []detect.FieldDescriptor{
		{Key: "your_first_name", Kind: detect.KindText, Locator: loc("a"), Visible: true, Label: "First Name", Stage: 0},
		{Key: "field_7", Kind: detect.KindText, Locator: loc("b"), Visible: true, Label: "Referral code", Stage: 0},
	}
	values := map[string]string{"first_name": "Ada"}

	p, _, err := b.Build("https://jobs.example.com", fields, nil, values, plan.Options{})
	require.NoError(t, err)

	require.Len(t, p.Steps, 1, "only the fuzzy-matched field gets a step")
	assert.Equal(t, "your_first_name", p.Steps[0].TargetKey)
	assert.Equal(t, "Ada", p.Steps[0].Value)
}

func TestBuildDropsInvisibleCurrentStageFields(t *testing.T) {
	b := fixedBuilder()

	fields := []detect.FieldDescriptor{
		{Key: "first_name", Kind: detect.KindText, Locator: loc("a"), Visible: true, Label: "First Name", Stage: 0},
		{Key: "honeypot", Kind: detect.KindText, Locator: loc("b"), Visible: false, Label: "Honeypot", Stage: 0},
	}
	values := map[string]string{"first_name": "Ada", "honeypot": "x"}

	p, _, err := b.Build("https://jobs.example.com", fields, nil, values, plan.Options{})
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, "first_name", p.Steps[0].TargetKey)
}

func TestBuildEmptyFields(t *testing.T) {
	b := fixedBuilder()
	p, index, err := b.Build("https://jobs.example.com", nil, nil, testValues(), plan.Options{AllowSubmitStep: true})
	require.NoError(t, err)
	assert.Empty(t, p.Steps)
	assert.Empty(t, index)
}

func TestPlanEncodeDecodeRoundTrip(t *testing.T) {
	b := fixedBuilder()
	p, _, err := b.Build("https://jobs.example.com", testFields(), testControls(), testValues(), plan.Options{AllowSubmitStep: true})
	require.NoError(t, err)

	data, err := p.Encode()
	require.NoError(t, err)
	decoded, err := plan.Decode(data)
	require.NoError(t, err)

	again, err := decoded.Encode()
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestResolveTargetFailsClosed(t *testing.T) {
	index := plan.TargetIndex{
		"email": {
			{Key: "email", Stage: 0},
			{Key: "email", Stage: 1},
		},
	}

	_, err := index.ResolveTarget("email", 0)
	require.NoError(t, err)

	_, err = index.ResolveTarget("missing", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, plan.ErrFieldUnresolved)

	index["email"] = append(index["email"], detectDescriptor("email", 0))
	_, err = index.ResolveTarget("email", 0)
	assert.ErrorIs(t, err, plan.ErrFieldUnresolved, "two descriptors in one stage must not resolve")
}

func detectDescriptor(key string, stage int) detect.FieldDescriptor {
	return detect.FieldDescriptor{Key: key, Stage: stage}
}
