package strategy_test

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanaliuxing/dirtyapply/pkg/audit"
	"github.com/chanaliuxing/dirtyapply/pkg/companion"
	"github.com/chanaliuxing/dirtyapply/pkg/detect"
	"github.com/chanaliuxing/dirtyapply/pkg/dom"
	"github.com/chanaliuxing/dirtyapply/pkg/log"
	"github.com/chanaliuxing/dirtyapply/pkg/plan"
	"github.com/chanaliuxing/dirtyapply/pkg/strategy"
)

const applyFormPage = `<html><body>
<form>
  <label for="fn">First Name</label>
  <input type="text" id="fn" name="first_name" style="left:100px;top:40px;width:200px;height:20px">
  <label for="em">Email</label>
  <input type="email" id="em" name="email" style="left:100px;top:80px;width:200px;height:20px">
  <button type="submit" style="left:100px;top:120px;width:120px;height:30px">Submit Application</button>
</form>
</body></html>`

type fixture struct {
	harness  *strategy.Harness
	index    plan.TargetIndex
	recorder *audit.MemoryRecorder
	locators map[string]dom.Locator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	doc, err := dom.ParseHTML(strings.NewReader(applyFormPage), "https://jobs.example.com/apply")
	require.NoError(t, err)

	locators := map[string]dom.Locator{}
	var walk func(n *dom.Node)
	walk = func(n *dom.Node) {
		if n == nil {
			return
		}
		switch {
		case n.Attr("name") != "":
			locators[n.Attr("name")] = dom.LocatorFor(n)
		case n.Tag == "button":
			locators["submit"] = dom.LocatorFor(n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(doc.Root)
	require.Len(t, locators, 3)

	index := plan.TargetIndex{
		"first_name": {{Key: "first_name", Kind: detect.KindText, Locator: locators["first_name"], Visible: true, Label: "First Name"}},
		"email":      {{Key: "email", Kind: detect.KindEmail, Locator: locators["email"], Visible: true, Label: "Email"}},
		"submit":     {{Key: "submit", Kind: detect.KindButton, Locator: locators["submit"], Visible: true, Label: "Submit Application"}},
	}

	return &fixture{
		harness:  strategy.NewHarness(doc),
		index:    index,
		recorder: audit.NewMemoryRecorder(),
		locators: locators,
	}
}

func (f *fixture) execContext(target strategy.Target) *strategy.ExecContext {
	return &strategy.ExecContext{
		Target:   target,
		Index:    f.index,
		Recorder: f.recorder,
		Logger:   log.Nop(),
		Harness:  true,
	}
}

func fillStep(id, key, value string, modes ...plan.Mode) plan.ActionStep {
	return plan.ActionStep{ID: id, TargetKey: key, Value: value, Modes: modes}
}

// failingTarget rejects every mutation while still serving snapshots.
type failingTarget struct {
	*strategy.Harness
	err error
}

func (f *failingTarget) SetValue(dom.Locator, string) error { return f.err }

// fakeCompanion implements the strategy companion surface in memory.
type fakeCompanion struct {
	typed     []string
	clicks    int
	focuses   int
	uploads   []string
	optical   *companion.ActionResponse
	opticalFn func(req companion.OpticalClickRequest) *companion.ActionResponse
	err       error
}

func (c *fakeCompanion) Focus(_ context.Context, _ companion.FocusRequest) (*companion.ActionResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.focuses++
	return &companion.ActionResponse{Success: true}, nil
}

func (c *fakeCompanion) Type(_ context.Context, req companion.TypeRequest) (*companion.ActionResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.typed = append(c.typed, req.Text)
	return &companion.ActionResponse{Success: true}, nil
}

func (c *fakeCompanion) Click(_ context.Context, _ companion.ClickRequest) (*companion.ActionResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.clicks++
	return &companion.ActionResponse{Success: true}, nil
}

func (c *fakeCompanion) OpticalClick(_ context.Context, req companion.OpticalClickRequest) (*companion.ActionResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.opticalFn != nil {
		return c.opticalFn(req), nil
	}
	if c.optical != nil {
		return c.optical, nil
	}
	return &companion.ActionResponse{Success: true, Confidence: 0.95}, nil
}

func (c *fakeCompanion) Upload(_ context.Context, req companion.UploadRequest) (*companion.ActionResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.uploads = append(c.uploads, req.FilePath)
	return &companion.ActionResponse{Success: true}, nil
}

func TestRunStructuralSuccess(t *testing.T) {
	f := newFixture(t)
	ec := f.execContext(f.harness)
	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{
		fillStep("fill:first_name", "first_name", "Ada", plan.ModeStructural),
	}}

	results, err := strategy.NewExecutor().Run(context.Background(), p, ec)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, plan.StatusSuccess, results[0].Status)
	assert.Equal(t, plan.ModeStructural, results[0].StrategyUsed)

	node, err := f.locators["first_name"].Resolve(mustSnapshot(t, f.harness))
	require.NoError(t, err)
	assert.Equal(t, "Ada", node.Attr("value"))

	records := f.recorder.Records()
	require.Len(t, records, 1)
	assert.Equal(t, audit.KindAttempt, records[0].Kind)
	assert.Equal(t, "success", records[0].Status)
}

func TestRunFallsBackToPrivileged(t *testing.T) {
	f := newFixture(t)
	comp := &fakeCompanion{}
	target := &failingTarget{Harness: f.harness, err: errors.New("page rejected mutation")}
	ec := f.execContext(target)
	ec.Companion = comp

	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{
		fillStep("fill:email", "email", "ada@example.com", plan.ModeStructural, plan.ModePrivileged),
	}}

	results, err := strategy.NewExecutor().Run(context.Background(), p, ec)
	require.NoError(t, err)
	require.Len(t, results, 2, "every attempt produces a result")

	assert.Equal(t, plan.ModeStructural, results[0].StrategyUsed)
	assert.Equal(t, plan.StatusFailed, results[0].Status)
	assert.Equal(t, plan.KindUnknown, results[0].ErrorKind)

	assert.Equal(t, plan.ModePrivileged, results[1].StrategyUsed)
	assert.Equal(t, plan.StatusSuccess, results[1].Status)

	assert.Equal(t, 1, comp.focuses)
	assert.Equal(t, []string{"ada@example.com"}, comp.typed)
	assert.Len(t, f.recorder.Records(), 2)
}

func TestRunUnavailableStrategiesAreNotAttempts(t *testing.T) {
	f := newFixture(t)
	target := &failingTarget{Harness: f.harness, err: errors.New("boom")}
	ec := f.execContext(target)
	ec.Harness = false
	// No companion: privileged and optical cannot be constructed.
	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{
		fillStep("fill:email", "email", "x", plan.ModePrivileged, plan.ModeOptical, plan.ModeScripted),
	}}

	results, err := strategy.NewExecutor().Run(context.Background(), p, ec)
	require.NoError(t, err)
	require.Len(t, results, 1, "unavailable strategies leave only the terminal result")
	assert.Equal(t, plan.StatusFailed, results[0].Status)
	assert.Equal(t, plan.KindStrategyExhausted, results[0].ErrorKind)
	assert.Empty(t, results[0].StrategyUsed)
}

func TestRunSkipsDependentsOfFailedSteps(t *testing.T) {
	f := newFixture(t)
	target := &failingTarget{Harness: f.harness, err: errors.New("boom")}
	ec := f.execContext(target)

	first := fillStep("fill:first_name", "first_name", "Ada", plan.ModeStructural)
	second := fillStep("fill:email", "email", "ada@example.com", plan.ModeStructural)
	second.DependsOn = []string{first.ID}

	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{first, second}}
	results, err := strategy.NewExecutor().Run(context.Background(), p, ec)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, plan.KindStrategyExhausted, results[1].ErrorKind)
	assert.Equal(t, plan.StatusSkipped, results[2].Status)
	assert.Empty(t, results[2].ErrorKind, "dependency skips carry no error kind")
}

func TestRunSubmitGateBlocksSubmit(t *testing.T) {
	f := newFixture(t)
	ec := f.execContext(f.harness)
	ec.SubmitGate = func(context.Context) error { return plan.ErrQuotaExceeded }

	fill := fillStep("fill:first_name", "first_name", "Ada", plan.ModeStructural)
	submit := fillStep("submit", plan.SubmitKey, "", plan.ModeScripted)

	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{fill, submit}}
	results, err := strategy.NewExecutor().Run(context.Background(), p, ec)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, plan.StatusSuccess, results[0].Status, "fill steps run even when submission is blocked")
	assert.Equal(t, plan.StatusSkipped, results[1].Status)
	assert.Equal(t, plan.KindQuotaExceeded, results[1].ErrorKind)
}

func TestRunOpticalLowConfidence(t *testing.T) {
	f := newFixture(t)
	comp := &fakeCompanion{optical: &companion.ActionResponse{Success: false, Confidence: 0.4}}
	ec := f.execContext(f.harness)
	ec.Companion = comp
	ec.ConfidenceThreshold = 0.72

	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{
		fillStep("submit", plan.SubmitKey, "", plan.ModeOptical),
	}}

	results, err := strategy.NewExecutor().Run(context.Background(), p, ec)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, plan.StatusFailed, results[0].Status)
	assert.Equal(t, plan.KindLowOpticalConfidence, results[0].ErrorKind)
	assert.Equal(t, plan.KindStrategyExhausted, results[1].ErrorKind)
}

func TestRunWaitURLChange(t *testing.T) {
	f := newFixture(t)
	f.harness.OnSet = func(dom.Locator, string) {
		f.harness.SetURL("https://jobs.example.com/thanks")
	}
	ec := f.execContext(f.harness)

	step := fillStep("fill:first_name", "first_name", "Ada", plan.ModeStructural)
	step.WaitFor = &plan.WaitCondition{Kind: plan.WaitURLChange, TimeoutMs: 2000}

	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{step}}
	results, err := strategy.NewExecutor().Run(context.Background(), p, ec)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, plan.StatusSuccess, results[0].Status)
}

func TestRunWaitTimeout(t *testing.T) {
	f := newFixture(t)
	ec := f.execContext(f.harness)

	ghost := dom.Locator{Hops: []dom.Hop{{Tag: "html"}, {Tag: "body"}, {Tag: "div", Attributes: map[string]string{"id": "never-appears"}}}}
	step := fillStep("fill:first_name", "first_name", "Ada", plan.ModeStructural)
	step.WaitFor = &plan.WaitCondition{Kind: plan.WaitElementAppears, Locator: &ghost, TimeoutMs: 200}

	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{step}}
	start := time.Now()
	results, err := strategy.NewExecutor().Run(context.Background(), p, ec)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, results, 2)
	assert.Equal(t, plan.StatusFailed, results[0].Status)
	assert.Equal(t, plan.KindWaitTimeout, results[0].ErrorKind)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	ec := f.execContext(f.harness)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{
		fillStep("fill:first_name", "first_name", "Ada", plan.ModeStructural),
	}}
	results, err := strategy.NewExecutor().Run(ctx, p, ec)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestScriptedVerifyDetectsMismatch(t *testing.T) {
	f := newFixture(t)
	ec := f.execContext(f.harness)

	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{
		fillStep("fill:email", "email", "ada@example.com", plan.ModeScripted),
	}}
	results, err := strategy.NewExecutor().Run(context.Background(), p, ec)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, plan.StatusSuccess, results[0].Status, "scripted strategy verifies the applied value")

	node, err := f.locators["email"].Resolve(mustSnapshot(t, f.harness))
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", node.Attr("value"))
}

// brokenDriver reports a working screen but fails every physical action.
type brokenDriver struct{}

func (brokenDriver) ScreenSize() (int, int, error) { return 1920, 1080, nil }

func (brokenDriver) MoveAndClick(float64, float64, string, int) error {
	return errors.New("pointer grabbed")
}

func (brokenDriver) TypeText(string, time.Duration) error { return errors.New("keyboard grabbed") }
func (brokenDriver) Focus(float64, float64) error         { return errors.New("pointer grabbed") }
func (brokenDriver) Scroll(int, int) error                { return errors.New("pointer grabbed") }
func (brokenDriver) UploadFile(string) error              { return errors.New("dialog never opened") }
func (brokenDriver) CaptureScreen() ([]byte, error)       { return nil, errors.New("screen locked") }

func TestRunDriverFailureIsNotSuccess(t *testing.T) {
	f := newFixture(t)

	token := strings.Repeat("a", 32)
	srv, err := companion.NewServer(token, brokenDriver{}, nil, log.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	client, err := companion.NewClient(ts.URL, token, log.Nop())
	require.NoError(t, err)

	target := &failingTarget{Harness: f.harness, err: errors.New("page rejected mutation")}
	ec := f.execContext(target)
	ec.Companion = client

	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{
		fillStep("fill:email", "email", "ada@example.com",
			plan.ModeStructural, plan.ModePrivileged, plan.ModeOptical),
	}}

	results, err := strategy.NewExecutor().Run(context.Background(), p, ec)
	require.NoError(t, err)
	require.Len(t, results, 4, "structural, privileged, optical, terminal")

	assert.Equal(t, plan.ModePrivileged, results[1].StrategyUsed)
	assert.Equal(t, plan.StatusFailed, results[1].Status, "a refused physical action is never a success")
	assert.Equal(t, plan.KindUnknown, results[1].ErrorKind)

	assert.Equal(t, plan.ModeOptical, results[2].StrategyUsed, "failure falls through to the next strategy")
	assert.Equal(t, plan.StatusFailed, results[2].Status)
	assert.Equal(t, plan.KindStrategyExhausted, results[3].ErrorKind)

	node, err := f.locators["email"].Resolve(mustSnapshot(t, f.harness))
	require.NoError(t, err)
	assert.Empty(t, node.Attr("value"), "no value lands when every action was refused")
}

func TestRunOpticalEscalationApproved(t *testing.T) {
	f := newFixture(t)
	comp := &fakeCompanion{}
	comp.opticalFn = func(req companion.OpticalClickRequest) *companion.ActionResponse {
		if req.ConfidenceThreshold <= 0.5 {
			return &companion.ActionResponse{Success: true, Confidence: 0.5}
		}
		return &companion.ActionResponse{Success: false, Confidence: 0.5}
	}
	ec := f.execContext(f.harness)
	ec.Companion = comp
	ec.ConfidenceThreshold = 0.72

	prompts := 0
	ec.EscalateOptical = func(_ context.Context, label string, confidence float64) (bool, error) {
		prompts++
		assert.Equal(t, "Submit Application", label)
		assert.InDelta(t, 0.5, confidence, 1e-9)
		return true, nil
	}

	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{
		fillStep("submit", plan.SubmitKey, "", plan.ModeOptical),
	}}
	results, err := strategy.NewExecutor().Run(context.Background(), p, ec)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, plan.StatusSuccess, results[0].Status)
	assert.Equal(t, plan.ModeOptical, results[0].StrategyUsed)
	assert.Equal(t, 1, prompts, "the below-threshold match goes to a human exactly once")
}

func TestRunOpticalEscalationDenied(t *testing.T) {
	f := newFixture(t)
	comp := &fakeCompanion{optical: &companion.ActionResponse{Success: false, Confidence: 0.5}}
	ec := f.execContext(f.harness)
	ec.Companion = comp
	ec.ConfidenceThreshold = 0.72

	prompts := 0
	ec.EscalateOptical = func(context.Context, string, float64) (bool, error) {
		prompts++
		return false, nil
	}

	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{
		fillStep("submit", plan.SubmitKey, "", plan.ModeOptical),
	}}
	results, err := strategy.NewExecutor().Run(context.Background(), p, ec)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, plan.StatusFailed, results[0].Status)
	assert.Equal(t, plan.KindLowOpticalConfidence, results[0].ErrorKind)
	assert.Equal(t, 1, prompts)
}

const uploadFormPage = `<html><body>
<form>
  <label for="cv">Resume</label>
  <input type="file" id="cv" name="resume" style="left:100px;top:40px;width:200px;height:20px">
  <button type="submit" style="left:100px;top:80px;width:120px;height:30px">Submit Application</button>
</form>
</body></html>`

func newUploadFixture(t *testing.T) (*strategy.Harness, plan.TargetIndex, dom.Locator) {
	t.Helper()
	doc, err := dom.ParseHTML(strings.NewReader(uploadFormPage), "https://jobs.example.com/apply")
	require.NoError(t, err)

	var loc dom.Locator
	var walk func(n *dom.Node)
	walk = func(n *dom.Node) {
		if n == nil {
			return
		}
		if n.Attr("name") == "resume" {
			loc = dom.LocatorFor(n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(doc.Root)
	require.NotEmpty(t, loc.Hops)

	index := plan.TargetIndex{
		"resume": {{Key: "resume", Kind: detect.KindFile, Locator: loc, Visible: true, Label: "Resume"}},
	}
	return strategy.NewHarness(doc), index, loc
}

func TestRunAttachesFileStructurally(t *testing.T) {
	harness, index, loc := newUploadFixture(t)
	ec := &strategy.ExecContext{
		Target:   harness,
		Index:    index,
		Recorder: audit.NewMemoryRecorder(),
		Logger:   log.Nop(),
		Harness:  true,
	}

	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{
		fillStep("fill:resume", "resume", "/home/ada/resume.pdf", plan.ModeStructural),
	}}
	results, err := strategy.NewExecutor().Run(context.Background(), p, ec)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, plan.StatusSuccess, results[0].Status)
	assert.Equal(t, plan.ModeStructural, results[0].StrategyUsed)

	node, err := loc.Resolve(mustSnapshot(t, harness))
	require.NoError(t, err)
	assert.Equal(t, "/home/ada/resume.pdf", node.Attr("value"))
}

func TestRunUploadsFileThroughCompanion(t *testing.T) {
	harness, index, _ := newUploadFixture(t)
	comp := &fakeCompanion{}
	ec := &strategy.ExecContext{
		Target:    harness,
		Companion: comp,
		Index:     index,
		Recorder:  audit.NewMemoryRecorder(),
		Logger:    log.Nop(),
		Harness:   true,
	}

	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{
		fillStep("fill:resume", "resume", "/home/ada/resume.pdf", plan.ModePrivileged),
	}}
	results, err := strategy.NewExecutor().Run(context.Background(), p, ec)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, plan.StatusSuccess, results[0].Status)
	assert.Equal(t, plan.ModePrivileged, results[0].StrategyUsed)

	assert.Equal(t, 1, comp.clicks, "the input is clicked to open its dialog")
	assert.Equal(t, []string{"/home/ada/resume.pdf"}, comp.uploads)
}

func TestRunRecordsScreenshotRefs(t *testing.T) {
	f := newFixture(t)
	comp := &fakeCompanion{}
	ec := f.execContext(f.harness)
	ec.Companion = comp
	ec.Screenshot = func(_ context.Context, stepID string, mode plan.Mode) (string, error) {
		return fmt.Sprintf("shots/%s-%s.png", stepID, mode), nil
	}

	p := &plan.ActionPlan{ID: "plan-1", Steps: []plan.ActionStep{
		fillStep("fill:first_name", "first_name", "Ada", plan.ModePrivileged),
		fillStep("fill:email", "email", "ada@example.com", plan.ModeStructural),
	}}
	results, err := strategy.NewExecutor().Run(context.Background(), p, ec)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "shots/fill:first_name-privileged-input.png", results[0].ScreenshotRef)
	assert.Empty(t, results[1].ScreenshotRef, "structural attempts touch no screen")

	records := f.recorder.Records()
	require.Len(t, records, 2)
	assert.Equal(t, results[0].ScreenshotRef, records[0].ScreenshotRef)
}

func mustSnapshot(t *testing.T, target strategy.Target) *dom.Document {
	t.Helper()
	doc, err := target.Snapshot()
	require.NoError(t, err)
	return doc
}
