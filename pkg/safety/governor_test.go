package safety_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanaliuxing/dirtyapply/pkg/audit"
	"github.com/chanaliuxing/dirtyapply/pkg/log"
	"github.com/chanaliuxing/dirtyapply/pkg/plan"
	"github.com/chanaliuxing/dirtyapply/pkg/safety"
)

type stubConfirmer struct {
	ok  bool
	err error
}

func (c stubConfirmer) Confirm(_ context.Context, _ *plan.ActionPlan) (bool, error) {
	return c.ok, c.err
}

func newGovernor(cfg safety.Config, confirmer safety.Confirmer, rec audit.Recorder) *safety.Governor {
	return safety.NewGovernor(cfg, safety.NewMemoryQuotaStore(), confirmer, rec, log.Nop())
}

func TestCheckDomain(t *testing.T) {
	cfg := safety.Config{WhitelistDomains: []string{"jobs.example.com", ".greenhouse.io"}}

	tests := []struct {
		name   string
		origin string
		allow  bool
	}{
		{"exact match", "https://jobs.example.com", true},
		{"subdomain of whitelisted host", "https://apply.jobs.example.com", true},
		{"dot prefix entry matches bare domain", "https://greenhouse.io", true},
		{"dot prefix entry matches subdomain", "https://boards.greenhouse.io", true},
		{"unlisted host", "https://evil.example.net", false},
		{"suffix without dot boundary", "https://notjobs.example.community", false},
		{"empty origin", "", false},
		{"garbage origin", "::::", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := newGovernor(cfg, nil, nil).CheckDomain("plan-1", tc.origin)
			assert.Equal(t, tc.allow, d.Allow)
			assert.Equal(t, safety.GateDomain, d.Gate)
			if !tc.allow {
				assert.Equal(t, string(plan.KindDomainNotWhitelisted), d.Reason)
			}
		})
	}
}

func TestCheckDomainEmptyWhitelistDeniesEverything(t *testing.T) {
	d := newGovernor(safety.FailClosed(), nil, nil).CheckDomain("plan-1", "https://jobs.example.com")
	assert.False(t, d.Allow)
}

func TestCheckQuota(t *testing.T) {
	cfg := safety.Config{DailySubmissionMax: 1}
	g := newGovernor(cfg, nil, nil)
	day := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	first := g.CheckQuota(context.Background(), "plan-1", day)
	assert.True(t, first.Allow)

	second := g.CheckQuota(context.Background(), "plan-2", day)
	assert.False(t, second.Allow)
	assert.Equal(t, string(plan.KindQuotaExceeded), second.Reason)
}

func TestCheckQuotaZeroMax(t *testing.T) {
	g := newGovernor(safety.FailClosed(), nil, nil)
	d := g.CheckQuota(context.Background(), "plan-1", time.Now())
	assert.False(t, d.Allow)
}

func TestCheckConfirmation(t *testing.T) {
	p := &plan.ActionPlan{ID: "plan-1"}

	t.Run("not required", func(t *testing.T) {
		g := newGovernor(safety.Config{}, nil, nil)
		d := g.CheckConfirmation(context.Background(), p)
		assert.True(t, d.Allow)
	})

	t.Run("required without confirmer", func(t *testing.T) {
		g := newGovernor(safety.Config{ConfirmationRequired: true}, nil, nil)
		d := g.CheckConfirmation(context.Background(), p)
		assert.False(t, d.Allow)
		assert.Equal(t, string(plan.KindConfirmationDenied), d.Reason)
	})

	t.Run("approved", func(t *testing.T) {
		g := newGovernor(safety.Config{ConfirmationRequired: true}, stubConfirmer{ok: true}, nil)
		d := g.CheckConfirmation(context.Background(), p)
		assert.True(t, d.Allow)
	})

	t.Run("denied", func(t *testing.T) {
		g := newGovernor(safety.Config{ConfirmationRequired: true}, stubConfirmer{ok: false}, nil)
		d := g.CheckConfirmation(context.Background(), p)
		assert.False(t, d.Allow)
		assert.Equal(t, string(plan.KindConfirmationDenied), d.Reason)
	})

	t.Run("timeout", func(t *testing.T) {
		g := newGovernor(safety.Config{ConfirmationRequired: true}, stubConfirmer{err: context.DeadlineExceeded}, nil)
		d := g.CheckConfirmation(context.Background(), p)
		assert.False(t, d.Allow)
		assert.Equal(t, string(plan.KindConfirmationTimeout), d.Reason)
	})
}

func TestCheckOpticalEscalation(t *testing.T) {
	p := &plan.ActionPlan{ID: "plan-1"}

	t.Run("no confirmer denies", func(t *testing.T) {
		g := newGovernor(safety.Config{}, nil, nil)
		d := g.CheckOpticalEscalation(context.Background(), p, "Submit Application", 0.5)
		assert.False(t, d.Allow)
		assert.Equal(t, safety.GateOpticalEscalation, d.Gate)
		assert.Equal(t, string(plan.KindLowOpticalConfidence), d.Reason)
	})

	t.Run("approved", func(t *testing.T) {
		g := newGovernor(safety.Config{}, stubConfirmer{ok: true}, nil)
		d := g.CheckOpticalEscalation(context.Background(), p, "Submit Application", 0.5)
		assert.True(t, d.Allow)
	})

	t.Run("denied", func(t *testing.T) {
		g := newGovernor(safety.Config{}, stubConfirmer{ok: false}, nil)
		d := g.CheckOpticalEscalation(context.Background(), p, "Submit Application", 0.5)
		assert.False(t, d.Allow)
		assert.Equal(t, string(plan.KindLowOpticalConfidence), d.Reason)
	})

	t.Run("timeout", func(t *testing.T) {
		g := newGovernor(safety.Config{}, stubConfirmer{err: context.DeadlineExceeded}, nil)
		d := g.CheckOpticalEscalation(context.Background(), p, "Submit Application", 0.5)
		assert.False(t, d.Allow)
		assert.Equal(t, string(plan.KindConfirmationTimeout), d.Reason)
	})

	t.Run("decision is recorded", func(t *testing.T) {
		rec := audit.NewMemoryRecorder()
		g := newGovernor(safety.Config{}, stubConfirmer{ok: true}, rec)
		g.CheckOpticalEscalation(context.Background(), p, "Submit Application", 0.5)
		records := rec.Records()
		require.Len(t, records, 1)
		assert.Equal(t, safety.GateOpticalEscalation, records[0].Gate)
		assert.Equal(t, "allow", records[0].Decision)
	})
}

func TestGateDecisionsAreRecorded(t *testing.T) {
	rec := audit.NewMemoryRecorder()
	cfg := safety.Config{WhitelistDomains: []string{"example.com"}, ConfirmationRequired: true}
	g := safety.NewGovernor(cfg, safety.NewMemoryQuotaStore(), stubConfirmer{ok: true}, rec, log.Nop())

	g.CheckDomain("plan-1", "https://example.com")
	g.CheckQuota(context.Background(), "plan-1", time.Now())
	g.CheckConfirmation(context.Background(), &plan.ActionPlan{ID: "plan-1"})

	records := rec.Records()
	require.Len(t, records, 3)
	assert.Equal(t, safety.GateDomain, records[0].Gate)
	assert.Equal(t, "allow", records[0].Decision)
	assert.Equal(t, safety.GateQuota, records[1].Gate)
	assert.Equal(t, "deny", records[1].Decision, "quota max defaults to zero")
	assert.Equal(t, safety.GateConfirmation, records[2].Gate)
	assert.Equal(t, "allow", records[2].Decision)
	for _, r := range records {
		assert.Equal(t, audit.KindGate, r.Kind)
		assert.Equal(t, "plan-1", r.PlanID)
		assert.NotZero(t, r.TimestampMs)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Run("missing file fails closed", func(t *testing.T) {
		cfg, err := safety.LoadConfigFromFile(t.TempDir() + "/nope.yml")
		require.NoError(t, err)
		assert.Empty(t, cfg.WhitelistDomains)
		assert.Zero(t, cfg.DailySubmissionMax)
		assert.True(t, cfg.ConfirmationRequired)
	})

	t.Run("valid file", func(t *testing.T) {
		path := writeConfig(t, "whitelist_domains:\n  - jobs.example.com\ndaily_submission_max: 5\nconfirmation_required: true\n")
		cfg, err := safety.LoadConfigFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"jobs.example.com"}, cfg.WhitelistDomains)
		assert.Equal(t, 5, cfg.DailySubmissionMax)
		assert.True(t, cfg.ConfirmationRequired)
	})

	t.Run("invalid YAML fails closed with error", func(t *testing.T) {
		path := writeConfig(t, "whitelist_domains: [unterminated\n")
		cfg, err := safety.LoadConfigFromFile(path)
		require.Error(t, err)
		assert.True(t, cfg.ConfirmationRequired)
		assert.Zero(t, cfg.DailySubmissionMax)
	})

	t.Run("negative quota rejected", func(t *testing.T) {
		path := writeConfig(t, "daily_submission_max: -1\n")
		_, err := safety.LoadConfigFromFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "daily_submission_max")
	})

	t.Run("empty whitelist entry rejected", func(t *testing.T) {
		path := writeConfig(t, "whitelist_domains:\n  - \"\"\n")
		_, err := safety.LoadConfigFromFile(path)
		require.Error(t, err)
	})
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "safety.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}
