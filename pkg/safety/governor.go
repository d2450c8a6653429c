package safety

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/chanaliuxing/dirtyapply/pkg/audit"
	"github.com/chanaliuxing/dirtyapply/pkg/plan"
	"github.com/chanaliuxing/dirtyapply/pkg/types"
)

// Gate names used in audit records.
const (
	GateDomain            = "domain"
	GateQuota             = "quota"
	GateConfirmation      = "confirmation"
	GateOpticalEscalation = "optical-escalation"
)

// Decision is the outcome of one gate check.
type Decision struct {
	Gate   string
	Allow  bool
	Reason string
}

// Confirmer supplies the external human-approval signal for submit steps.
type Confirmer interface {
	Confirm(ctx context.Context, p *plan.ActionPlan) (bool, error)
}

// Governor enforces the whitelist, quota, and confirmation gates. Every
// decision is audit-logged with its reason.
type Governor struct {
	cfg       Config
	store     QuotaStore
	confirmer Confirmer
	recorder  audit.Recorder
	logger    types.Logger
}

func NewGovernor(cfg Config, store QuotaStore, confirmer Confirmer, recorder audit.Recorder, logger types.Logger) *Governor {
	return &Governor{cfg: cfg, store: store, confirmer: confirmer, recorder: recorder, logger: logger}
}

// CheckDomain verifies the page origin against the whitelist by exact or
// dot-suffix host match. A deny aborts the entire plan before any step
// executes.
func (g *Governor) CheckDomain(planID, pageOrigin string) Decision {
	host := originHost(pageOrigin)
	allowed := false
	if host != "" {
		for _, d := range g.cfg.WhitelistDomains {
			if hostMatches(host, d) {
				allowed = true
				break
			}
		}
	}
	d := Decision{Gate: GateDomain, Allow: allowed, Reason: "origin " + pageOrigin + " whitelisted"}
	if !allowed {
		d.Reason = string(plan.KindDomainNotWhitelisted)
	}
	g.record(planID, d)
	return d
}

// CheckQuota reads and, only on allow, atomically increments the day's
// counter. A deny aborts only the submit step; fill steps still run so the
// user can review a filled-but-unsubmitted form.
func (g *Governor) CheckQuota(ctx context.Context, planID string, day time.Time) Decision {
	allowed, err := g.store.IncrementIfBelow(ctx, DateKey(day), g.cfg.DailySubmissionMax)
	d := Decision{Gate: GateQuota, Allow: allowed && err == nil}
	switch {
	case err != nil:
		d.Reason = "quota store error: " + err.Error()
	case !allowed:
		d.Reason = string(plan.KindQuotaExceeded)
	default:
		d.Reason = "submission quota available"
	}
	g.record(planID, d)
	return d
}

// CheckConfirmation blocks on the external approval signal before a submit
// step is dispatched. Deny and timeout both refuse, with distinct reasons.
func (g *Governor) CheckConfirmation(ctx context.Context, p *plan.ActionPlan) Decision {
	d := Decision{Gate: GateConfirmation}
	switch {
	case !g.cfg.ConfirmationRequired:
		d.Allow = true
		d.Reason = "confirmation not required"
	case g.confirmer == nil:
		d.Reason = string(plan.KindConfirmationDenied)
	default:
		ok, err := g.confirmer.Confirm(ctx, p)
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			d.Reason = string(plan.KindConfirmationTimeout)
		case err != nil:
			d.Reason = string(plan.KindConfirmationDenied)
		case ok:
			d.Allow = true
			d.Reason = "user approved submission"
		default:
			d.Reason = string(plan.KindConfirmationDenied)
		}
	}
	g.record(p.ID, d)
	return d
}

// CheckOpticalEscalation asks the confirmer whether a below-threshold optical
// match may be clicked anyway. Without a confirmer the answer is always no.
func (g *Governor) CheckOpticalEscalation(ctx context.Context, p *plan.ActionPlan, label string, confidence float64) Decision {
	d := Decision{Gate: GateOpticalEscalation}
	if g.confirmer == nil {
		d.Reason = string(plan.KindLowOpticalConfidence)
		g.record(p.ID, d)
		return d
	}
	ok, err := g.confirmer.Confirm(ctx, p)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		d.Reason = string(plan.KindConfirmationTimeout)
	case err != nil || !ok:
		d.Reason = string(plan.KindLowOpticalConfidence)
	default:
		d.Allow = true
		d.Reason = "user approved low-confidence optical click of " + label
	}
	g.logger.Info().
		Str("label", label).
		Float64("confidence", confidence).
		Bool("approved", d.Allow).
		Msg("Optical escalation decided")
	g.record(p.ID, d)
	return d
}

func (g *Governor) record(planID string, d Decision) {
	decision := "deny"
	if d.Allow {
		decision = "allow"
	}
	g.logger.Info().
		Str("gate", d.Gate).
		Str("decision", decision).
		Str("reason", d.Reason).
		Msg("Safety gate decision")
	if g.recorder == nil {
		return
	}
	if err := g.recorder.Append(audit.Record{
		Kind:     audit.KindGate,
		PlanID:   planID,
		Gate:     d.Gate,
		Decision: decision,
		Reason:   d.Reason,
	}); err != nil {
		g.logger.Error().Err(err).Msg("Failed to append gate decision to audit trail")
	}
}

func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func hostMatches(host, domain string) bool {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	return host == domain || strings.HasSuffix(host, "."+domain)
}
