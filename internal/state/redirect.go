package state

import (
	"context"
	"fmt"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/metrics"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/netif"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/pfctl"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/report"
)

// EnableRedirect loads redirect rules for the selected interfaces into the
// anchor and turns pf on. With no valid interface it fails before touching
// pf.
func (m *Manager) EnableRedirect(ctx context.Context) *report.ActionReport {
	return m.run(ctx, ActionEnableRedirect, true, func(ctx context.Context, r *report.ActionReport) {
		if _, ok := m.locateBinary(ctx, r); !ok {
			return
		}

		m.step(r.Action, "selecting interfaces")
		sel, err := m.Inventory.ListCandidates(ctx, m.Config.Interfaces)
		if err != nil {
			r.Fail(report.KindExternal, "%v", err)
			return
		}
		r.Used = sel.Names()
		for _, rej := range sel.Invalid {
			r.Skipped = append(r.Skipped, fmt.Sprintf("%s (%s)", rej.Name, rej.Reason))
		}
		if len(sel.Valid) == 0 {
			r.Fail(report.KindValidation, "%v", netif.ErrNoInterfaces)
			return
		}

		m.step(r.Action, "compiling rules")
		rs, err := pfctl.Compile(sel.Valid, m.Config.Port)
		if err != nil {
			r.Fail(report.KindValidation, "%v", err)
			return
		}
		r.RuleText = rs.Text

		m.step(r.Action, fmt.Sprintf("loading anchor %q", m.Config.Anchor))
		res, err := m.Filter.Apply(ctx, m.Config.Anchor, rs)
		if err != nil {
			r.Add(report.Failed("redirect rules", err))
			r.Fail(report.KindExternal, "%v", err)
			return
		}
		if res.Changed {
			r.Add(report.OK("redirect rules"))
		} else {
			r.Add(report.Item{Name: "redirect rules", Status: report.ItemOK, Detail: "unchanged"})
		}

		m.step(r.Action, "enabling packet filter")
		enabled, err := m.Filter.EnsureEnabled(ctx)
		switch {
		case err != nil:
			r.Add(report.Failed("packet filter", err))
			r.Fail(report.KindExternal, "%v", err)
		case enabled:
			r.Add(report.OK("packet filter"))
		default:
			r.Add(report.Item{Name: "packet filter", Status: report.ItemOK, Detail: "already enabled"})
		}
	})
}

// DisableRedirect flushes the anchor and discards the rule artifact. Nothing
// to remove is a success.
func (m *Manager) DisableRedirect(ctx context.Context) *report.ActionReport {
	return m.run(ctx, ActionDisableRedirect, true, func(ctx context.Context, r *report.ActionReport) {
		m.removeRedirect(ctx, r)
		settle(r)
	})
}

func (m *Manager) removeRedirect(ctx context.Context, r *report.ActionReport) {
	m.step(r.Action, fmt.Sprintf("flushing anchor %q", m.Config.Anchor))
	r.Add(removal("redirect rules", report.NothingToRemove)(m.Filter.Remove(ctx, m.Config.Anchor)))

	m.step(r.Action, "discarding rule file")
	r.Add(removal("rule file", report.NothingToRemove)(m.Filter.RemoveRuleFile()))
}

// RedirectStatus reports the pf part of Status.
func (m *Manager) RedirectStatus(ctx context.Context) *report.ActionReport {
	return m.run(ctx, ActionRedirectStatus, false, func(ctx context.Context, r *report.ActionReport) {
		st := &report.StatusReport{Anchor: m.Config.Anchor, RedirectOnly: true}
		m.filterStatus(ctx, st)
		r.Status = st
	})
}

func (m *Manager) filterStatus(ctx context.Context, st *report.StatusReport) {
	pf := m.Filter.Status(ctx, m.Config.Anchor)
	st.PacketFilterEnabled = pf.FilterEnabled
	st.RedirectRulesActive = pf.GroupHasRules
	metrics.SetState(metrics.RedirectActive, pf.GroupHasRules == report.True, pf.GroupHasRules != report.Unknown)
}
